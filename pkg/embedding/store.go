package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// VectorStore is a persistent second cache tier behind the in-memory cache.
type VectorStore interface {
	Get(key string) ([]float32, bool, error)
	Put(key string, vector []float32) error
	Close() error
}

// BadgerStore persists vectors in an embedded badger database keyed by
// "<model>|<normalised text>", so vectors survive restarts for the same model.
type BadgerStore struct {
	db    *badger.DB
	model string
}

// OpenBadgerStore opens (or creates) the badger database at path.
func OpenBadgerStore(path, model string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(&badgerLogger{logger: logger.Named("badger").Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store at %s: %w", path, err)
	}
	return &BadgerStore{db: db, model: model}, nil
}

func (s *BadgerStore) key(text string) []byte {
	return []byte(s.model + "|" + text)
}

// Get returns the stored vector for key.
func (s *BadgerStore) Get(key string) ([]float32, bool, error) {
	var vector []float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			vector = v
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read vector: %w", err)
	}
	return vector, true, nil
}

// Put stores vector under key, replacing any previous value.
func (s *BadgerStore) Put(key string, vector []float32) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), encodeVector(vector))
	})
	if err != nil {
		return fmt.Errorf("failed to write vector: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(buf))
	}
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector, nil
}

// badgerLogger routes badger's internal logging into zap.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }
