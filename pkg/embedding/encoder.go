// Package embedding maps texts to dense vectors through an embedding backend
// and caches the result per normalised text.
package embedding

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/llm"
)

// initText is embedded once at construction to check the backend and learn
// the vector dimensionality.
const initText = "price list sample"

// FailureKind names why initialisation left the encoder unavailable.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureConfig    FailureKind = "config"
	FailureBackend   FailureKind = "backend"
	FailureDimension FailureKind = "dimension"
	FailurePanic     FailureKind = "panic"
)

// Options configures an Encoder.
type Options struct {
	// CacheSize bounds the in-memory LRU cache. Zero means unbounded.
	CacheSize int
	// BatchSize is the number of texts sent per backend call by Warm.
	BatchSize int
	// InitTimeout bounds the one-shot backend check at construction.
	InitTimeout time.Duration
	// Store is an optional persistent cache tier.
	Store VectorStore
	// Pool bounds concurrent backend calls during Warm. Optional.
	Pool *llm.WorkerPool
	// Breaker guards per-call failures after initialisation. Optional.
	Breaker *llm.CircuitBreaker
}

// Encoder produces dense vectors for texts, or reports that encoding is
// unavailable. Initialisation is attempted once, at construction; a failed
// encoder stays unavailable for its lifetime and never retries.
type Encoder struct {
	client  llm.EmbeddingClient
	dims    int
	failure FailureKind
	cache   *vectorCache
	store   VectorStore
	pool    *llm.WorkerPool
	breaker *llm.CircuitBreaker
	batch   int
	logger  *zap.Logger

	storeWarnOnce sync.Once
}

// NewEncoder checks client and returns an Encoder. It never fails: a nil
// client, a backend error, an empty initial vector or a panic inside the client
// all yield an unavailable encoder, reported once at warn level.
func NewEncoder(ctx context.Context, client llm.EmbeddingClient, opts Options, logger *zap.Logger) *Encoder {
	e := &Encoder{
		cache:   newVectorCache(opts.CacheSize),
		store:   opts.Store,
		pool:    opts.Pool,
		breaker: opts.Breaker,
		batch:   opts.BatchSize,
		logger:  logger.Named("encoder"),
	}
	if e.batch < 1 {
		e.batch = 64
	}
	if e.pool == nil {
		e.pool = llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger)
	}
	if e.breaker == nil {
		e.breaker = llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	}

	kind, err := e.initialise(ctx, client, opts.InitTimeout)
	if kind != FailureNone {
		e.failure = kind
		e.logger.Warn("Encoder unavailable, similarity falls back to lexical matching",
			zap.String("failure", string(kind)),
			zap.Error(err))
		return e
	}

	e.client = client
	e.logger.Info("Encoder ready",
		zap.String("model", client.GetModel()),
		zap.Int("dimensions", e.dims))
	return e
}

func (e *Encoder) initialise(ctx context.Context, client llm.EmbeddingClient, timeout time.Duration) (kind FailureKind, err error) {
	if client == nil {
		return FailureConfig, fmt.Errorf("no embedding backend configured")
	}

	defer func() {
		if r := recover(); r != nil {
			kind = FailurePanic
			err = fmt.Errorf("embedding backend panicked: %v", r)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vector, err := client.CreateEmbedding(ctx, initText)
	if err != nil {
		return FailureBackend, err
	}
	if len(vector) == 0 {
		return FailureDimension, fmt.Errorf("embedding backend returned an empty vector")
	}

	e.dims = len(vector)
	return FailureNone, nil
}

// IsAvailable reports whether the encoder initialised successfully.
func (e *Encoder) IsAvailable() bool {
	return e.client != nil
}

// Failure returns why initialisation failed, or FailureNone.
func (e *Encoder) Failure() FailureKind {
	return e.failure
}

// Err returns nil when the encoder is available, otherwise an error wrapping
// apperrors.ErrEncoderUnavailable that names the failure kind.
func (e *Encoder) Err() error {
	if e.IsAvailable() {
		return nil
	}
	return fmt.Errorf("%w: %s", apperrors.ErrEncoderUnavailable, e.failure)
}

// Dimensions returns the vector length, zero when unavailable.
func (e *Encoder) Dimensions() int {
	return e.dims
}

// CacheLen returns the number of vectors held in memory.
func (e *Encoder) CacheLen() int {
	return e.cache.len()
}

// Encode returns the vector for text. ok is false when the encoder is
// unavailable, text is blank, or the backend call failed; callers then fall
// back to lexical similarity. Within a process the same normalised text
// always yields the same vector.
func (e *Encoder) Encode(ctx context.Context, text string) (vector []float32, ok bool) {
	key := Normalize(text)
	if key == "" || !e.IsAvailable() {
		return nil, false
	}

	if v, hit := e.lookup(key); hit {
		return v, true
	}

	if !e.breaker.Allow() {
		return nil, false
	}

	v, err := e.call(ctx, []string{key})
	if err != nil {
		e.breaker.RecordFailure()
		e.logger.Debug("Encode failed", zap.Error(err))
		return nil, false
	}
	e.breaker.RecordSuccess()

	return e.remember(key, v[0]), true
}

// Warm encodes every uncached text in batches, bounded by the worker pool.
// It returns how many new vectors were cached. Failures are logged and
// otherwise ignored: Encode retries those texts individually.
func (e *Encoder) Warm(ctx context.Context, texts []string) int {
	if !e.IsAvailable() || len(texts) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(texts))
	var missing []string
	for _, t := range texts {
		key := Normalize(t)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, hit := e.lookup(key); !hit {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 || !e.breaker.Allow() {
		return 0
	}

	var items []llm.WorkItem[int]
	for start := 0; start < len(missing); start += e.batch {
		end := min(start+e.batch, len(missing))
		chunk := missing[start:end]
		items = append(items, llm.WorkItem[int]{
			ID: "batch-" + strconv.Itoa(start/e.batch),
			Execute: func(ctx context.Context) (int, error) {
				vectors, err := e.call(ctx, chunk)
				if err != nil {
					return 0, err
				}
				for i, key := range chunk {
					e.remember(key, vectors[i])
				}
				return len(chunk), nil
			},
		})
	}

	warmed, failed := 0, 0
	for _, r := range llm.Process(ctx, e.pool, items) {
		if r.Err != nil {
			failed++
			continue
		}
		warmed += r.Result
	}

	if failed > 0 {
		e.breaker.RecordFailure()
		e.logger.Warn("Some embedding batches failed during warm-up",
			zap.Int("failed_batches", failed),
			zap.Int("total_batches", len(items)))
	} else {
		e.breaker.RecordSuccess()
	}
	return warmed
}

// call sends texts to the backend and checks every vector has the initial dimensionality.
func (e *Encoder) call(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			vectors, err = nil, fmt.Errorf("embedding backend panicked: %v", r)
		}
	}()

	vectors, err = e.client.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != e.dims {
			return nil, fmt.Errorf("vector has %d dimensions, expected %d", len(v), e.dims)
		}
	}
	return vectors, nil
}

func (e *Encoder) lookup(key string) ([]float32, bool) {
	if v, ok := e.cache.get(key); ok {
		return v, true
	}
	if e.store == nil {
		return nil, false
	}

	v, ok, err := e.store.Get(key)
	if err != nil {
		e.warnStore(err)
		return nil, false
	}
	if !ok || len(v) != e.dims {
		return nil, false
	}
	return e.cache.put(key, v), true
}

func (e *Encoder) remember(key string, v []float32) []float32 {
	kept := e.cache.put(key, v)
	if e.store != nil {
		if err := e.store.Put(key, kept); err != nil {
			e.warnStore(err)
		}
	}
	return kept
}

func (e *Encoder) warnStore(err error) {
	e.storeWarnOnce.Do(func() {
		e.logger.Warn("Persistent vector store failing, continuing with in-memory cache", zap.Error(err))
	})
}
