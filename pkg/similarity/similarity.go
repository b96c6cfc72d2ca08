// Package similarity scores how close two descriptions are, in [0,1].
package similarity

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"
)

var (
	errDimensionMismatch = errors.New("vectors differ in length")
	errZeroVector        = errors.New("zero-length or zero-norm vector")
)

// Encoder is the capability the engine needs from an embedding encoder.
type Encoder interface {
	IsAvailable() bool
	Encode(ctx context.Context, text string) ([]float32, bool)
	Warm(ctx context.Context, texts []string) int
}

// Engine picks cosine similarity over encoder vectors when the encoder is
// available, and token Jaccard otherwise.
type Engine struct {
	encoder Encoder
	logger  *zap.Logger
}

// NewEngine creates an engine. A nil encoder means lexical similarity only.
func NewEngine(encoder Encoder, logger *zap.Logger) *Engine {
	return &Engine{
		encoder: encoder,
		logger:  logger.Named("similarity"),
	}
}

// Semantic reports whether the engine is currently scoring with vectors.
func (e *Engine) Semantic() bool {
	return e.encoder != nil && e.encoder.IsAvailable()
}

// Warm pre-encodes texts so a following scan does not pay per-text latency.
func (e *Engine) Warm(ctx context.Context, texts []string) {
	if !e.Semantic() {
		return
	}
	if n := e.encoder.Warm(ctx, texts); n > 0 {
		e.logger.Debug("Warmed vector cache", zap.Int("texts", n))
	}
}

// Score returns a score in [0,1]. It never fails: any encoder or arithmetic
// problem falls back to Jaccard for that pair. degraded reports that the pair
// was scored lexically only because a call to an otherwise available encoder
// failed, so the score may differ once the backend recovers. Scores from an
// unavailable encoder are never degraded: they stay lexical for the life of
// the process.
func (e *Engine) Score(ctx context.Context, a, b string) (score float64, degraded bool) {
	if !e.Semantic() {
		return Jaccard(a, b), false
	}

	na, nb := normalize(a), normalize(b)
	if na != "" && na == nb {
		return 1.0, false
	}

	va, ok := e.encoder.Encode(ctx, a)
	if !ok {
		return Jaccard(a, b), na != ""
	}
	vb, ok := e.encoder.Encode(ctx, b)
	if !ok {
		return Jaccard(a, b), nb != ""
	}

	score, err := Cosine(va, vb)
	if err != nil {
		e.logger.Debug("Cosine failed, using lexical similarity", zap.Error(err))
		return Jaccard(a, b), false
	}
	return score, false
}

// Cosine returns the cosine similarity of a and b clamped to [0,1].
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errDimensionMismatch
	}
	if len(a) == 0 {
		return 0, errZeroVector
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, errZeroVector
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, errors.New("cosine is not finite")
	}
	return clamp(score), nil
}

// Jaccard returns |A ∩ B| / |A ∪ B| over the lowercased whitespace tokens of
// a and b. An empty token set on either side scores 0.
func Jaccard(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
