package similarity

import (
	"context"
	"crypto/md5"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"drift_spider/internal/models"
)

const cacheLimit = 256

// Engine scores how close two texts are by the cosine of their embeddings.
type Engine struct {
	embedder Embedder

	mu    sync.Mutex
	cache map[[md5.Size]byte][]float32
}

func NewEngine(embedder Embedder) *Engine {
	return &Engine{
		embedder: embedder,
		cache:    make(map[[md5.Size]byte][]float32),
	}
}

var (
	sharedOnce   sync.Once
	sharedEngine *Engine
	sharedErr    error
)

// Shared returns the process-wide engine, building it with factory on the
// first call. Later calls ignore factory. Loading a model or client happens
// once; there is no teardown.
func Shared(factory func() (Embedder, error)) (*Engine, error) {
	sharedOnce.Do(func() {
		start := time.Now()
		embedder, err := factory()
		if err != nil {
			sharedErr = err
			return
		}
		sharedEngine = NewEngine(embedder)
		slog.Info("similarity engine ready", slog.Duration("took", time.Since(start)))
	})
	return sharedEngine, sharedErr
}

// Score returns the cosine similarity of a and b in [0,1]. Blank input
// scores 0 without calling the embedder.
func (e *Engine) Score(ctx context.Context, a, b string) (float64, error) {
	va, err := e.embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return Cosine(va, vb), nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	key := md5.Sum([]byte(text))
	e.mu.Lock()
	v, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.cache) >= cacheLimit {
		clear(e.cache)
	}
	e.cache[key] = v
	e.mu.Unlock()
	return v, nil
}

// Cosine is the cosine similarity of two vectors clamped to [0,1]. Empty,
// zero or mismatched vectors give 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case math.IsNaN(sim), sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}

// Classify buckets a score. Boundaries belong to the lower bucket.
func Classify(score *float64) models.Status {
	if score == nil {
		return models.StatusNoData
	}
	switch s := *score; {
	case s > 0.95:
		return models.StatusExcellent
	case s > 0.85:
		return models.StatusMinor
	case s > 0.70:
		return models.StatusPartial
	default:
		return models.StatusPoor
	}
}
