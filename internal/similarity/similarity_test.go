package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"drift_spider/internal/config"
	"drift_spider/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedder maps text to letter frequencies.
type letterEmbedder struct {
	calls int
	err   error
}

func (l *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func ptr(f float64) *float64 { return &f }

func TestClassify(t *testing.T) {
	tests := []struct {
		score *float64
		want  models.Status
	}{
		{nil, models.StatusNoData},
		{ptr(0.97), models.StatusExcellent},
		{ptr(1), models.StatusExcellent},
		{ptr(0.95), models.StatusMinor},
		{ptr(0.9), models.StatusMinor},
		{ptr(0.85), models.StatusPartial},
		{ptr(0.71), models.StatusPartial},
		{ptr(0.70), models.StatusPoor},
		{ptr(0), models.StatusPoor},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score))
	}
}

func TestClassifyPartitionsUnitInterval(t *testing.T) {
	order := map[models.Status]int{
		models.StatusPoor: 0, models.StatusPartial: 1, models.StatusMinor: 2, models.StatusExcellent: 3,
	}
	prev := 0
	for i := 0; i <= 1000; i++ {
		s := float64(i) / 1000
		rank, ok := order[Classify(&s)]
		require.True(t, ok)
		assert.GreaterOrEqual(t, rank, prev)
		assert.Equal(t, Classify(&s), Classify(&s))
		prev = rank
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{-1, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.InDelta(t, math.Sqrt(0.5), Cosine([]float32{1, 1}, []float32{1, 0}), 1e-9)
}

func TestEngineScore(t *testing.T) {
	emb := &letterEmbedder{}
	engine := NewEngine(emb)
	ctx := context.Background()

	score, err := engine.Score(ctx, "abc", "abc")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, 1, emb.calls, "identical text is embedded once")

	score, err = engine.Score(ctx, "", "abc")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	score, err = engine.Score(ctx, "aaaa", "zzzz")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestEngineScoreError(t *testing.T) {
	boom := errors.New("backend down")
	_, err := NewEngine(&letterEmbedder{err: boom}).Score(context.Background(), "a", "b")
	assert.ErrorIs(t, err, boom)
}

func TestShared(t *testing.T) {
	calls := 0
	factory := func() (Embedder, error) {
		calls++
		return &letterEmbedder{}, nil
	}

	first, err := Shared(factory)
	require.NoError(t, err)
	second, err := Shared(factory)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestTruncateShortText(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	assert.Equal(t, "anything", Truncate("anything", 0))
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Input)
		assert.Equal(t, "test-embed", req.Model)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"test-embed"}`))
	}))
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(config.EmbeddingConfig{BaseURL: srv.URL + "/v1", Model: "test-embed", MaxTokens: 100})
	require.NoError(t, err)

	v, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v)
}

func TestNewOpenAIEmbedderNotConfigured(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
