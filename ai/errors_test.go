package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestProviderError_RateLimited(t *testing.T) {
	err := fmt.Errorf("embedding batch: %w", &ProviderError{Provider: "nim", StatusCode: 429, Err: errors.New("slow down")})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "status 429")

	err = &ProviderError{Provider: "nim", StatusCode: 500, Err: errors.New("boom")}
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &ProviderError{StatusCode: 429, Err: errors.New("x")}, true},
		{"request timeout", &ProviderError{StatusCode: 408, Err: errors.New("x")}, true},
		{"server error", &ProviderError{StatusCode: 503, Err: errors.New("x")}, true},
		{"bad request", &ProviderError{StatusCode: 400, Err: errors.New("x")}, false},
		{"unauthorized", &ProviderError{StatusCode: 401, Err: errors.New("x")}, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"plain", errors.New("invalid model"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifyHTTPError(t *testing.T) {
	assert.NoError(t, ClassifyHTTPError("openai", nil))

	err := ClassifyHTTPError("openai", errors.New("API returned unexpected status code: 429: too many requests"))
	var perr *ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, 429, perr.StatusCode)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsTransient(err))

	err = ClassifyHTTPError("ollama", errors.New("model not found"))
	assert.ErrorAs(t, err, &perr)
	assert.Zero(t, perr.StatusCode)
	assert.False(t, IsTransient(err))

	original := &ProviderError{Provider: "x", StatusCode: 502, Err: errors.New("bad gateway")}
	assert.Same(t, original, ClassifyHTTPError("y", original))
}

func TestBatchError(t *testing.T) {
	err := &BatchError{Failed: map[int]error{2: errors.New("too long"), 0: errors.New("empty")}}
	assert.Equal(t, "2 of batch failed: input 0: empty; input 2: too long", err.Error())

	var berr *BatchError
	assert.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &berr)
	assert.Len(t, berr.Failed, 2)
}

func TestLimitedEmbedder_Timeout(t *testing.T) {
	slow := &stubEmbedder{
		embed: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	limited := NewLimitedEmbedder(slow, 0, 20*time.Millisecond)

	_, err := limited.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.Equal(t, "stub", limited.ModelName())
}

func TestLimitedEmbedder_WaitHonoursContext(t *testing.T) {
	calls := 0
	stub := &stubEmbedder{embed: func(context.Context) error { calls++; return nil }}
	limited := NewLimitedEmbedder(stub, 1, 0)

	_, err := limited.EmbedText(context.Background(), "first")
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.EmbedText(ctx, "second")
	assert.Error(t, err, "second call must wait about a minute for a token")
	assert.Equal(t, 1, calls)
}

type stubEmbedder struct {
	embed func(ctx context.Context) error
}

func (s *stubEmbedder) EmbedText(ctx context.Context, _ string) ([]float32, error) {
	return []float32{1}, s.embed(ctx)
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.embed(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedImage(ctx context.Context, _ string) ([]float32, error) {
	return nil, ErrImagesUnsupported
}

func (s *stubEmbedder) ModelName() string { return "stub" }
