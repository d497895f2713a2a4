package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// LimitedEmbedder wraps an Embedder with a shared token bucket and a
// per-call timeout.
type LimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
	timeout time.Duration
}

var _ Embedder = (*LimitedEmbedder)(nil)

// NewLimitedEmbedder limits next to requestsPerMinute calls (zero means
// unlimited) and bounds each call by timeout (zero means no timeout).
func NewLimitedEmbedder(next Embedder, requestsPerMinute int, timeout time.Duration) *LimitedEmbedder {
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
		burst = max(1, requestsPerMinute/60)
	}
	return &LimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

func (l *LimitedEmbedder) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	if l.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// EmbedText waits for a token, then embeds one text.
func (l *LimitedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return l.next.EmbedText(ctx, text)
}

// EmbedTexts waits for a single token for the whole batch.
func (l *LimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return l.next.EmbedTexts(ctx, texts)
}

// EmbedImage waits for a token, then embeds one image.
func (l *LimitedEmbedder) EmbedImage(ctx context.Context, ref string) ([]float32, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return l.next.EmbedImage(ctx, ref)
}

// ModelName returns the wrapped embedder's model.
func (l *LimitedEmbedder) ModelName() string {
	return l.next.ModelName()
}
