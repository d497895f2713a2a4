package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingCall fails with errs in order, then succeeds.
type failingCall struct {
	errs  []error
	calls int
}

func (f *failingCall) run() error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

func TestRetryIf_Classification(t *testing.T) {
	rateLimited := &ai.ProviderError{Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}
	badRequest := &ai.ProviderError{Provider: "openai", StatusCode: 400, Err: errors.New("input too long")}
	unavailable := fmt.Errorf("upsert vectors: %w", storage.ErrUnavailable)

	tests := []struct {
		name      string
		retryable func(error) bool
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{"rate limit then success", ai.IsTransient, []error{rateLimited, rateLimited}, nil, 3},
		{"provider 503", ai.IsTransient, []error{&ai.ProviderError{Provider: "nim", StatusCode: 503, Err: errors.New("busy")}}, nil, 2},
		{"bad request is final", ai.IsTransient, []error{badRequest, rateLimited}, badRequest, 1},
		{"rate limit exhausts attempts", ai.IsTransient, []error{rateLimited, rateLimited, rateLimited, rateLimited}, rateLimited, 3},
		{"store unavailable then success", storage.IsTransient, []error{unavailable}, nil, 2},
		{"dimension mismatch is final", storage.IsTransient, []error{storage.ErrDimensionMismatch}, storage.ErrDimensionMismatch, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &failingCall{errs: tt.errs}
			err := RetryIf(context.Background(), call.run, tt.retryable, 3, time.Millisecond)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, call.calls)
		})
	}
}

func TestRetryIf_RateLimitMatchesSentinel(t *testing.T) {
	call := &failingCall{errs: []error{
		&ai.ProviderError{Provider: "openai", StatusCode: 429, Err: errors.New("quota")},
		&ai.ProviderError{Provider: "openai", StatusCode: 429, Err: errors.New("quota")},
	}}
	err := RetryIf(context.Background(), call.run, ai.IsTransient, 2, time.Millisecond)
	assert.ErrorIs(t, err, ai.ErrRateLimited)
	assert.Equal(t, 2, call.calls)
}

func TestRetryIf_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	call := &failingCall{errs: []error{storage.ErrUnavailable, storage.ErrUnavailable}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := RetryIf(ctx, call.run, storage.IsTransient, 5, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, call.calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryIf_CanceledErrorIsNotRetried(t *testing.T) {
	call := &failingCall{errs: []error{fmt.Errorf("embed: %w", context.Canceled)}}
	err := RetryIf(context.Background(), call.run, ai.IsTransient, 5, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, call.calls)
}

func TestRetryIf_BackoffDoubles(t *testing.T) {
	var stamps []time.Time
	op := func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 4 {
			return storage.ErrUnavailable
		}
		return nil
	}

	require.NoError(t, RetryIf(context.Background(), op, storage.IsTransient, 4, 10*time.Millisecond))
	require.Len(t, stamps, 4)
	// Sleeps are 10ms, 20ms and 40ms.
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 10*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[3].Sub(stamps[2]), 40*time.Millisecond)
}

func TestRetryWithBackoff_RetriesAnyError(t *testing.T) {
	call := &failingCall{errs: []error{errors.New("opaque"), errors.New("opaque")}}
	require.NoError(t, RetryWithBackoff(context.Background(), call.run, 3, time.Millisecond))
	assert.Equal(t, 3, call.calls)
}

func TestRetryIf_InvalidAttempts(t *testing.T) {
	for _, attempts := range []int{0, -1} {
		call := &failingCall{}
		err := RetryIf(context.Background(), call.run, ai.IsTransient, attempts, time.Millisecond)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Zero(t, call.calls)
	}
}
