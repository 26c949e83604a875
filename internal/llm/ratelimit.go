package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// newLimiter converts a per-minute budget into a token bucket. Zero means unlimited.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), 1)
}

// Limited wraps a client so every call waits for the limiter first.
type Limited struct {
	Client
	limiter *rate.Limiter
}

// WithRateLimit bounds calls to perMinute requests.
func WithRateLimit(c Client, perMinute float64) *Limited {
	return &Limited{Client: c, limiter: newLimiter(perMinute)}
}

func (l *Limited) Complete(ctx context.Context, req *Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return l.Client.Complete(ctx, req)
}
