package llm

import (
	"context"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns sensible defaults for rate limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryAdapter wraps an adapter with automatic retry on transient errors.
// A stream is only retried while no chunks have been forwarded yet; once
// output has reached the consumer a replay would duplicate it.
type RetryAdapter struct {
	inner  Adapter
	config RetryConfig
}

// WrapWithRetry wraps an adapter with retry logic.
func WrapWithRetry(a Adapter, config RetryConfig) Adapter {
	return &RetryAdapter{inner: a, config: config}
}

func (r *RetryAdapter) Name() string {
	return r.inner.Name()
}

func (r *RetryAdapter) SupportsEmbeddedToolCalls() bool {
	return r.inner.SupportsEmbeddedToolCalls()
}

func (r *RetryAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return r.inner.ListModels(ctx)
}

func (r *RetryAdapter) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	return NewChunkStream(ctx, func(ctx context.Context, out chan<- Chunk) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.Stream(ctx, req)
			if err != nil {
				if !isRetryable(err) {
					return err
				}
				lastErr = err
			} else {
				forwarded, err := r.forwardChunks(ctx, stream, out)
				if err == nil {
					return nil
				}
				if forwarded || !isRetryable(err) {
					return err
				}
				lastErr = err
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.calculateBackoff(attempt)):
			}
		}

		return lastErr
	}), nil
}

func (r *RetryAdapter) forwardChunks(ctx context.Context, stream ChunkStream, out chan<- Chunk) (bool, error) {
	defer stream.Close()

	forwarded := false
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return forwarded, nil
		}
		if err != nil {
			return forwarded, err
		}

		select {
		case out <- chunk:
			forwarded = true
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
}

// isRetryable returns true if the error is a transient error worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if httpErr, ok := err.(*UpstreamHTTPError); ok {
		switch httpErr.Status {
		case 429, 500, 502, 503, 529:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}

// calculateBackoff computes the wait duration for a retry attempt.
func (r *RetryAdapter) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), with +/- 25% jitter
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	jitter := (rand.Float64() - 0.5) * 0.5 * backoff
	backoff += jitter

	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
