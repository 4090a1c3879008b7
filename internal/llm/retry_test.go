package llm

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	chunks []Chunk
	err    error
	pos    int
}

func (s *fakeStream) Recv() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *fakeStream) Close() error { return nil }

type flakyAdapter struct {
	mu      sync.Mutex
	results []func() (ChunkStream, error)
	calls   int
}

func (a *flakyAdapter) Name() string                    { return "flaky" }
func (a *flakyAdapter) SupportsEmbeddedToolCalls() bool { return false }

func (a *flakyAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return nil, nil
}

func (a *flakyAdapter) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls >= len(a.results) {
		return nil, errors.New("no more scripted results")
	}
	result := a.results[a.calls]
	a.calls++
	return result()
}

func (a *flakyAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func quickRetry(a Adapter) Adapter {
	return WrapWithRetry(a, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
}

func drain(t *testing.T, stream ChunkStream) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func TestRetryRecoversFromRateLimit(t *testing.T) {
	adapter := &flakyAdapter{results: []func() (ChunkStream, error){
		func() (ChunkStream, error) { return nil, &UpstreamHTTPError{Status: 429, Body: "slow down"} },
		func() (ChunkStream, error) { return &fakeStream{chunks: []Chunk{{Text: "ok"}}}, nil },
	}}

	stream, err := quickRetry(adapter).Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "ok" {
		t.Errorf("chunks = %+v", chunks)
	}
	if adapter.callCount() != 2 {
		t.Errorf("calls = %d, want 2", adapter.callCount())
	}
}

func TestRetryGivesUpOnPermanentError(t *testing.T) {
	wantErr := &UpstreamHTTPError{Status: 401, Body: "bad key"}
	adapter := &flakyAdapter{results: []func() (ChunkStream, error){
		func() (ChunkStream, error) { return nil, wantErr },
	}}

	stream, err := quickRetry(adapter).Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drain(t, stream); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want permanent error without retry", err)
	}
	if adapter.callCount() != 1 {
		t.Errorf("calls = %d, want 1", adapter.callCount())
	}
}

func TestRetryNeverReplaysForwardedOutput(t *testing.T) {
	// The stream dies mid-flight after delivering a chunk. Retrying would
	// duplicate that chunk, so the error must surface instead.
	transient := &UpstreamHTTPError{Status: 503, Body: "gone"}
	adapter := &flakyAdapter{results: []func() (ChunkStream, error){
		func() (ChunkStream, error) {
			return &fakeStream{chunks: []Chunk{{Text: "partial"}}, err: transient}, nil
		},
		func() (ChunkStream, error) {
			return &fakeStream{chunks: []Chunk{{Text: "replay"}}}, nil
		},
	}}

	stream, err := quickRetry(adapter).Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks, err := drain(t, stream)
	if !errors.Is(err, transient) {
		t.Errorf("err = %v, want the transient error surfaced", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "partial" {
		t.Errorf("chunks = %+v", chunks)
	}
	if adapter.callCount() != 1 {
		t.Errorf("calls = %d, mid-stream failure must not retry", adapter.callCount())
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	transient := &UpstreamHTTPError{Status: 529, Body: "overloaded"}
	adapter := &flakyAdapter{results: []func() (ChunkStream, error){
		func() (ChunkStream, error) { return nil, transient },
		func() (ChunkStream, error) { return nil, transient },
		func() (ChunkStream, error) { return nil, transient },
	}}

	stream, err := quickRetry(adapter).Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drain(t, stream); !errors.Is(err, transient) {
		t.Errorf("err = %v", err)
	}
	if adapter.callCount() != 3 {
		t.Errorf("calls = %d, want all attempts used", adapter.callCount())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&UpstreamHTTPError{Status: 429}, true},
		{&UpstreamHTTPError{Status: 500}, true},
		{&UpstreamHTTPError{Status: 529}, true},
		{&UpstreamHTTPError{Status: 400}, false},
		{&UpstreamHTTPError{Status: 401}, false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("invalid request"), false},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCalculateBackoffBounded(t *testing.T) {
	r := &RetryAdapter{config: RetryConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Second,
	}}
	for attempt := 1; attempt <= 10; attempt++ {
		backoff := r.calculateBackoff(attempt)
		if backoff < 0 || backoff > 5*time.Second {
			t.Errorf("attempt %d: backoff %v outside bounds", attempt, backoff)
		}
	}
}
