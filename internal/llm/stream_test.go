package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestChunkStreamCleanCompletion(t *testing.T) {
	stream := NewChunkStream(context.Background(), func(ctx context.Context, out chan<- Chunk) error {
		out <- Chunk{Text: "a"}
		out <- Chunk{Text: "b"}
		return nil
	})

	var texts []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		texts = append(texts, chunk.Text)
	}
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Errorf("texts = %v", texts)
	}

	// Recv after exhaustion stays at EOF.
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestChunkStreamProducerError(t *testing.T) {
	wantErr := errors.New("upstream died")
	stream := NewChunkStream(context.Background(), func(ctx context.Context, out chan<- Chunk) error {
		out <- Chunk{Text: "partial"}
		return wantErr
	})

	if chunk, err := stream.Recv(); err != nil || chunk.Text != "partial" {
		t.Fatalf("first Recv = %v, %v", chunk, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want producer error", err)
	}
}

func TestChunkStreamCloseCancelsProducer(t *testing.T) {
	cancelled := make(chan struct{})
	stream := NewChunkStream(context.Background(), func(ctx context.Context, out chan<- Chunk) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-cancelled
}

func TestEmitChunkUnblocksAfterClose(t *testing.T) {
	done := make(chan struct{})
	stream := NewChunkStream(context.Background(), func(ctx context.Context, out chan<- Chunk) error {
		defer close(done)
		// Far more chunks than the channel buffers, so the producer
		// outlives any consumer that walks away early.
		for i := 0; i < 1000; i++ {
			if err := emitChunk(ctx, out, Chunk{Text: "x"}); err != nil {
				return err
			}
		}
		return nil
	})

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Close")
	}
}

func TestChunkStreamParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewChunkStream(ctx, func(ctx context.Context, out chan<- Chunk) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()
	if _, err := stream.Recv(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
