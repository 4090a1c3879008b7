package llm

import (
	"context"
	"io"
)

// chanStream adapts a producer goroutine into a ChunkStream. The producer
// writes chunks to its channel and returns when the stream is exhausted;
// Recv yields io.EOF on clean completion and the producer's error otherwise.
type chanStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Chunk
	errc   chan error
	err    error
	done   bool
}

// NewChunkStream runs produce in a goroutine and exposes its output as a
// ChunkStream. Closing the stream cancels the producer's context.
func NewChunkStream(ctx context.Context, produce func(ctx context.Context, out chan<- Chunk) error) ChunkStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan Chunk, 16),
		errc:   make(chan error, 1),
	}
	go func() {
		s.errc <- produce(ctx, s.ch)
		close(s.ch)
	}()
	return s
}

// emitChunk delivers chunk to out, giving up once ctx is cancelled so a
// producer never blocks on a consumer that stopped receiving.
func emitChunk(ctx context.Context, out chan<- Chunk, chunk Chunk) error {
	select {
	case out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *chanStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, s.finalErr()
	}
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			s.done = true
			s.err = <-s.errc
			return Chunk{}, s.finalErr()
		}
		return chunk, nil
	case <-s.ctx.Done():
		s.done = true
		s.err = s.ctx.Err()
		return Chunk{}, s.err
	}
}

func (s *chanStream) finalErr() error {
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *chanStream) Close() error {
	s.cancel()
	return nil
}
