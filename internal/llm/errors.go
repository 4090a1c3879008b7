package llm

import "fmt"

// UpstreamHTTPError reports a non-2xx response from a provider API.
type UpstreamHTTPError struct {
	Status int
	Body   string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream API error (status %d): %s", e.Status, e.Body)
}

// ChunkDecodeError reports a single stream frame that could not be decoded.
// It is delivered inside a Chunk so the consumer can record it and continue;
// one malformed frame never aborts the stream.
type ChunkDecodeError struct {
	Raw string
	Err error
}

func (e *ChunkDecodeError) Error() string {
	return fmt.Sprintf("decode stream chunk: %v", e.Err)
}

func (e *ChunkDecodeError) Unwrap() error {
	return e.Err
}
