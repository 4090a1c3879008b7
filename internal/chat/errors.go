package chat

import "errors"

var (
	// ErrTopicNotFound is returned when a reply is requested for a topic
	// that does not exist.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrEmptyHistory is returned when a topic has no messages to send.
	ErrEmptyHistory = errors.New("topic has no messages")

	// ErrNoModelConfigured is returned when neither the request, the
	// topic, nor the configuration resolves to a usable model.
	ErrNoModelConfigured = errors.New("no model configured")

	// ErrMalformedContext is returned when imported accumulator data is
	// missing its message id.
	ErrMalformedContext = errors.New("malformed context: missing message_id")

	// ErrAborted reports a reply cancelled by the user. It is a terminal
	// outcome, not a failure.
	ErrAborted = errors.New("aborted by user")
)
