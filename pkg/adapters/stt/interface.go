package stt

import "context"

// Result is one recognition callback payload. Partial results supersede the
// previous partial wholesale; a Final result or a terminal Err ends the pass.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer defines the contract for any speech recognition vendor
// implementation.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the recognition connection.
	Start(ctx context.Context) error
	// Close signals end-of-input and shuts the connection down.
	Close() error
	// SendAudio streams one fixed-size PCM buffer to the service.
	SendAudio(pcm []byte) error
	// Results returns a channel of partial/final recognition results.
	Results() <-chan Result
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
}
