package speaker

import "context"

// Speaker plays one utterance worth of audio. Play blocks until playback
// finishes naturally or ctx is canceled (preemption).
type Speaker interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Play renders the audio bytes to the output device.
	Play(ctx context.Context, audio []byte) error
	// Close releases the output device.
	Close() error
}
