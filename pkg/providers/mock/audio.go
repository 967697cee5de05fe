package mock

import (
	"context"
	"sync"
	"time"

	"github.com/lumikid/lumi/pkg/adapters/audio"
	"github.com/lumikid/lumi/pkg/adapters/speaker"
)

type AudioConfig struct {
	// FeedInterval is how often the device pushes a synthetic buffer into
	// the installed tap. Zero disables automatic feeding.
	FeedInterval time.Duration
	// BufferBytes is the size of each synthetic buffer.
	BufferBytes int
}

// InputDevice is a microphone stand-in that feeds silence into its tap.
type InputDevice struct {
	cfg    AudioConfig
	mu     sync.Mutex
	active bool
	tap    func([]byte)
	stop   chan struct{}
}

func NewInputDevice(cfg AudioConfig) *InputDevice {
	if cfg.BufferBytes == 0 {
		cfg.BufferBytes = 3200
	}
	return &InputDevice{cfg: cfg}
}

func (d *InputDevice) Name() string { return "mock_input" }

func (d *InputDevice) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = true
	return nil
}

func (d *InputDevice) InstallTap(bufferSize int, fn func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tap = fn
	if d.cfg.FeedInterval > 0 && d.stop == nil {
		d.stop = make(chan struct{})
		go d.feedLoop(d.stop)
	}
	return nil
}

func (d *InputDevice) RemoveTap() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tap = nil
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

func (d *InputDevice) Deactivate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	return nil
}

// Feed pushes one buffer into the tap, for tests that drive audio manually.
func (d *InputDevice) Feed(pcm []byte) {
	d.mu.Lock()
	tap := d.tap
	d.mu.Unlock()
	if tap != nil {
		tap(pcm)
	}
}

func (d *InputDevice) feedLoop(stop chan struct{}) {
	t := time.NewTicker(d.cfg.FeedInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			d.Feed(make([]byte, d.cfg.BufferBytes))
		}
	}
}

// Authorizer grants or denies microphone access immediately.
type Authorizer struct {
	Granted bool
}

func (a Authorizer) RequestAccess(done func(granted bool)) { done(a.Granted) }

// Speaker simulates playback by sleeping in proportion to the audio size.
type Speaker struct {
	// BytesPerSecond controls the simulated playback rate.
	BytesPerSecond int

	mu     sync.Mutex
	played [][]byte
}

func (s *Speaker) Name() string { return "mock_speaker" }

func (s *Speaker) Play(ctx context.Context, audioBytes []byte) error {
	rate := s.BytesPerSecond
	if rate <= 0 {
		rate = 32000
	}
	d := time.Duration(len(audioBytes)) * time.Second / time.Duration(rate)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}
	s.mu.Lock()
	s.played = append(s.played, audioBytes)
	s.mu.Unlock()
	return nil
}

func (s *Speaker) Close() error { return nil }

// Played returns the audio payloads that finished playing.
func (s *Speaker) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.played...)
}

var (
	_ audio.InputDevice = (*InputDevice)(nil)
	_ audio.Authorizer  = (*Authorizer)(nil)
	_ speaker.Speaker   = (*Speaker)(nil)
)
