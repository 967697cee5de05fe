// Package mock provides in-memory stand-ins for the audio and recognition
// providers, used in development mode and in tests that exercise full wiring
// without external services.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/lumikid/lumi/pkg/adapters/stt"
)

type STTConfig struct {
	SessionID         string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
}

// Recognizer emits a scripted interim and final transcript on the first
// audio buffer it receives.
type Recognizer struct {
	cfg     STTConfig
	out     chan stt.Result
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	emitted bool
}

func NewRecognizer(cfg STTConfig) *Recognizer {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Recognizer{cfg: cfg, out: make(chan stt.Result, 16)}
}

func (r *Recognizer) Name() string { return "mock_stt" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.out != nil {
		close(r.out)
		r.out = nil
	}
	r.started = false
	return nil
}

func (r *Recognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.New("not started")
	}
	if r.emitted {
		r.mu.Unlock()
		return nil
	}
	r.emitted = true
	out := r.out
	r.mu.Unlock()

	if r.cfg.EmitInterim {
		interim := r.cfg.InterimTranscript
		if interim == "" {
			interim = r.cfg.Transcript
		}
		out <- stt.Result{Text: interim}
	}
	out <- stt.Result{Text: r.cfg.Transcript, Final: true}
	return nil
}

func (r *Recognizer) Results() <-chan stt.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

var _ stt.Recognizer = (*Recognizer)(nil)
