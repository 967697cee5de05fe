package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lumikid/lumi/pkg/adapters/audio"
	"github.com/lumikid/lumi/pkg/adapters/stt"
	"github.com/lumikid/lumi/pkg/errorsx"
	"github.com/lumikid/lumi/pkg/logging"
	"github.com/lumikid/lumi/pkg/metrics"
)

// State is the capture session state. Exactly one session instance owns the
// input device; only the session mutates its state.
type State int

const (
	StateIdle State = iota
	StateAwaitingAuthorization
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingAuthorization:
		return "AWAITING_AUTHORIZATION"
	case StateRecording:
		return "RECORDING"
	case StateFinalizing:
		return "FINALIZING"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrPermissionDenied = errorsx.Wrap(errors.New("microphone access not authorized"), errorsx.ReasonCapturePermission)
	ErrAlreadyRecording = errorsx.Wrap(errors.New("recording already in progress"), errorsx.ReasonCaptureBusy)
)

// Handlers receive recognition callbacks. They are invoked from the
// recognizer's goroutine; callers that touch shared state must marshal into
// their own serialized context (the orchestrator posts them to its inbox).
// Each OnPartial call is a full replacement of the previous partial.
type Handlers struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// Session converts a live audio stream into text. One final transcript is
// produced per recording; partials may fire many times before it.
type Session struct {
	mu         sync.Mutex
	state      State
	authorized bool
	partial    string
	gen        uint64

	device     audio.InputDevice
	auth       audio.Authorizer
	factory    func() stt.Recognizer
	rec        stt.Recognizer
	cancel     context.CancelFunc
	bufferSize int

	log *slog.Logger
	obs metrics.Observer
}

// NewSession builds a capture session over the given device, permission
// authorizer, and recognizer factory. A fresh recognizer is created per
// recording.
func NewSession(device audio.InputDevice, auth audio.Authorizer, factory func() stt.Recognizer) *Session {
	return &Session{
		device:     device,
		auth:       auth,
		factory:    factory,
		bufferSize: 3200,
		log:        logging.NewComponentLogger(slog.Default(), "capture"),
	}
}

func (s *Session) SetObserver(obs metrics.Observer) { s.obs = obs }

// SetBufferSize overrides the fixed PCM buffer size streamed per tap callback.
func (s *Session) SetBufferSize(n int) {
	if n > 0 {
		s.bufferSize = n
	}
}

// State returns the current capture state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authorized reports whether microphone access has been granted.
func (s *Session) Authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

// Partial returns the latest live partial transcript, empty when idle.
func (s *Session) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// RequestAuthorization asks the platform for microphone access. Idempotent:
// re-invoking while already authorized calls done(true) immediately.
func (s *Session) RequestAuthorization(done func(granted bool)) {
	s.mu.Lock()
	if s.authorized {
		s.mu.Unlock()
		if done != nil {
			done(true)
		}
		return
	}
	if s.state == StateAwaitingAuthorization {
		s.mu.Unlock()
		return
	}
	s.state = StateAwaitingAuthorization
	s.mu.Unlock()

	s.auth.RequestAccess(func(granted bool) {
		s.mu.Lock()
		s.authorized = granted
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Info("authorization_result", "granted", granted)
		if done != nil {
			done(granted)
		}
	})
}

// StartRecording opens the input device and begins streaming fixed-size
// buffers into a fresh recognizer. Fails with ErrPermissionDenied when not
// authorized and ErrAlreadyRecording when a recording is active.
func (s *Session) StartRecording(h Handlers) error {
	s.mu.Lock()
	if !s.authorized {
		s.mu.Unlock()
		return ErrPermissionDenied
	}
	if s.state == StateRecording || s.state == StateFinalizing {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.gen++
	myGen := s.gen
	rec := s.factory()
	ctx, cancel := context.WithCancel(context.Background())
	s.rec = rec
	s.cancel = cancel
	s.state = StateRecording
	s.partial = ""
	s.mu.Unlock()

	if err := s.device.Activate(); err != nil {
		s.abortStart(myGen)
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	if err := rec.Start(ctx); err != nil {
		_ = s.device.Deactivate()
		s.abortStart(myGen)
		return errorsx.Wrap(err, errorsx.ReasonCaptureRecognition)
	}
	if err := s.device.InstallTap(s.bufferSize, func(pcm []byte) {
		if !s.currentGen(myGen) {
			return
		}
		if err := rec.SendAudio(pcm); err != nil {
			s.log.Warn("send_audio_error", "error", err.Error())
		}
	}); err != nil {
		_ = rec.Close()
		_ = s.device.Deactivate()
		s.abortStart(myGen)
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}

	// A StopRecording that landed while the device was being set up already
	// advanced the generation, but ran its teardown before the tap existed.
	// Finish that teardown here instead of leaving the device live.
	if !s.currentGen(myGen) {
		s.device.RemoveTap()
		_ = rec.Close()
		_ = s.device.Deactivate()
		return nil
	}

	go s.consume(myGen, rec, h)

	s.log.Info("recording_started", "recognizer", rec.Name())
	s.record(metrics.EventCaptureStart)
	return nil
}

// StopRecording tears down the active recording. Idempotent (no-op when
// idle) and safe to call from the finalization callback itself. Teardown is
// deterministic: tap removed first, then end-of-input to the recognizer,
// then task cancellation, then device deactivation.
func (s *Session) StopRecording() {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StateFinalizing {
		s.mu.Unlock()
		return
	}
	rec := s.rec
	cancel := s.cancel
	s.rec = nil
	s.cancel = nil
	s.gen++
	s.state = StateIdle
	s.partial = ""
	s.mu.Unlock()

	s.device.RemoveTap()
	if rec != nil {
		_ = rec.Close()
	}
	if cancel != nil {
		cancel()
	}
	_ = s.device.Deactivate()
	s.log.Info("recording_stopped")
	s.record(metrics.EventCaptureStop)
}

// consume drains recognition results for one recording generation. Results
// belonging to a superseded generation are dropped rather than applied.
func (s *Session) consume(gen uint64, rec stt.Recognizer, h Handlers) {
	for res := range rec.Results() {
		if res.Err != nil {
			if !s.finishGen(gen) {
				continue
			}
			s.StopRecording()
			s.log.Info("recognition_error", "error", res.Err.Error())
			if h.OnError != nil {
				h.OnError(errorsx.Wrap(res.Err, errorsx.ReasonCaptureRecognition))
			}
			continue
		}
		if res.Final {
			if !s.finishGen(gen) {
				continue
			}
			s.record(metrics.EventCaptureFinal)
			if h.OnFinal != nil {
				h.OnFinal(res.Text)
			}
			s.StopRecording()
			continue
		}
		if !s.updatePartial(gen, res.Text) {
			continue
		}
		if h.OnPartial != nil {
			h.OnPartial(res.Text)
		}
	}
}

// finishGen atomically claims the final callback for a generation. Returns
// false when the recording was already stopped or superseded, in which case
// the result must be ignored.
func (s *Session) finishGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateRecording {
		return false
	}
	s.state = StateFinalizing
	return true
}

func (s *Session) updatePartial(gen uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateRecording {
		return false
	}
	s.partial = text
	return true
}

func (s *Session) currentGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) abortStart(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		if s.cancel != nil {
			s.cancel()
		}
		s.rec = nil
		s.cancel = nil
		s.gen++
		s.state = StateIdle
	}
	s.mu.Unlock()
}

func (s *Session) record(name string) {
	if s.obs == nil {
		return
	}
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{"component": "capture"},
	})
}
