// Package playback serializes spoken audio of assistant responses. Only the
// newest response matters to the listener, so a new utterance preempts any
// in-progress one; nothing is ever queued.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumikid/lumi/pkg/adapters/speaker"
	"github.com/lumikid/lumi/pkg/errorsx"
	"github.com/lumikid/lumi/pkg/logging"
	"github.com/lumikid/lumi/pkg/metrics"
)

type State int

const (
	StateIdle State = iota
	StateSpeaking
)

func (s State) String() string {
	if s == StateSpeaking {
		return "SPEAKING"
	}
	return "IDLE"
}

// FetchFunc resolves assistant text to playable audio bytes.
type FetchFunc func(ctx context.Context, text string) ([]byte, error)

type utterance struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// Arbiter plays at most one utterance at a time.
type Arbiter struct {
	mu      sync.Mutex
	current *utterance
	// last is the most recently started utterance, kept even after Stop so
	// the next Speak can wait for it to release the output device.
	last *utterance

	out    speaker.Speaker
	fetch  FetchFunc
	onDone func(id uuid.UUID, err error)

	log *slog.Logger
	obs metrics.Observer
}

// NewArbiter builds an arbiter over the given output device and audio
// fetcher. onDone fires after an utterance ends naturally or fails; it does
// not fire for preempted utterances.
func NewArbiter(out speaker.Speaker, fetch FetchFunc, onDone func(id uuid.UUID, err error)) *Arbiter {
	return &Arbiter{
		out:    out,
		fetch:  fetch,
		onDone: onDone,
		log:    logging.NewComponentLogger(slog.Default(), "playback"),
	}
}

func (a *Arbiter) SetObserver(obs metrics.Observer) { a.obs = obs }

// State returns Idle or Speaking.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		return StateSpeaking
	}
	return StateIdle
}

// CurrentUtterance returns the active utterance id, if any.
func (a *Arbiter) CurrentUtterance() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return uuid.UUID{}, false
	}
	return a.current.id, true
}

// Speak starts speaking text, unconditionally stopping any in-progress
// utterance first. Returns the new utterance id.
func (a *Arbiter) Speak(text string) uuid.UUID {
	ctx, cancel := context.WithCancel(context.Background())
	u := &utterance{
		id:     uuid.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	a.mu.Lock()
	prev := a.current
	wait := a.last
	a.current = u
	a.last = u
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
		a.record(metrics.EventPlaybackPreempted, prev.id)
		a.log.Info("utterance_preempted", "utterance_id", prev.id.String())
	}
	a.record(metrics.EventPlaybackStart, u.id)

	go func() {
		defer close(u.done)
		// Two utterances must never overlap: wait for the previous one,
		// preempted here or cancelled by Stop, to release the output
		// device before playing. Completed utterances have a closed done
		// channel, so the wait is free.
		if wait != nil {
			<-wait.done
		}
		err := a.play(ctx, text)

		a.mu.Lock()
		active := a.current == u
		if active {
			a.current = nil
		}
		a.mu.Unlock()

		if !active || ctx.Err() != nil {
			return
		}
		a.record(metrics.EventPlaybackDone, u.id)
		if a.onDone != nil {
			a.onDone(u.id, err)
		}
	}()
	return u.id
}

// Stop cancels the active utterance, if any.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	u := a.current
	a.current = nil
	a.mu.Unlock()
	if u != nil {
		u.cancel()
		a.record(metrics.EventPlaybackPreempted, u.id)
	}
}

func (a *Arbiter) play(ctx context.Context, text string) error {
	audio, err := a.fetch(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Warn("speech_fetch_error", "error", err.Error())
		}
		return err
	}
	if err := a.out.Play(ctx, audio); err != nil {
		if ctx.Err() == nil {
			a.log.Warn("speech_play_error", "error", err.Error())
		}
		return errorsx.Wrap(err, errorsx.ReasonSpeechPlay)
	}
	return nil
}

func (a *Arbiter) record(name string, id uuid.UUID) {
	if a.obs == nil {
		return
	}
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{"component": "playback", "utterance_id": id.String()},
	})
}
