// Package session binds capture, transcript, pipeline, and playback into a
// single conversation loop. All shared session state is owned by one
// goroutine; producers (recognition callbacks, network completions, the UI)
// post messages into its inbox instead of mutating state directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lumikid/lumi/pkg/assist"
	"github.com/lumikid/lumi/pkg/capture"
	"github.com/lumikid/lumi/pkg/errorsx"
	"github.com/lumikid/lumi/pkg/exchange"
	"github.com/lumikid/lumi/pkg/imaging"
	"github.com/lumikid/lumi/pkg/logging"
	"github.com/lumikid/lumi/pkg/metrics"
)

// Mode selects where user input comes from.
type Mode int

const (
	ModeText Mode = iota
	ModeVoice
)

func (m Mode) String() string {
	if m == ModeVoice {
		return "VOICE"
	}
	return "TEXT"
}

// ImageContext is the currently selected image. It is replaced wholesale when
// the user picks a new image; in-flight requests keep the snapshot they were
// submitted with.
type ImageContext struct {
	ID        uuid.UUID
	JPEG      []byte
	LastLabel string
}

// Pipeline is the remote assistant round-trip. *assist.Client satisfies it.
type Pipeline interface {
	Analyze(ctx context.Context, imageJPEG []byte) (assist.Reply, error)
	Ask(ctx context.Context, imageJPEG []byte, question string) (assist.Reply, error)
}

// Voice speaks assistant responses. *playback.Arbiter satisfies it.
type Voice interface {
	Speak(text string) uuid.UUID
	Stop()
}

// Callbacks notify the UI layer. All callbacks fire from the orchestrator
// goroutine and must return quickly.
type Callbacks struct {
	// OnTranscript fires after any record is appended or the log is reset.
	OnTranscript func(records []exchange.Record)
	// OnPartial fires with each live partial transcript during recording.
	OnPartial func(text string)
	// OnBusy fires when the number of outstanding requests changes.
	OnBusy func(outstanding int)
	// OnError fires for capture errors that aborted a recording, after the
	// matching transcript record has been appended.
	OnError func(err error)
}

type message interface{ isMessage() }

type msgSetImage struct {
	raw  []byte
	done chan error
}
type msgSetMode struct{ mode Mode }
type msgSubmit struct{ text string }
type msgAnalyze struct{}
type msgStartVoice struct{ done chan error }
type msgStopVoice struct{}
type msgVoicePartial struct{ text string }
type msgVoiceFinal struct{ text string }
type msgCaptureError struct{ err error }
type msgResult struct {
	reply assist.Reply
	err   error
}
type msgReset struct{ done chan struct{} }
type msgLabel struct{ done chan string }

func (msgSetImage) isMessage()     {}
func (msgSetMode) isMessage()      {}
func (msgSubmit) isMessage()       {}
func (msgAnalyze) isMessage()      {}
func (msgStartVoice) isMessage()   {}
func (msgStopVoice) isMessage()    {}
func (msgVoicePartial) isMessage() {}
func (msgVoiceFinal) isMessage()   {}
func (msgCaptureError) isMessage() {}
func (msgResult) isMessage()       {}
func (msgReset) isMessage()        {}
func (msgLabel) isMessage()        {}

// Orchestrator is the top-level session state machine.
type Orchestrator struct {
	store    *exchange.Store
	mic      *capture.Session
	pipeline Pipeline
	voice    Voice
	archive  *exchange.Archive
	cb       Callbacks

	inbox chan message
	done  chan struct{}
	wg    sync.WaitGroup

	// Owned by the run goroutine.
	mode        Mode
	image       *ImageContext
	outstanding int
	sessionID   uuid.UUID

	busy atomic.Int32

	log *slog.Logger
	obs metrics.Observer
}

// New builds an orchestrator. archive may be nil to skip persistence on
// reset; voice may be nil to skip playback.
func New(store *exchange.Store, mic *capture.Session, pipeline Pipeline, voice Voice, archive *exchange.Archive, cb Callbacks) *Orchestrator {
	return &Orchestrator{
		store:     store,
		mic:       mic,
		pipeline:  pipeline,
		voice:     voice,
		archive:   archive,
		cb:        cb,
		inbox:     make(chan message, 64),
		done:      make(chan struct{}),
		sessionID: uuid.New(),
		log:       logging.NewComponentLogger(slog.Default(), "session"),
		obs:       metrics.NoopObserver{},
	}
}

func (o *Orchestrator) SetObserver(obs metrics.Observer) {
	if obs != nil {
		o.obs = obs
	}
}

// Start launches the serialized loop.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.run()
}

// Close stops the loop, any active recording, and any active playback.
func (o *Orchestrator) Close() {
	select {
	case <-o.done:
		return
	default:
	}
	close(o.done)
	o.wg.Wait()
	o.mic.StopRecording()
	if o.voice != nil {
		o.voice.Stop()
	}
}

// Busy reports how many requests are outstanding. Advisory only; it does not
// gate submission.
func (o *Orchestrator) Busy() int { return int(o.busy.Load()) }

// Transcript returns the ordered exchange log.
func (o *Orchestrator) Transcript() []exchange.Record { return o.store.Snapshot() }

// SetImage decodes, downscales, and installs a new image context. The
// transcript is kept so the conversation can refer back to earlier turns.
// Blocks until the image has been processed.
func (o *Orchestrator) SetImage(raw []byte) error {
	done := make(chan error, 1)
	if !o.post(msgSetImage{raw: raw, done: done}) {
		return errors.New("session closed")
	}
	return <-done
}

// SetMode switches between typed and spoken input. Switching away from voice
// mid-recording stops the recording.
func (o *Orchestrator) SetMode(m Mode) { o.post(msgSetMode{mode: m}) }

// Submit routes a typed question. Empty-after-trim text and submissions
// without a selected image are dropped at the boundary.
func (o *Orchestrator) Submit(text string) { o.post(msgSubmit{text: text}) }

// Analyze requests a description of the current image with no question.
func (o *Orchestrator) Analyze() { o.post(msgAnalyze{}) }

// StartVoice begins a recording whose final transcript is routed exactly
// like a typed submission. Blocks until the recording has started or failed.
func (o *Orchestrator) StartVoice() error {
	done := make(chan error, 1)
	if !o.post(msgStartVoice{done: done}) {
		return errors.New("session closed")
	}
	return <-done
}

// StopVoice ends the active recording, if any.
func (o *Orchestrator) StopVoice() { o.post(msgStopVoice{}) }

// Reset archives and clears the transcript and drops the image context.
// Blocks until done.
func (o *Orchestrator) Reset() {
	done := make(chan struct{})
	if o.post(msgReset{done: done}) {
		<-done
	}
}

func (o *Orchestrator) post(m message) bool {
	select {
	case o.inbox <- m:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case m := <-o.inbox:
			o.handle(m)
		case <-o.done:
			o.drain()
			return
		}
	}
}

// drain answers queued blocking calls so their senders do not hang after Close.
func (o *Orchestrator) drain() {
	for {
		select {
		case m := <-o.inbox:
			switch m := m.(type) {
			case msgSetImage:
				m.done <- errors.New("session closed")
			case msgStartVoice:
				m.done <- errors.New("session closed")
			case msgReset:
				close(m.done)
			case msgLabel:
				m.done <- ""
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) handle(m message) {
	switch m := m.(type) {
	case msgSetImage:
		m.done <- o.setImage(m.raw)
	case msgSetMode:
		o.setMode(m.mode)
	case msgSubmit:
		o.submitQuestion(m.text)
	case msgAnalyze:
		o.submitAnalyze()
	case msgStartVoice:
		m.done <- o.startVoice()
	case msgStopVoice:
		o.mic.StopRecording()
	case msgVoicePartial:
		if o.cb.OnPartial != nil {
			o.cb.OnPartial(m.text)
		}
	case msgVoiceFinal:
		o.submitQuestion(m.text)
	case msgCaptureError:
		o.captureFailed(m.err)
	case msgResult:
		o.applyResult(m.reply, m.err)
	case msgReset:
		o.reset()
		close(m.done)
	case msgLabel:
		var label string
		if o.image != nil {
			label = o.image.LastLabel
		}
		m.done <- label
	}
}

func (o *Orchestrator) setImage(raw []byte) error {
	jpeg, err := imaging.PrepareJPEG(raw)
	if err != nil {
		return err
	}
	o.image = &ImageContext{ID: uuid.New(), JPEG: jpeg}
	o.log.Info("image_selected", "image_id", o.image.ID.String(), "bytes", len(jpeg))
	return nil
}

func (o *Orchestrator) setMode(m Mode) {
	if m == o.mode {
		return
	}
	if o.mode == ModeVoice && o.mic.State() != capture.StateIdle {
		o.mic.StopRecording()
	}
	o.mode = m
	o.log.Info("mode_changed", "mode", m.String())
}

func (o *Orchestrator) startVoice() error {
	if o.image == nil {
		return errors.New("no image selected")
	}
	o.mode = ModeVoice
	return o.mic.StartRecording(capture.Handlers{
		OnPartial: func(text string) { o.post(msgVoicePartial{text: text}) },
		OnFinal:   func(text string) { o.post(msgVoiceFinal{text: text}) },
		OnError:   func(err error) { o.post(msgCaptureError{err: err}) },
	})
}

// submitQuestion handles both typed text and finalized voice transcripts.
func (o *Orchestrator) submitQuestion(text string) {
	text = strings.TrimSpace(text)
	if text == "" || o.image == nil {
		return
	}
	o.store.Append(exchange.RoleUser, text)
	o.notifyTranscript()
	o.record(metrics.EventQuestionSubmitted, nil)

	// Snapshot by value: an image change after submission must not affect
	// this request.
	img := o.image.JPEG
	o.dispatch(func(ctx context.Context) (assist.Reply, error) {
		return o.pipeline.Ask(ctx, img, text)
	})
}

func (o *Orchestrator) submitAnalyze() {
	if o.image == nil {
		return
	}
	o.record(metrics.EventAnalyzeSubmitted, nil)
	img := o.image.JPEG
	o.dispatch(func(ctx context.Context) (assist.Reply, error) {
		return o.pipeline.Analyze(ctx, img)
	})
}

// dispatch runs one round-trip off the loop and posts its result back.
// Results are applied in arrival order, which may differ from submission
// order when several requests are outstanding.
func (o *Orchestrator) dispatch(call func(ctx context.Context) (assist.Reply, error)) {
	o.outstanding++
	o.busy.Store(int32(o.outstanding))
	if o.cb.OnBusy != nil {
		o.cb.OnBusy(o.outstanding)
	}
	go func() {
		reply, err := call(context.Background())
		o.post(msgResult{reply: reply, err: err})
	}()
}

func (o *Orchestrator) applyResult(reply assist.Reply, err error) {
	o.outstanding--
	o.busy.Store(int32(o.outstanding))
	if o.cb.OnBusy != nil {
		o.cb.OnBusy(o.outstanding)
	}

	if err != nil {
		o.record(metrics.EventResponseError, map[string]string{"reason": string(errorsx.Reason(err))})
		o.store.Append(exchange.RoleAssistant, renderError(err))
		o.notifyTranscript()
		return
	}

	if o.image != nil && reply.Label != "" {
		o.image.LastLabel = reply.Label
	}
	o.store.Append(exchange.RoleAssistant, reply.Text)
	o.notifyTranscript()
	o.record(metrics.EventResponseApplied, nil)
	if o.voice != nil {
		o.voice.Speak(reply.Text)
	}
}

func (o *Orchestrator) captureFailed(err error) {
	o.log.Warn("capture_error", "error", err.Error())
	o.store.Append(exchange.RoleAssistant, "I couldn't hear you properly. Please try again.")
	o.notifyTranscript()
	if o.cb.OnError != nil {
		o.cb.OnError(err)
	}
}

func (o *Orchestrator) reset() {
	o.mic.StopRecording()
	if o.voice != nil {
		o.voice.Stop()
	}
	var label string
	if o.image != nil {
		label = o.image.LastLabel
	}
	records := o.store.Reset()
	if o.archive != nil && len(records) > 0 {
		if err := o.archive.SaveSession(o.sessionID.String(), label, records); err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonArchiveWrite)
			o.log.Warn("archive_error", "error", err.Error(), "reason", string(errorsx.Reason(err)))
		}
	}
	o.image = nil
	o.sessionID = uuid.New()
	o.record(metrics.EventSessionReset, nil)
	o.notifyTranscript()
}

// Label returns the most recent object label reported by the assistant.
func (o *Orchestrator) Label() string {
	// Read through a round-trip so the loop stays the single owner.
	done := make(chan string, 1)
	if !o.post(msgLabel{done: done}) {
		return ""
	}
	return <-done
}

func renderError(err error) string {
	var srv assist.ServerError
	switch {
	case errors.As(err, &srv):
		return srv.Message
	case errors.Is(err, assist.ErrMalformedResponse):
		return "Sorry, I got an invalid response. Please try again."
	default:
		return fmt.Sprintf("I couldn't reach the assistant: %v", err)
	}
}

func (o *Orchestrator) notifyTranscript() {
	if o.cb.OnTranscript != nil {
		o.cb.OnTranscript(o.store.Snapshot())
	}
}

func (o *Orchestrator) record(name string, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["component"] = "session"
	o.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}
