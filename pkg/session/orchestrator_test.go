package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumikid/lumi/pkg/adapters/stt"
	"github.com/lumikid/lumi/pkg/assist"
	"github.com/lumikid/lumi/pkg/capture"
	"github.com/lumikid/lumi/pkg/errorsx"
	"github.com/lumikid/lumi/pkg/exchange"
)

type fakeDevice struct {
	mu       sync.Mutex
	removals int
}

func (d *fakeDevice) Name() string                       { return "fake_device" }
func (d *fakeDevice) Activate() error                    { return nil }
func (d *fakeDevice) InstallTap(int, func([]byte)) error { return nil }
func (d *fakeDevice) Deactivate() error                  { return nil }

func (d *fakeDevice) RemoveTap() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removals++
}

func (d *fakeDevice) removalCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removals
}

type grantAuthorizer struct{}

func (grantAuthorizer) RequestAccess(done func(bool)) { done(true) }

type fakeRecognizer struct {
	mu     sync.Mutex
	out    chan stt.Result
	closed bool
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{out: make(chan stt.Result, 16)}
}

func (r *fakeRecognizer) Name() string                { return "fake_recognizer" }
func (r *fakeRecognizer) Start(context.Context) error { return nil }
func (r *fakeRecognizer) SendAudio([]byte) error      { return nil }
func (r *fakeRecognizer) Results() <-chan stt.Result  { return r.out }

func (r *fakeRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.out)
	}
	return nil
}

func (r *fakeRecognizer) emit(res stt.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.out <- res
	}
}

type pipelineCall struct {
	question string
	reply    assist.Reply
	err      error
	release  chan struct{}
}

// gatedPipeline records every submission and holds each round-trip open
// until its gate is released, so tests control arrival order.
type gatedPipeline struct {
	mu    sync.Mutex
	calls []*pipelineCall
}

func (p *gatedPipeline) Analyze(ctx context.Context, imageJPEG []byte) (assist.Reply, error) {
	return p.roundTrip("")
}

func (p *gatedPipeline) Ask(ctx context.Context, imageJPEG []byte, question string) (assist.Reply, error) {
	return p.roundTrip(question)
}

func (p *gatedPipeline) roundTrip(question string) (assist.Reply, error) {
	call := &pipelineCall{question: question, release: make(chan struct{})}
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	<-call.release
	return call.reply, call.err
}

func (p *gatedPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *gatedPipeline) call(i int) *pipelineCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.calls) {
		return nil
	}
	return p.calls[i]
}

func release(c *pipelineCall, reply assist.Reply, err error) {
	c.reply = reply
	c.err = err
	close(c.release)
}

type fakeVoice struct {
	mu     sync.Mutex
	spoken []string
	stops  int
}

func (v *fakeVoice) Speak(text string) uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spoken = append(v.spoken, text)
	return uuid.New()
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stops++
}

func (v *fakeVoice) spokenTexts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	orch     *Orchestrator
	store    *exchange.Store
	pipeline *gatedPipeline
	voice    *fakeVoice
	rec      *fakeRecognizer
	dev      *fakeDevice
}

func newFixture(t *testing.T, archive *exchange.Archive) *fixture {
	return newFixtureWithCallbacks(t, archive, Callbacks{})
}

func newFixtureWithCallbacks(t *testing.T, archive *exchange.Archive, cb Callbacks) *fixture {
	t.Helper()
	f := &fixture{
		store:    exchange.NewStore(),
		pipeline: &gatedPipeline{},
		voice:    &fakeVoice{},
		rec:      newFakeRecognizer(),
		dev:      &fakeDevice{},
	}
	mic := capture.NewSession(f.dev, grantAuthorizer{}, func() stt.Recognizer { return f.rec })
	mic.RequestAuthorization(nil)
	f.orch = New(f.store, mic, f.pipeline, f.voice, archive, cb)
	f.orch.Start()
	t.Cleanup(f.orch.Close)
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestAnalyzeStoresLabelAndSpeaksResponse(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}

	f.orch.Analyze()
	waitFor(t, func() bool { return f.pipeline.callCount() == 1 })
	release(f.pipeline.call(0), assist.Reply{Label: "cat", Text: "Cats are mammals."}, nil)

	waitFor(t, func() bool { return len(f.orch.Transcript()) == 1 })
	records := f.orch.Transcript()
	if records[0].Role != exchange.RoleAssistant || records[0].Text != "Cats are mammals." {
		t.Fatalf("unexpected record: %+v", records[0])
	}
	waitFor(t, func() bool { return f.orch.Label() == "cat" })
	if spoken := f.voice.spokenTexts(); len(spoken) != 1 || spoken[0] != "Cats are mammals." {
		t.Fatalf("unexpected playback: %v", spoken)
	}
}

func TestServerErrorBecomesSingleAssistantRecord(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}

	f.orch.Submit("Why is it green?")
	waitFor(t, func() bool { return f.pipeline.callCount() == 1 })
	release(f.pipeline.call(0), assist.Reply{},
		errorsx.Wrap(assist.ServerError{Message: "timeout"}, errorsx.ReasonAssistServer))

	waitFor(t, func() bool { return len(f.orch.Transcript()) == 2 })
	records := f.orch.Transcript()
	if records[0].Role != exchange.RoleUser || records[0].Text != "Why is it green?" {
		t.Fatalf("unexpected user record: %+v", records[0])
	}
	if records[1].Role != exchange.RoleAssistant || !strings.Contains(records[1].Text, "timeout") {
		t.Fatalf("expected error record containing 'timeout', got %q", records[1].Text)
	}
	if len(f.voice.spokenTexts()) != 0 {
		t.Fatalf("error responses must not be spoken")
	}
}

func TestResponsesAppliedInArrivalOrder(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}

	f.orch.Submit("first question")
	f.orch.Submit("second question")
	waitFor(t, func() bool { return f.pipeline.callCount() == 2 })
	if f.orch.Busy() != 2 {
		t.Fatalf("expected 2 outstanding requests, got %d", f.orch.Busy())
	}

	// Second response arrives before the first; it must be appended first.
	release(f.pipeline.call(1), assist.Reply{Label: "leaf", Text: "second answer"}, nil)
	waitFor(t, func() bool { return len(f.orch.Transcript()) == 3 })
	release(f.pipeline.call(0), assist.Reply{Label: "leaf", Text: "first answer"}, nil)
	waitFor(t, func() bool { return len(f.orch.Transcript()) == 4 })

	records := f.orch.Transcript()
	if records[2].Text != "second answer" || records[3].Text != "first answer" {
		t.Fatalf("arrival order not preserved: %q then %q", records[2].Text, records[3].Text)
	}
	waitFor(t, func() bool { return f.orch.Busy() == 0 })
}

func TestEmptyOrImagelessSubmissionNeverDispatched(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.Submit("no image yet")
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}
	f.orch.Submit("   \t  ")
	f.orch.Submit("")

	// Settle the loop with a blocking round-trip.
	f.orch.Reset()
	if f.pipeline.callCount() != 0 {
		t.Fatalf("boundary-rejected submissions reached the pipeline")
	}
	if len(f.orch.Transcript()) != 0 {
		t.Fatalf("boundary-rejected submissions reached the transcript")
	}
}

func TestVoiceFinalRoutedLikeTypedSubmission(t *testing.T) {
	var partials []string
	var mu sync.Mutex
	f := newFixtureWithCallbacks(t, nil, Callbacks{
		OnPartial: func(text string) {
			mu.Lock()
			partials = append(partials, text)
			mu.Unlock()
		},
	})
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}

	if err := f.orch.StartVoice(); err != nil {
		t.Fatalf("start voice: %v", err)
	}
	f.rec.emit(stt.Result{Text: "What"})
	f.rec.emit(stt.Result{Text: "What is"})
	f.rec.emit(stt.Result{Text: "What is this?", Final: true})

	waitFor(t, func() bool { return f.pipeline.callCount() == 1 })
	if q := f.pipeline.call(0).question; q != "What is this?" {
		t.Fatalf("expected final transcript submission, got %q", q)
	}
	// Partials never become submissions.
	time.Sleep(20 * time.Millisecond)
	if f.pipeline.callCount() != 1 {
		t.Fatalf("partials were submitted")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(partials) != 2 || partials[1] != "What is" {
		t.Fatalf("unexpected partials: %v", partials)
	}
}

func TestModeSwitchStopsActiveRecording(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}
	if err := f.orch.StartVoice(); err != nil {
		t.Fatalf("start voice: %v", err)
	}

	f.orch.SetMode(ModeText)
	waitFor(t, func() bool { return f.dev.removalCount() == 1 })

	// A final arriving after the forced stop is ignored.
	f.rec.emit(stt.Result{Text: "stale final", Final: true})
	time.Sleep(20 * time.Millisecond)
	if f.pipeline.callCount() != 0 {
		t.Fatalf("stale final was submitted after mode switch")
	}
}

func TestCaptureErrorSurfacesAsAssistantRecord(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}
	if err := f.orch.StartVoice(); err != nil {
		t.Fatalf("start voice: %v", err)
	}

	f.rec.emit(stt.Result{Err: context.DeadlineExceeded})
	waitFor(t, func() bool { return len(f.orch.Transcript()) == 1 })
	records := f.orch.Transcript()
	if records[0].Role != exchange.RoleAssistant {
		t.Fatalf("expected assistant record, got %+v", records[0])
	}
	waitFor(t, func() bool { return f.dev.removalCount() == 1 })
	if f.pipeline.callCount() != 0 {
		t.Fatalf("a failed recording must not submit a question")
	}
}

func TestResetArchivesTranscriptAndClearsImage(t *testing.T) {
	archive, err := exchange.OpenArchive(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archive.Close()

	f := newFixture(t, archive)
	if err := f.orch.SetImage(testImage(t)); err != nil {
		t.Fatalf("set image: %v", err)
	}

	f.orch.Submit("What color is it?")
	waitFor(t, func() bool { return f.pipeline.callCount() == 1 })
	release(f.pipeline.call(0), assist.Reply{Label: "ball", Text: "It is red."}, nil)
	waitFor(t, func() bool { return len(f.orch.Transcript()) == 2 })

	f.orch.Reset()
	if len(f.orch.Transcript()) != 0 {
		t.Fatalf("transcript must be empty after reset")
	}
	if f.orch.Label() != "" {
		t.Fatalf("image context must be dropped after reset")
	}

	sessions, err := archive.Sessions()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 archived session, got %d", len(sessions))
	}
	records, err := archive.SessionRecords(sessions[0])
	if err != nil {
		t.Fatalf("load archived records: %v", err)
	}
	if len(records) != 2 || records[0].Text != "What color is it?" || records[1].Text != "It is red." {
		t.Fatalf("unexpected archived records: %+v", records)
	}
}
