package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names recorded by the session core.
const (
	EventQuestionSubmitted = "question_submitted"
	EventAnalyzeSubmitted  = "analyze_submitted"
	EventResponseApplied   = "response_applied"
	EventResponseError     = "response_error"
	EventCaptureStart      = "capture_start"
	EventCaptureFinal      = "capture_final"
	EventCaptureStop       = "capture_stop"
	EventPlaybackStart     = "playback_start"
	EventPlaybackPreempted = "playback_preempted"
	EventPlaybackDone      = "playback_done"
	EventSessionReset      = "session_reset"
)
