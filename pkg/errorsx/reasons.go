package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCapturePermission  ReasonCode = "capture_permission_denied"
	ReasonCaptureBusy        ReasonCode = "capture_already_recording"
	ReasonCaptureRecognition ReasonCode = "capture_recognition"
	ReasonCaptureDevice      ReasonCode = "capture_device"

	ReasonAssistServer    ReasonCode = "assist_server_error"
	ReasonAssistMalformed ReasonCode = "assist_malformed_response"
	ReasonAssistNetwork   ReasonCode = "assist_network"

	ReasonSpeechFetch ReasonCode = "speech_fetch"
	ReasonSpeechPlay  ReasonCode = "speech_play"

	ReasonArchiveWrite ReasonCode = "archive_write"
)
