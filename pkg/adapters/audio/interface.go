package audio

// InputDevice is the microphone abstraction owned by the capture session.
// At most one tap may be installed at a time; the device is exclusively
// owned while recording.
type InputDevice interface {
	// Name returns device name for logging.
	Name() string
	// Activate prepares the device for streaming.
	Activate() error
	// InstallTap begins delivering fixed-size PCM buffers to fn. The
	// callback runs on the device's own thread; consumers must marshal.
	InstallTap(bufferSize int, fn func(pcm []byte)) error
	// RemoveTap stops buffer delivery.
	RemoveTap()
	// Deactivate releases the device.
	Deactivate() error
}

// Authorizer models the host platform's microphone permission flow.
// Access must be explicitly requested and may be denied at any time.
type Authorizer interface {
	// RequestAccess asks for microphone permission; done is invoked
	// asynchronously with the grant decision.
	RequestAccess(done func(granted bool))
}
