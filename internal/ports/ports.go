package ports

import (
	"context"
	"time"

	"signclip/internal/domain"
)

// CameraConstraints are best-effort hints for camera acquisition.
type CameraConstraints struct {
	InputFormat string
	Device      string
	FacingMode  string
	Width       int
	Height      int
	FrameRate   int
}

// Track describes one media track of a live stream.
type Track struct {
	Kind  string
	Label string
}

// MediaStream is a live camera stream. Only its owner may call Stop.
type MediaStream interface {
	ID() string
	Tracks() []Track
	// Subscribe returns encoded frames in arrival order until the returned
	// cancel func is called or the stream stops.
	Subscribe() (<-chan []byte, func())
	Done() <-chan struct{}
	Stop() error
}

// Camera opens live camera streams.
type Camera interface {
	Open(ctx context.Context, constraints CameraConstraints) (MediaStream, error)
}

// RecordingOptions controls how a stream is encoded.
type RecordingOptions struct {
	MimeTypes []string
	Timeslice time.Duration
	FrameRate int
}

// Recording is an active recorder. Chunks is closed once the recorder has
// flushed its final fragment after Stop, or when the stream ends.
type Recording interface {
	MimeType() string
	Chunks() <-chan []byte
	Stop() error
}

// Recorder binds recordings to a live stream.
type Recorder interface {
	Start(ctx context.Context, stream MediaStream, opts RecordingOptions) (Recording, error)
}

// Classifier submits one clip to the remote recognition service.
type Classifier interface {
	Classify(ctx context.Context, clip domain.Clip) (domain.PredictionResult, error)
}

// PreviewSurface renders the live stream while the device is ready.
type PreviewSurface interface {
	Bind(stream MediaStream) error
	Unbind()
}

// EventSink emits controller state/events to the UI.
type EventSink interface {
	DeviceStateChanged(status domain.DeviceStatus)
	CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason)
	CaptureProgress(progress domain.Progress)
	PredictionChanged(outcome domain.Outcome)
	SessionError(code domain.ErrorCode, detail string)
}

// DeviceManager owns the camera. Capture borrows its stream but never stops it.
type DeviceManager interface {
	Acquire(ctx context.Context) domain.DeviceStatus
	Release()
	Stream() (MediaStream, bool)
	Status() domain.DeviceStatus
}
