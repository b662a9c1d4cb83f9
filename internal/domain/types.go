package domain

import "time"

// DeviceState models the camera acquisition lifecycle.
type DeviceState string

const (
	DeviceStateUninitialized DeviceState = "uninitialized"
	DeviceStateRequesting    DeviceState = "requesting"
	DeviceStateReady         DeviceState = "ready"
	DeviceStateFailed        DeviceState = "failed"
)

// DeviceFailure classifies why the camera could not be acquired.
type DeviceFailure string

const (
	DeviceFailureNone             DeviceFailure = ""
	DeviceFailurePermissionDenied DeviceFailure = "permission_denied"
	DeviceFailureNoDevice         DeviceFailure = "no_device"
	DeviceFailureDeviceBusy       DeviceFailure = "device_busy"
	DeviceFailureUnsupported      DeviceFailure = "unsupported"
	DeviceFailureUnknown          DeviceFailure = "unknown"
)

// DeviceStatus is the externally visible device state.
type DeviceStatus struct {
	State   DeviceState   `json:"state"`
	Failure DeviceFailure `json:"failure,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Ready reports whether a capture may start on this device.
func (s DeviceStatus) Ready() bool {
	return s.State == DeviceStateReady
}

// CaptureState models the recording cycle.
type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStateRecording  CaptureState = "recording"
	CaptureStateFinalizing CaptureState = "finalizing"
)

// CaptureReason provides a structured reason for capture transitions.
type CaptureReason string

const (
	CaptureReasonRecordingStarted CaptureReason = "recording_started"
	CaptureReasonAutoStopped      CaptureReason = "auto_stopped"
	CaptureReasonManualStopped    CaptureReason = "manual_stopped"
	CaptureReasonProcessing       CaptureReason = "processing"
	CaptureReasonPredictionReady  CaptureReason = "prediction_ready"
	CaptureReasonPredictionFailed CaptureReason = "prediction_failed"
	CaptureReasonNothingCaptured  CaptureReason = "nothing_captured"
	CaptureReasonRecorderFailed   CaptureReason = "recorder_failed"
	CaptureReasonDiscarded        CaptureReason = "discarded"
)

// ErrorCode identifies non-fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodeCapture    ErrorCode = "capture"
	ErrorCodeSubmission ErrorCode = "submission"
	ErrorCodePreview    ErrorCode = "preview"
)

// NoSignLabel is shown when the classifier answers without a label.
const NoSignLabel = "No sign detected"

// Clip is a finalized recording. It is submitted exactly once.
type Clip struct {
	SessionID  string `json:"sessionId"`
	MimeType   string `json:"mimeType"`
	Data       []byte `json:"-"`
	ChunkCount int    `json:"chunkCount"`
}

// Empty reports whether nothing was captured.
func (c Clip) Empty() bool {
	return len(c.Data) == 0
}

// PredictionResult is a successful classification.
type PredictionResult struct {
	Label           string  `json:"label"`
	TranslatedLabel string  `json:"translatedLabel,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// SubmissionErrorKind separates server-reported failures from missing responses.
type SubmissionErrorKind string

const (
	SubmissionProcessingFailure   SubmissionErrorKind = "processing_failure"
	SubmissionConnectivityFailure SubmissionErrorKind = "connectivity_failure"
)

// PredictionError is a failed classification.
type PredictionError struct {
	Kind    SubmissionErrorKind `json:"kind"`
	Message string              `json:"message"`
}

// Outcome holds at most one of Result or Error.
type Outcome struct {
	SessionID string            `json:"sessionId,omitempty"`
	Result    *PredictionResult `json:"result,omitempty"`
	Error     *PredictionError  `json:"error,omitempty"`
}

// Empty reports whether the outcome has been cleared.
func (o Outcome) Empty() bool {
	return o.Result == nil && o.Error == nil
}

// Progress reports recording progress for UI feedback.
type Progress struct {
	SessionID string        `json:"sessionId"`
	Elapsed   time.Duration `json:"elapsed"`
	Target    time.Duration `json:"target"`
}

// Fraction returns elapsed/target clamped to [0,1].
func (p Progress) Fraction() float64 {
	if p.Target <= 0 {
		return 0
	}
	f := float64(p.Elapsed) / float64(p.Target)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// Status summarizes the controller for polling UIs.
type Status struct {
	Device  DeviceStatus `json:"device"`
	Capture CaptureState `json:"capture"`
	Outcome Outcome      `json:"outcome"`
}
