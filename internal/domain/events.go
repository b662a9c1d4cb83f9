package domain

import (
	"fmt"
	"time"
)

// Event names shared by the desktop runtime and the websocket hub.
const (
	EventDeviceState  = "signclip:device-state"
	EventCaptureState = "signclip:capture-state"
	EventProgress     = "signclip:progress"
	EventPrediction   = "signclip:prediction"
	EventError        = "signclip:error"
)

// CaptureEvent is the payload of EventCaptureState.
type CaptureEvent struct {
	State  CaptureState  `json:"state"`
	Reason CaptureReason `json:"reason"`
}

// ProgressEvent is the payload of EventProgress.
type ProgressEvent struct {
	SessionID string  `json:"sessionId"`
	ElapsedMs int64   `json:"elapsedMs"`
	TargetMs  int64   `json:"targetMs"`
	Fraction  float64 `json:"fraction"`
}

// Event converts progress into its wire payload.
func (p Progress) Event() ProgressEvent {
	return ProgressEvent{
		SessionID: p.SessionID,
		ElapsedMs: p.Elapsed.Milliseconds(),
		TargetMs:  p.Target.Milliseconds(),
		Fraction:  p.Fraction(),
	}
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// FormatElapsed renders progress as "1.2s / 2.0s".
func FormatElapsed(elapsed, target time.Duration) string {
	return fmt.Sprintf("%.1fs / %.1fs", elapsed.Seconds(), target.Seconds())
}
