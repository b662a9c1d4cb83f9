package domain

import (
	"errors"
	"fmt"
)

// Device failure categories reported by camera adapters.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera found")
	ErrDeviceBusy       = errors.New("camera is in use by another application")
	ErrUnsupported      = errors.New("camera capture is not supported")
)

// ClassifyDeviceError maps an adapter error onto a DeviceFailure.
func ClassifyDeviceError(err error) DeviceFailure {
	switch {
	case err == nil:
		return DeviceFailureNone
	case errors.Is(err, ErrPermissionDenied):
		return DeviceFailurePermissionDenied
	case errors.Is(err, ErrNoDevice):
		return DeviceFailureNoDevice
	case errors.Is(err, ErrDeviceBusy):
		return DeviceFailureDeviceBusy
	case errors.Is(err, ErrUnsupported):
		return DeviceFailureUnsupported
	default:
		return DeviceFailureUnknown
	}
}

// DeviceFailureMessage returns the user-facing hint for a failure.
func DeviceFailureMessage(failure DeviceFailure) string {
	switch failure {
	case DeviceFailurePermissionDenied:
		return "Please allow camera permission."
	case DeviceFailureNoDevice:
		return "No camera found. Please connect a camera."
	case DeviceFailureDeviceBusy:
		return "Camera is in use by another application."
	case DeviceFailureUnsupported:
		return "Camera capture is not supported on this system."
	case DeviceFailureNone:
		return ""
	default:
		return "Unknown camera error."
	}
}

// DeviceError rejects a capture because the device is not ready.
type DeviceError struct {
	Failure DeviceFailure
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("camera not ready: %s", e.Failure)
	}
	return fmt.Sprintf("camera not ready: %s: %s", e.Failure, e.Message)
}

// CaptureError reports that the recorder could not start.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("recording failed to start: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// SubmissionError reports a failed classifier round trip.
type SubmissionError struct {
	Kind       SubmissionErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }
