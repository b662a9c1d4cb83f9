package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"signclip/internal/bootstrap"
	"signclip/internal/domain"
	"signclip/internal/usecase"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.ClipController
	previewURL string
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.controller = services.Controller
	if services.Preview != nil {
		if err := services.Preview.Start(); err != nil {
			services.Log.Warn().Err(err).Msg("preview server unavailable")
			a.SessionError(domain.ErrorCodePreview, err.Error())
		} else {
			a.previewURL = services.Preview.URL()
		}
	}
	a.CaptureStateChanged(domain.CaptureStateIdle, "")

	go a.controller.Mount(ctx)
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	if err := a.services.Close(ctx); err != nil {
		a.services.Log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// EnableCamera retries camera acquisition after a failure.
func (a *App) EnableCamera() (domain.DeviceStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.DeviceStatus{}, err
	}
	return a.controller.RetryDevice(a.ctx), nil
}

// StartCapture begins a fixed-length recording. Starting while a capture is
// active is ignored.
func (a *App) StartCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrCaptureActive) {
			return a.controller.Status(), nil
		}
		var deviceErr *domain.DeviceError
		if errors.As(err, &deviceErr) {
			a.SessionError(domain.ErrorCodeDevice, domain.DeviceFailureMessage(deviceErr.Failure))
		}
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopCapture ends the recording early and waits for the prediction.
func (a *App) StopCapture() (domain.Outcome, error) {
	if err := a.requireReady(); err != nil {
		return domain.Outcome{}, err
	}
	outcome, err := a.controller.Stop(a.ctx)
	if err != nil {
		if errors.Is(err, usecase.ErrNotRecording) {
			return a.controller.Status().Outcome, nil
		}
		return domain.Outcome{}, err
	}
	return outcome, nil
}

// GetStatus returns the current device and capture status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{
			Device:  domain.DeviceStatus{State: domain.DeviceStateUninitialized},
			Capture: domain.CaptureStateIdle,
		}
		if a.bootErr != nil {
			status.Device = domain.DeviceStatus{
				State:   domain.DeviceStateFailed,
				Failure: domain.DeviceFailureUnknown,
				Message: a.bootErr.Error(),
			}
		}
		return status
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"classifier":     cfg.Classifier.BaseURL + cfg.Classifier.Path,
		"cameraDevice":   cfg.Camera.Device,
		"cameraFormat":   cfg.Camera.InputFormat,
		"resolution":     fmt.Sprintf("%dx%d@%d", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FrameRate),
		"clipDuration":   cfg.Capture.Duration.String(),
		"clipDurationMs": strconv.FormatInt(cfg.Capture.Duration.Milliseconds(), 10),
		"previewUrl":     a.previewURL,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// DeviceStateChanged emits camera lifecycle updates to the frontend.
func (a *App) DeviceStateChanged(status domain.DeviceStatus) {
	if a.ctx == nil {
		return
	}
	message := status.Message
	if message == "" {
		message = deviceStateMessage(status)
	}
	runtime.EventsEmit(a.ctx, domain.EventDeviceState, map[string]string{
		"state":   string(status.State),
		"failure": string(status.Failure),
		"message": message,
	})
}

// CaptureStateChanged emits recording cycle updates to the frontend.
func (a *App) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventCaptureState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": captureReasonMessage(reason),
	})
}

// CaptureProgress emits recording progress.
func (a *App) CaptureProgress(progress domain.Progress) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventProgress, map[string]any{
		"progress": progress.Event(),
		"label":    domain.FormatElapsed(progress.Elapsed, progress.Target),
	})
}

// PredictionChanged emits the latest outcome; an empty outcome clears it.
func (a *App) PredictionChanged(outcome domain.Outcome) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventPrediction, map[string]any{
		"outcome": outcome,
		"text":    predictionText(outcome),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventError, domain.ErrorEvent{
		Code:    code,
		Message: errorMessage(code, detail),
		Detail:  detail,
	})
}

func deviceStateMessage(status domain.DeviceStatus) string {
	switch status.State {
	case domain.DeviceStateRequesting:
		return "Requesting camera access..."
	case domain.DeviceStateReady:
		return "Camera ready"
	case domain.DeviceStateFailed:
		return domain.DeviceFailureMessage(status.Failure)
	default:
		return "Camera off"
	}
}

func captureReasonMessage(reason domain.CaptureReason) string {
	switch reason {
	case domain.CaptureReasonRecordingStarted:
		return "Recording..."
	case domain.CaptureReasonAutoStopped:
		return "Recording complete"
	case domain.CaptureReasonManualStopped:
		return "Recording stopped"
	case domain.CaptureReasonProcessing:
		return "Processing..."
	case domain.CaptureReasonPredictionReady:
		return "Prediction ready"
	case domain.CaptureReasonPredictionFailed:
		return "Prediction failed"
	case domain.CaptureReasonNothingCaptured:
		return "Nothing was recorded"
	case domain.CaptureReasonRecorderFailed:
		return "Recording failed to start"
	case domain.CaptureReasonDiscarded:
		return "Recording discarded"
	default:
		return ""
	}
}

func predictionText(outcome domain.Outcome) string {
	switch {
	case outcome.Result != nil:
		text := outcome.Result.Label
		if outcome.Result.TranslatedLabel != "" {
			text += " (" + outcome.Result.TranslatedLabel + ")"
		}
		return fmt.Sprintf("%s %.0f%%", text, outcome.Result.Confidence*100)
	case outcome.Error == nil:
		return ""
	case outcome.Error.Kind == domain.SubmissionConnectivityFailure:
		return "Could not reach the recognition service"
	default:
		if outcome.Error.Message != "" {
			return "Error: " + outcome.Error.Message
		}
		return "Error processing video"
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Camera unavailable"
	case domain.ErrorCodeCapture:
		return "Recording issue"
	case domain.ErrorCodeSubmission:
		return "Prediction failed"
	case domain.ErrorCodePreview:
		return "Preview unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
