package logging

import (
	"github.com/rs/zerolog"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

// EventLogger writes every controller event to the log.
type EventLogger struct {
	log zerolog.Logger
}

func NewEventLogger(log zerolog.Logger) *EventLogger {
	return &EventLogger{log: log.With().Str("component", "events").Logger()}
}

func (l *EventLogger) DeviceStateChanged(status domain.DeviceStatus) {
	event := l.log.Info()
	if status.State == domain.DeviceStateFailed {
		event = l.log.Warn()
	}
	event.Str("state", string(status.State)).
		Str("failure", string(status.Failure)).
		Msg("device state changed")
}

func (l *EventLogger) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	l.log.Info().Str("state", string(state)).Str("reason", string(reason)).Msg("capture state changed")
}

func (l *EventLogger) CaptureProgress(progress domain.Progress) {
	l.log.Trace().
		Str("session", progress.SessionID).
		Str("progress", domain.FormatElapsed(progress.Elapsed, progress.Target)).
		Msg("capture progress")
}

func (l *EventLogger) PredictionChanged(outcome domain.Outcome) {
	switch {
	case outcome.Result != nil:
		l.log.Info().
			Str("session", outcome.SessionID).
			Str("label", outcome.Result.Label).
			Str("translated", outcome.Result.TranslatedLabel).
			Float64("confidence", outcome.Result.Confidence).
			Msg("prediction")
	case outcome.Error != nil:
		l.log.Warn().
			Str("session", outcome.SessionID).
			Str("kind", string(outcome.Error.Kind)).
			Str("message", outcome.Error.Message).
			Msg("prediction failed")
	default:
		l.log.Debug().Msg("prediction cleared")
	}
}

func (l *EventLogger) SessionError(code domain.ErrorCode, detail string) {
	l.log.Error().Str("code", string(code)).Str("detail", detail).Msg("session error")
}

// Fanout forwards each event to every sink in order.
type Fanout []ports.EventSink

func (f Fanout) DeviceStateChanged(status domain.DeviceStatus) {
	for _, sink := range f {
		sink.DeviceStateChanged(status)
	}
}

func (f Fanout) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	for _, sink := range f {
		sink.CaptureStateChanged(state, reason)
	}
}

func (f Fanout) CaptureProgress(progress domain.Progress) {
	for _, sink := range f {
		sink.CaptureProgress(progress)
	}
}

func (f Fanout) PredictionChanged(outcome domain.Outcome) {
	for _, sink := range f {
		sink.PredictionChanged(outcome)
	}
}

func (f Fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}
