package usecase

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

// resultReconciler maps one classifier round trip onto a single outcome.
type resultReconciler struct {
	classifier ports.Classifier
	events     ports.EventSink
	log        zerolog.Logger
}

func newResultReconciler(classifier ports.Classifier, events ports.EventSink, log zerolog.Logger) resultReconciler {
	return resultReconciler{classifier: classifier, events: events, log: log}
}

// Reconcile submits the clip exactly once and always yields either a result
// or an error.
func (r resultReconciler) Reconcile(ctx context.Context, clip domain.Clip) domain.Outcome {
	r.events.CaptureStateChanged(domain.CaptureStateFinalizing, domain.CaptureReasonProcessing)

	outcome := domain.Outcome{SessionID: clip.SessionID}
	result, err := r.classifier.Classify(ctx, clip)
	if err != nil {
		outcome.Error = predictionError(err)
		r.log.Warn().Err(err).Str("session", clip.SessionID).Str("kind", string(outcome.Error.Kind)).Msg("submission failed")
		return outcome
	}

	if strings.TrimSpace(result.Label) == "" {
		result.Label = domain.NoSignLabel
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	} else if result.Confidence > 1 {
		result.Confidence = 1
	}
	outcome.Result = &result
	r.log.Info().
		Str("session", clip.SessionID).
		Str("label", result.Label).
		Float64("confidence", result.Confidence).
		Msg("prediction ready")
	return outcome
}

func predictionError(err error) *domain.PredictionError {
	var submission *domain.SubmissionError
	if errors.As(err, &submission) {
		message := strings.TrimSpace(submission.Message)
		if message == "" {
			message = submission.Error()
		}
		return &domain.PredictionError{Kind: submission.Kind, Message: message}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.PredictionError{Kind: domain.SubmissionConnectivityFailure, Message: err.Error()}
	}
	return &domain.PredictionError{Kind: domain.SubmissionProcessingFailure, Message: err.Error()}
}
