package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"signclip/internal/domain"
)

func TestResultReconcilerMapsOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     domain.PredictionResult
		err        error
		wantLabel  string
		wantConf   float64
		wantKind   domain.SubmissionErrorKind
		wantErrMsg string
	}{
		{name: "success", result: domain.PredictionResult{Label: "thanks", Confidence: 0.7}, wantLabel: "thanks", wantConf: 0.7},
		{name: "blank label", result: domain.PredictionResult{Confidence: 0.1}, wantLabel: domain.NoSignLabel, wantConf: 0.1},
		{name: "clamped", result: domain.PredictionResult{Label: "yes", Confidence: 3}, wantLabel: "yes", wantConf: 1},
		{
			name:       "server error",
			err:        &domain.SubmissionError{Kind: domain.SubmissionProcessingFailure, StatusCode: 500, Message: "model crashed"},
			wantKind:   domain.SubmissionProcessingFailure,
			wantErrMsg: "model crashed",
		},
		{
			name:       "deadline",
			err:        fmt.Errorf("post: %w", context.DeadlineExceeded),
			wantKind:   domain.SubmissionConnectivityFailure,
			wantErrMsg: "post: context deadline exceeded",
		},
		{
			name:       "plain error",
			err:        errors.New("unexpected"),
			wantKind:   domain.SubmissionProcessingFailure,
			wantErrMsg: "unexpected",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			events := &fakeEventSink{}
			reconciler := newResultReconciler(&fakeClassifier{result: tc.result, err: tc.err}, events, zerolog.Nop())
			outcome := reconciler.Reconcile(context.Background(), domain.Clip{SessionID: "s1", Data: []byte("x")})

			if outcome.SessionID != "s1" {
				t.Fatalf("unexpected session id: %q", outcome.SessionID)
			}
			if (outcome.Result == nil) == (outcome.Error == nil) {
				t.Fatalf("expected exactly one of result or error: %+v", outcome)
			}
			if tc.err == nil {
				if outcome.Result.Label != tc.wantLabel || outcome.Result.Confidence != tc.wantConf {
					t.Fatalf("unexpected result: %+v", outcome.Result)
				}
			} else {
				if outcome.Error.Kind != tc.wantKind || outcome.Error.Message != tc.wantErrMsg {
					t.Fatalf("unexpected error: %+v", outcome.Error)
				}
			}

			states := events.snapshotStates()
			if len(states) != 1 || states[0].reason != domain.CaptureReasonProcessing {
				t.Fatalf("expected processing state before request, got %+v", states)
			}
		})
	}
}
