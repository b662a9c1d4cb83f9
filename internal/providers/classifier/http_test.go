package classifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"signclip/internal/domain"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, zerolog.Nop())
	if p.cfg.BaseURL != "http://localhost:5000" {
		t.Fatalf("unexpected base url: %q", p.cfg.BaseURL)
	}
	if p.cfg.Path != "/predict_video" || p.cfg.FieldName != "video" || p.cfg.FileName != "clip.webm" {
		t.Fatalf("unexpected defaults: %+v", p.cfg)
	}
}

func TestClassifySuccessWithTranslation(t *testing.T) {
	t.Parallel()

	var (
		gotField    []byte
		gotFileName string
		gotMime     string
		gotID       string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict_video" {
			http.Error(w, "unexpected route", http.StatusNotFound)
			return
		}
		gotID = r.Header.Get("X-Request-ID")
		file, header, err := r.FormFile("video")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFileName = header.Filename
		gotMime = header.Header.Get("Content-Type")
		gotField, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action":"hello","tamil_action":"வணக்கம்","confidence":0.92}`))
	}))
	defer server.Close()

	p := NewProvider(Config{BaseURL: server.URL + "/"}, zerolog.Nop())
	clip := domain.Clip{SessionID: "session-1", MimeType: "video/webm;codecs=vp8", Data: []byte("clipdata"), ChunkCount: 2}

	result, err := p.Classify(context.Background(), clip)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if result.Label != "hello" || result.TranslatedLabel != "வணக்கம்" || result.Confidence != 0.92 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if string(gotField) != "clipdata" {
		t.Fatalf("unexpected uploaded bytes: %q", gotField)
	}
	if gotFileName != "clip.webm" {
		t.Fatalf("unexpected filename: %q", gotFileName)
	}
	if gotMime != "video/webm;codecs=vp8" {
		t.Fatalf("unexpected part content type: %q", gotMime)
	}
	if gotID != "session-1" {
		t.Fatalf("unexpected request id: %q", gotID)
	}
}

func TestClassifyServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	_, err := NewProvider(Config{BaseURL: server.URL}, zerolog.Nop()).Classify(context.Background(), testClip())
	submission := requireSubmissionError(t, err, domain.SubmissionProcessingFailure)
	if submission.StatusCode != http.StatusInternalServerError || submission.Message != "model not loaded" {
		t.Fatalf("unexpected submission error: %+v", submission)
	}
}

func TestClassifyNon2xxWithoutBodyUsesStatusText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewProvider(Config{BaseURL: server.URL}, zerolog.Nop()).Classify(context.Background(), testClip())
	submission := requireSubmissionError(t, err, domain.SubmissionProcessingFailure)
	if submission.Message != "Bad Gateway" {
		t.Fatalf("unexpected message: %q", submission.Message)
	}
}

func TestClassifyMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	_, err := NewProvider(Config{BaseURL: server.URL}, zerolog.Nop()).Classify(context.Background(), testClip())
	requireSubmissionError(t, err, domain.SubmissionProcessingFailure)
}

func TestClassifyErrorFieldInSuccessBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"no hands detected"}`))
	}))
	defer server.Close()

	_, err := NewProvider(Config{BaseURL: server.URL}, zerolog.Nop()).Classify(context.Background(), testClip())
	submission := requireSubmissionError(t, err, domain.SubmissionProcessingFailure)
	if submission.Message != "no hands detected" {
		t.Fatalf("unexpected message: %q", submission.Message)
	}
}

func TestClassifyConnectivityFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewProvider(Config{BaseURL: url}, zerolog.Nop()).Classify(context.Background(), testClip())
	requireSubmissionError(t, err, domain.SubmissionConnectivityFailure)
}

func TestDecodeResponseDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    domain.PredictionResult
	}{
		{name: "missing label", payload: `{"confidence":0.4}`, want: domain.PredictionResult{Label: domain.NoSignLabel, Confidence: 0.4}},
		{name: "missing confidence", payload: `{"action":"thanks"}`, want: domain.PredictionResult{Label: "thanks"}},
		{name: "clamped high", payload: `{"action":"yes","confidence":1.7}`, want: domain.PredictionResult{Label: "yes", Confidence: 1}},
		{name: "clamped low", payload: `{"action":"no","confidence":-0.2}`, want: domain.PredictionResult{Label: "no"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeResponse(http.StatusOK, []byte(tc.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestEncodeClipRejectsEmptyClip(t *testing.T) {
	t.Parallel()

	if _, _, err := encodeClip(Config{FieldName: "video", FileName: "clip.webm"}, domain.Clip{}); err == nil {
		t.Fatalf("expected empty clip error")
	}
}

func testClip() domain.Clip {
	return domain.Clip{SessionID: "s", MimeType: "video/webm", Data: []byte("x"), ChunkCount: 1}
}

func requireSubmissionError(t *testing.T, err error, kind domain.SubmissionErrorKind) *domain.SubmissionError {
	t.Helper()
	var submission *domain.SubmissionError
	if !errors.As(err, &submission) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if submission.Kind != kind {
		t.Fatalf("expected kind %s, got %s", kind, submission.Kind)
	}
	return submission
}
