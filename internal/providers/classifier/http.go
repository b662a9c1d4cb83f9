// Package classifier submits recorded clips to the remote sign recognition service.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signclip/internal/domain"
)

const maxResponseBytes = 1 << 20

// Config controls the recognition endpoint.
type Config struct {
	BaseURL   string
	Path      string
	FieldName string
	FileName  string
	Timeout   time.Duration
}

// Provider implements ports.Classifier over multipart HTTP.
type Provider struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func NewProvider(cfg Config, log zerolog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:5000"
	}
	if cfg.Path == "" {
		cfg.Path = "/predict_video"
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "video"
	}
	if cfg.FileName == "" {
		cfg.FileName = "clip.webm"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "classifier").Logger(),
	}
}

// Classify posts one clip. No retries are attempted.
func (p *Provider) Classify(ctx context.Context, clip domain.Clip) (domain.PredictionResult, error) {
	body, contentType, err := encodeClip(p.cfg, clip)
	if err != nil {
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:    domain.SubmissionProcessingFailure,
			Message: "failed to encode clip",
			Err:     err,
		}
	}

	endpoint := strings.TrimRight(strings.TrimSpace(p.cfg.BaseURL), "/") + "/" + strings.TrimLeft(p.cfg.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:    domain.SubmissionConnectivityFailure,
			Message: "invalid classifier URL",
			Err:     err,
		}
	}
	requestID := clip.SessionID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:    domain.SubmissionConnectivityFailure,
			Message: "could not reach the recognition service",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:       domain.SubmissionConnectivityFailure,
			StatusCode: resp.StatusCode,
			Message:    "connection dropped while reading the response",
			Err:        err,
		}
	}

	p.log.Debug().
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Int("bytes", len(clip.Data)).
		Dur("took", time.Since(started)).
		Msg("classifier responded")

	return decodeResponse(resp.StatusCode, payload)
}

func encodeClip(cfg Config, clip domain.Clip) (io.Reader, string, error) {
	if clip.Empty() {
		return nil, "", errors.New("clip is empty")
	}
	mimeType := clip.MimeType
	if mimeType == "" {
		mimeType = "video/webm"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, cfg.FieldName, cfg.FileName))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

type predictResponse struct {
	Action      *string  `json:"action"`
	TamilAction *string  `json:"tamil_action"`
	Confidence  *float64 `json:"confidence"`
	Error       string   `json:"error"`
}

func decodeResponse(status int, payload []byte) (domain.PredictionResult, error) {
	var response predictResponse
	decodeErr := json.Unmarshal(payload, &response)

	if status < 200 || status > 299 {
		message := strings.TrimSpace(response.Error)
		if decodeErr != nil || message == "" {
			message = http.StatusText(status)
		}
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:       domain.SubmissionProcessingFailure,
			StatusCode: status,
			Message:    message,
		}
	}
	if decodeErr != nil {
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:       domain.SubmissionProcessingFailure,
			StatusCode: status,
			Message:    "malformed response from the recognition service",
			Err:        decodeErr,
		}
	}
	if message := strings.TrimSpace(response.Error); message != "" {
		return domain.PredictionResult{}, &domain.SubmissionError{
			Kind:       domain.SubmissionProcessingFailure,
			StatusCode: status,
			Message:    message,
		}
	}

	result := domain.PredictionResult{Label: domain.NoSignLabel}
	if response.Action != nil {
		if label := strings.TrimSpace(*response.Action); label != "" {
			result.Label = label
		}
	}
	if response.TamilAction != nil {
		result.TranslatedLabel = strings.TrimSpace(*response.TamilAction)
	}
	if response.Confidence != nil {
		result.Confidence = clampConfidence(*response.Confidence)
	}
	return result, nil
}

func clampConfidence(value float64) float64 {
	switch {
	case math.IsNaN(value):
		return 0
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
