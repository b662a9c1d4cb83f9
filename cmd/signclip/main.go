// Command signclip records one clip from the camera, submits it to the
// recognition service, and prints the outcome as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"signclip/internal/bootstrap"
	"signclip/internal/config"
	"signclip/internal/domain"
	"signclip/internal/usecase"
)

const version = "v0.1.0"

// report is the JSON document written to stdout.
type report struct {
	Device  domain.DeviceStatus  `json:"device"`
	Reason  domain.CaptureReason `json:"reason,omitempty"`
	Outcome domain.Outcome       `json:"outcome"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("signclip", flag.ContinueOnError)
	flags.SetOutput(stderr)
	device := flags.String("device", "", "camera device (overrides config)")
	classifierURL := flags.String("classifier", "", "recognition service base URL (overrides config)")
	duration := flags.Duration("duration", 0, "clip length (overrides config)")
	preview := flags.Bool("preview", false, "serve the live preview while recording")
	debug := flags.Bool("debug", false, "enable debug logging")
	showVersion := flags.Bool("version", false, "show version and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "signclip %s\n", version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(&cfg, *device, *classifierURL, *duration, *preview, *debug)

	sink := newSettleSink()
	services, err := bootstrap.BuildWithConfig(cfg, sink)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := services.Close(context.Background()); err != nil {
			services.Log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	if services.Preview != nil {
		if err := services.Preview.Start(); err != nil {
			services.Log.Warn().Err(err).Msg("preview server unavailable")
		} else {
			fmt.Fprintf(stderr, "Preview: %s/preview.mjpeg\n", services.Preview.URL())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := report{Device: services.Controller.Mount(ctx)}
	if !result.Device.Ready() {
		writeReport(stdout, result)
		return 1
	}

	if err := services.Controller.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stderr, "Recording %s clip (Ctrl-C stops early)...\n", cfg.Capture.Duration)

	select {
	case reason := <-sink.settled:
		result.Reason = reason
	case <-ctx.Done():
		// Interrupt stops the recording early; the clip is still submitted.
		reason, err := stopAndSettle(services.Controller, sink.settled, cfg.Classifier.Timeout+5*time.Second)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		result.Reason = reason
	}

	status := services.Controller.Status()
	result.Device = status.Device
	result.Outcome = status.Outcome
	writeReport(stdout, result)
	if result.Outcome.Error != nil {
		return 1
	}
	return 0
}

type stopper interface {
	Stop(ctx context.Context) (domain.Outcome, error)
}

// stopAndSettle stops the recording and waits for the cycle to report why it
// returned to idle. A stop that lost the race against the auto stop still
// settles through the sink.
func stopAndSettle(c stopper, settled <-chan domain.CaptureReason, timeout time.Duration) (domain.CaptureReason, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := c.Stop(ctx); err != nil && !errors.Is(err, usecase.ErrNotRecording) {
		return "", fmt.Errorf("stop recording: %w", err)
	}
	select {
	case reason := <-settled:
		return reason, nil
	case <-ctx.Done():
		return "", fmt.Errorf("capture did not settle: %w", ctx.Err())
	}
}

func applyFlags(cfg *config.Config, device, classifierURL string, duration time.Duration, preview, debug bool) {
	if device != "" {
		cfg.Camera.Device = device
	}
	if classifierURL != "" {
		cfg.Classifier.BaseURL = classifierURL
	}
	if duration > 0 {
		cfg.Capture.Duration = duration
	}
	cfg.Preview.Enabled = preview
	if debug {
		cfg.Log.Level = "debug"
	}
}

func writeReport(w io.Writer, result report) {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintln(w, string(payload))
}

// settleSink reports the reason each capture cycle returned to idle.
type settleSink struct {
	settled chan domain.CaptureReason
}

func newSettleSink() *settleSink {
	return &settleSink{settled: make(chan domain.CaptureReason, 1)}
}

func (s *settleSink) DeviceStateChanged(domain.DeviceStatus) {}

func (s *settleSink) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	if state != domain.CaptureStateIdle || reason == "" {
		return
	}
	select {
	case s.settled <- reason:
	default:
	}
}

func (s *settleSink) CaptureProgress(progress domain.Progress) {
	fmt.Fprintf(os.Stderr, "\r%s", domain.FormatElapsed(progress.Elapsed, progress.Target))
	if progress.Fraction() >= 1 {
		fmt.Fprintln(os.Stderr)
	}
}

func (s *settleSink) PredictionChanged(domain.Outcome) {}

func (s *settleSink) SessionError(code domain.ErrorCode, detail string) {
	fmt.Fprintf(os.Stderr, "\n%s: %s\n", code, detail)
}
