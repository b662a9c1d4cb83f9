package bootstrap

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"signclip/internal/camera"
	"signclip/internal/config"
	"signclip/internal/device"
	"signclip/internal/logging"
	"signclip/internal/ports"
	"signclip/internal/preview"
	"signclip/internal/providers/classifier"
	"signclip/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.ClipController
	// Preview is nil when the preview server is disabled.
	Preview *preview.Server
	Config  config.Config
	Log     zerolog.Logger

	logCloser io.Closer
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink)
}

// BuildWithConfig wires the runtime from an already resolved configuration.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	if err := cfg.Validate(); err != nil {
		return Services{}, err
	}

	log, logCloser, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
		JSON:    cfg.Log.JSON,
	})
	if err != nil {
		return Services{}, err
	}
	if cfg.Source != "" {
		log.Info().Str("path", cfg.Source).Msg("config file loaded")
	}

	sinks := logging.Fanout{logging.NewEventLogger(log)}
	if eventSink != nil {
		sinks = append(sinks, eventSink)
	}

	var (
		previewServer *preview.Server
		surface       ports.PreviewSurface
	)
	if cfg.Preview.Enabled {
		hub := preview.NewEventHub(log)
		previewServer = preview.NewServer(preview.Config{Addr: cfg.Preview.Addr}, hub, log)
		surface = previewServer
		sinks = append(sinks, hub)
	}

	deviceManager := device.NewManager(
		camera.NewFFMPEGCamera(cfg.Camera.FFmpegCommand, log),
		surface,
		sinks,
		ports.CameraConstraints{
			InputFormat: cfg.Camera.InputFormat,
			Device:      cfg.Camera.Device,
			FacingMode:  cfg.Camera.FacingMode,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FrameRate:   cfg.Camera.FrameRate,
		},
		log,
	)

	controller := usecase.NewClipController(
		deviceManager,
		camera.NewFFMPEGRecorder(cfg.Camera.FFmpegCommand, log),
		classifier.NewProvider(classifier.Config{
			BaseURL:   cfg.Classifier.BaseURL,
			Path:      cfg.Classifier.Path,
			FieldName: cfg.Classifier.FieldName,
			FileName:  cfg.Classifier.FileName,
			Timeout:   cfg.Classifier.Timeout,
		}, log),
		sinks,
		clockwork.NewRealClock(),
		usecase.Config{
			Duration:         cfg.Capture.Duration,
			ProgressInterval: cfg.Capture.ProgressInterval,
			Recording: ports.RecordingOptions{
				MimeTypes: cfg.Capture.MimeTypes,
				Timeslice: cfg.Capture.Timeslice,
				FrameRate: cfg.Camera.FrameRate,
			},
		},
		log,
	)
	if previewServer != nil {
		previewServer.SetStatusSource(controller.Status)
	}

	return Services{
		Controller: controller,
		Preview:    previewServer,
		Config:     cfg,
		Log:        log,
		logCloser:  logCloser,
	}, nil
}

// Close releases the camera, stops the preview server, and flushes logs.
func (s Services) Close(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		s.Controller.Close()
	}
	if s.Preview != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		errs = append(errs, s.Preview.Shutdown(shutdownCtx))
		cancel()
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	return errors.Join(errs...)
}
