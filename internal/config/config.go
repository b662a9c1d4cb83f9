package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the clip pipeline.
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Capture    CaptureConfig    `yaml:"capture"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Preview    PreviewConfig    `yaml:"preview"`
	Log        LogConfig        `yaml:"log"`

	// Source is the config file that was applied, if any.
	Source string `yaml:"-"`
}

type CameraConfig struct {
	FFmpegCommand string `yaml:"ffmpeg_command"`
	InputFormat   string `yaml:"input_format"`
	Device        string `yaml:"device"`
	FacingMode    string `yaml:"facing_mode"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FrameRate     int    `yaml:"frame_rate"`
}

type CaptureConfig struct {
	Duration         time.Duration `yaml:"duration"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	Timeslice        time.Duration `yaml:"timeslice"`
	MimeTypes        []string      `yaml:"mime_types"`
}

type ClassifierConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Path      string        `yaml:"path"`
	FieldName string        `yaml:"field_name"`
	FileName  string        `yaml:"file_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
	JSON    bool   `yaml:"json"`
}

// Defaults returns the built-in configuration.
func Defaults(home string) Config {
	return Config{
		Camera: CameraConfig{
			FFmpegCommand: "ffmpeg",
			InputFormat:   "v4l2",
			Device:        "/dev/video0",
			FacingMode:    "user",
			Width:         1280,
			Height:        720,
			FrameRate:     30,
		},
		Capture: CaptureConfig{
			Duration:         2 * time.Second,
			ProgressInterval: 100 * time.Millisecond,
			Timeslice:        100 * time.Millisecond,
			MimeTypes:        []string{"video/webm;codecs=vp8", "video/webm;codecs=vp9", "video/webm"},
		},
		Classifier: ClassifierConfig{
			BaseURL:   "http://localhost:5000",
			Path:      "/predict_video",
			FieldName: "video",
			FileName:  "clip.webm",
			Timeout:   30 * time.Second,
		},
		Preview: PreviewConfig{
			Enabled: true,
			Addr:    "127.0.0.1:0",
		},
		Log: LogConfig{
			Level:   "info",
			File:    filepath.Join(home, ".local", "state", "signclip", "signclip.log"),
			Console: true,
		},
	}
}

// Load resolves configuration from defaults, the YAML config file, and
// environment variables, in that order.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	cfg := Defaults(home)

	path := strings.TrimSpace(os.Getenv("SIGNCLIP_CONFIG"))
	explicit := path != ""
	if !explicit {
		path = firstExisting(filepath.Join(home, ".config", "signclip", "config.yaml"))
	}
	if err := applyFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string, required bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Source = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Camera.FFmpegCommand = envOrDefault("SIGNCLIP_FFMPEG_COMMAND", cfg.Camera.FFmpegCommand)
	cfg.Camera.InputFormat = envOrDefault("SIGNCLIP_CAMERA_FORMAT", cfg.Camera.InputFormat)
	cfg.Camera.Device = firstNonEmpty(os.Getenv("SIGNCLIP_CAMERA_DEVICE"), os.Getenv("SIGNCLIP_VIDEO_DEVICE"), cfg.Camera.Device)
	cfg.Camera.FacingMode = envOrDefault("SIGNCLIP_CAMERA_FACING", cfg.Camera.FacingMode)
	cfg.Camera.Width = envOrDefaultInt("SIGNCLIP_CAMERA_WIDTH", cfg.Camera.Width)
	cfg.Camera.Height = envOrDefaultInt("SIGNCLIP_CAMERA_HEIGHT", cfg.Camera.Height)
	cfg.Camera.FrameRate = envOrDefaultInt("SIGNCLIP_CAMERA_FPS", cfg.Camera.FrameRate)

	cfg.Capture.Duration = envOrDefaultDuration("SIGNCLIP_CAPTURE_DURATION", cfg.Capture.Duration)
	cfg.Capture.ProgressInterval = envOrDefaultDuration("SIGNCLIP_PROGRESS_INTERVAL", cfg.Capture.ProgressInterval)
	cfg.Capture.Timeslice = envOrDefaultDuration("SIGNCLIP_TIMESLICE", cfg.Capture.Timeslice)
	if mimeTypes := envList("SIGNCLIP_MIME_TYPES"); len(mimeTypes) > 0 {
		cfg.Capture.MimeTypes = mimeTypes
	}

	cfg.Classifier.BaseURL = envOrDefault("SIGNCLIP_CLASSIFIER_URL", cfg.Classifier.BaseURL)
	cfg.Classifier.Path = envOrDefault("SIGNCLIP_CLASSIFIER_PATH", cfg.Classifier.Path)
	cfg.Classifier.Timeout = envOrDefaultDuration("SIGNCLIP_CLASSIFIER_TIMEOUT", cfg.Classifier.Timeout)

	cfg.Preview.Enabled = envOrDefaultBool("SIGNCLIP_PREVIEW_ENABLED", cfg.Preview.Enabled)
	cfg.Preview.Addr = envOrDefault("SIGNCLIP_PREVIEW_ADDR", cfg.Preview.Addr)

	cfg.Log.Level = envOrDefault("SIGNCLIP_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envOrDefault("SIGNCLIP_LOG_FILE", cfg.Log.File)
	cfg.Log.JSON = envOrDefaultBool("SIGNCLIP_LOG_JSON", cfg.Log.JSON)
}

// sanitize replaces unusable numeric values with defaults.
func sanitize(cfg *Config) {
	defaults := Defaults("")
	if cfg.Camera.Width < 0 {
		cfg.Camera.Width = 0
	}
	if cfg.Camera.Height < 0 {
		cfg.Camera.Height = 0
	}
	if cfg.Camera.FrameRate <= 0 {
		cfg.Camera.FrameRate = defaults.Camera.FrameRate
	}
	if cfg.Capture.Duration <= 0 {
		cfg.Capture.Duration = defaults.Capture.Duration
	}
	if cfg.Capture.ProgressInterval <= 0 {
		cfg.Capture.ProgressInterval = defaults.Capture.ProgressInterval
	}
	if cfg.Capture.Timeslice <= 0 {
		cfg.Capture.Timeslice = defaults.Capture.Timeslice
	}
	if len(cfg.Capture.MimeTypes) == 0 {
		cfg.Capture.MimeTypes = defaults.Capture.MimeTypes
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = defaults.Classifier.Timeout
	}
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Camera.FFmpegCommand) == "" {
		errs = append(errs, errors.New("camera.ffmpeg_command is required"))
	}
	if c.Capture.ProgressInterval > c.Capture.Duration {
		errs = append(errs, fmt.Errorf("capture.progress_interval (%s) exceeds capture.duration (%s)", c.Capture.ProgressInterval, c.Capture.Duration))
	}
	if c.Capture.Timeslice > c.Capture.Duration {
		errs = append(errs, fmt.Errorf("capture.timeslice (%s) exceeds capture.duration (%s)", c.Capture.Timeslice, c.Capture.Duration))
	}
	for _, mimeType := range c.Capture.MimeTypes {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/") {
			errs = append(errs, fmt.Errorf("capture.mime_types: %q is not a video type", mimeType))
		}
	}
	parsed, err := url.Parse(c.Classifier.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("classifier.base_url %q must be an http(s) URL", c.Classifier.BaseURL))
	}
	return errors.Join(errs...)
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("2s") or bare milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		if ms <= 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
