// Package camera captures webcam video and encodes clips with ffmpeg.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

const (
	defaultInputFormat = "v4l2"
	defaultDevice      = "/dev/video0"
	startupProbe       = 250 * time.Millisecond
	subscriberBuffer   = 16
	waitDelay          = 500 * time.Millisecond
)

// FFMPEGCamera streams MJPEG frames from a local camera using ffmpeg.
type FFMPEGCamera struct {
	command string
	log     zerolog.Logger
}

func NewFFMPEGCamera(command string, log zerolog.Logger) *FFMPEGCamera {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCamera{command: command, log: log.With().Str("component", "camera").Logger()}
}

func (c *FFMPEGCamera) Open(ctx context.Context, constraints ports.CameraConstraints) (ports.MediaStream, error) {
	if constraints.InputFormat == "" {
		constraints.InputFormat = defaultInputFormat
	}
	if constraints.Device == "" {
		constraints.Device = defaultDevice
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", constraints.InputFormat,
	}
	if constraints.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(constraints.FrameRate))
	}
	if constraints.Width > 0 && constraints.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", constraints.Width, constraints.Height))
	}
	args = append(args,
		"-i", constraints.Device,
		"-an",
		"-c:v", "mjpeg",
		"-q:v", "5",
		"-f", "image2pipe",
		"-",
	)

	// The stream outlives the acquisition request, so it is not bound to ctx.
	cmd := exec.Command(c.command, args...)
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartErr(err)
	}

	stream := &ffmpegStream{
		id:          uuid.NewString(),
		device:      constraints.Device,
		process:     cmd.Process,
		stdout:      stdout,
		stderr:      &stderr,
		subscribers: make(map[chan []byte]struct{}),
		readDone:    make(chan struct{}),
		exited:      make(chan struct{}),
		done:        make(chan struct{}),
		log:         c.log,
	}
	go stream.readLoop()
	go func() {
		// Wait closes the stdout pipe, so it runs only after the reader drained it.
		<-stream.readDone
		stream.exitErr = cmd.Wait()
		close(stream.exited)
	}()

	select {
	case <-stream.exited:
		detail := stringsTrimSpaceSafe(stderr.String())
		return nil, classifyExit(stream.exitErr, detail)
	case <-ctx.Done():
		stream.terminate()
		return nil, ctx.Err()
	case <-time.After(startupProbe):
	}
	go stream.supervise()

	if constraints.FacingMode != "" {
		c.log.Debug().Str("facing", constraints.FacingMode).Str("device", constraints.Device).Msg("facing mode ignored, ffmpeg selects cameras by device")
	}
	c.log.Info().
		Str("device", constraints.Device).
		Str("format", constraints.InputFormat).
		Int("width", constraints.Width).
		Int("height", constraints.Height).
		Int("fps", constraints.FrameRate).
		Msg("camera stream started")
	return stream, nil
}

type ffmpegStream struct {
	id      string
	device  string
	process *os.Process
	stdout  io.ReadCloser
	stderr  *lockedBuffer
	log     zerolog.Logger

	readDone chan struct{}
	// exitErr is written once before exited is closed.
	exitErr error
	exited  chan struct{}

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	closed      bool

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) ID() string { return s.id }

func (s *ffmpegStream) Tracks() []ports.Track {
	return []ports.Track{{Kind: "video", Label: s.device}}
}

func (s *ffmpegStream) Done() <-chan struct{} { return s.done }

// Subscribe registers a frame consumer. Slow consumers drop their oldest frame.
func (s *ffmpegStream) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (s *ffmpegStream) readLoop() {
	defer close(s.readDone)

	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		s.publish(frame)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Warn().Err(err).Str("stream", s.id).Msg("camera frame read failed")
	}
	s.closeSubscribers()
}

// supervise marks the stream done when ffmpeg exits on its own.
func (s *ffmpegStream) supervise() {
	<-s.exited
	s.stopOnce.Do(func() {
		s.stopErr = s.annotate(normalizeStopErr(s.exitErr))
		close(s.done)
	})
}

func (s *ffmpegStream) publish(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

func (s *ffmpegStream) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

// Stop interrupts ffmpeg and waits for it to exit.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		select {
		case <-s.exited:
		case <-time.After(1200 * time.Millisecond):
			s.terminate()
		}
		s.stopErr = s.annotate(normalizeStopErr(s.exitErr))
		s.closeSubscribers()
		close(s.done)
	})
	return s.stopErr
}

// terminate kills ffmpeg and blocks until it is reaped. A child that still
// holds the pipe would keep the reader blocked, so stdout is closed after
// waitDelay.
func (s *ffmpegStream) terminate() {
	if s.process != nil {
		_ = s.process.Kill()
	}
	select {
	case <-s.exited:
	case <-time.After(waitDelay):
		_ = s.stdout.Close()
		<-s.exited
	}
}

func (s *ffmpegStream) annotate(err error) error {
	if err == nil {
		return nil
	}
	if detail := stringsTrimSpaceSafe(s.stderr.String()); detail != "" {
		return fmt.Errorf("%w: %s", err, detail)
	}
	return err
}

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// splitJPEG is a bufio.SplitFunc yielding whole JPEG images from an MJPEG pipe.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xff that may begin the next marker.
		if n := len(data); n > 0 && data[n-1] == 0xff {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}

// classifyStartErr maps exec failures onto device failure sentinels.
func classifyStartErr(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: ffmpeg is not installed: %v", domain.ErrUnsupported, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", domain.ErrUnsupported, err)
	default:
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
}

// classifyExit maps an early ffmpeg exit onto device failure sentinels using
// the messages ffmpeg prints for v4l2/avfoundation/dshow open errors.
func classifyExit(err error, stderr string) error {
	detail := stderr
	if detail == "" && err != nil {
		detail = err.Error()
	}
	if detail == "" {
		detail = "ffmpeg exited before capture started"
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, detail)
	case strings.Contains(lower, "no such file or directory"), strings.Contains(lower, "no such device"),
		strings.Contains(lower, "could not find video device"), strings.Contains(lower, "video device not found"):
		return fmt.Errorf("%w: %s", domain.ErrNoDevice, detail)
	case strings.Contains(lower, "device or resource busy"), strings.Contains(lower, "in use"):
		return fmt.Errorf("%w: %s", domain.ErrDeviceBusy, detail)
	case strings.Contains(lower, "unknown input format"), strings.Contains(lower, "not supported"):
		return fmt.Errorf("%w: %s", domain.ErrUnsupported, detail)
	default:
		return fmt.Errorf("ffmpeg exited before capture started: %s", detail)
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer is a bytes.Buffer safe for ffmpeg's stderr copier and readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
