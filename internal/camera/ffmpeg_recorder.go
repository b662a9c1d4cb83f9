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

	"github.com/rs/zerolog"

	"signclip/internal/ports"
)

const (
	defaultTimeslice = 100 * time.Millisecond
	defaultFrameRate = 30
)

// DefaultMimeTypes is the encoding preference used when none is configured.
var DefaultMimeTypes = []string{
	"video/webm;codecs=vp8",
	"video/webm;codecs=vp9",
	"video/webm",
}

// FFMPEGRecorder encodes MJPEG stream frames into WebM fragments.
type FFMPEGRecorder struct {
	command string
	log     zerolog.Logger

	probeOnce sync.Once
	encoders  map[string]bool
}

func NewFFMPEGRecorder(command string, log zerolog.Logger) *FFMPEGRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGRecorder{command: command, log: log.With().Str("component", "recorder").Logger()}
}

func (r *FFMPEGRecorder) Start(ctx context.Context, stream ports.MediaStream, opts ports.RecordingOptions) (ports.Recording, error) {
	if stream == nil {
		return nil, errors.New("no live stream to record")
	}
	if opts.Timeslice <= 0 {
		opts.Timeslice = defaultTimeslice
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = defaultFrameRate
	}
	if len(opts.MimeTypes) == 0 {
		opts.MimeTypes = DefaultMimeTypes
	}

	mimeType, codec := selectEncoding(opts.MimeTypes, r.supportedEncoders(ctx))
	if codec == "" {
		return nil, fmt.Errorf("no supported encoder for %s", strings.Join(opts.MimeTypes, ", "))
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "mjpeg",
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-i", "-",
		"-c:v", codec,
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-f", "webm",
		"-",
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}

	frames, unsubscribe := stream.Subscribe()
	rec := &ffmpegRecording{
		mimeType:    mimeType,
		chunks:      make(chan []byte, 64),
		stdin:       stdin,
		process:     cmd.Process,
		stderr:      &stderr,
		unsubscribe: unsubscribe,
		feedDone:    make(chan struct{}),
		readDone:    make(chan struct{}),
		waitErr:     make(chan error, 1),
	}

	go rec.feed(frames)
	go rec.collect(stdout, opts.Timeslice)
	go func() {
		<-rec.readDone
		rec.waitErr <- cmd.Wait()
		close(rec.waitErr)
	}()

	r.log.Debug().Str("stream", stream.ID()).Str("mime", mimeType).Str("codec", codec).Msg("recording started")
	return rec, nil
}

func (r *FFMPEGRecorder) supportedEncoders(ctx context.Context) map[string]bool {
	r.probeOnce.Do(func() {
		out, err := exec.CommandContext(ctx, r.command, "-hide_banner", "-encoders").Output()
		if err != nil {
			r.log.Warn().Err(err).Msg("encoder probe failed; assuming libvpx")
			r.encoders = map[string]bool{"libvpx": true}
			return
		}
		r.encoders = parseEncoders(out)
	})
	return r.encoders
}

// parseEncoders reads the encoder names from `ffmpeg -encoders` output.
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	listing := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			listing = true
			continue
		}
		if !listing {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// selectEncoding returns the first preferred mime type with an available encoder.
func selectEncoding(mimeTypes []string, encoders map[string]bool) (string, string) {
	for _, mimeType := range mimeTypes {
		codec := codecFor(mimeType)
		if codec != "" && encoders[codec] {
			return mimeType, codec
		}
	}
	return "", ""
}

func codecFor(mimeType string) string {
	base, params, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(mimeType, " ", "")), ";")
	if base != "video/webm" {
		return ""
	}
	switch {
	case strings.Contains(params, "vp9"):
		return "libvpx-vp9"
	case strings.Contains(params, "vp8"), params == "":
		return "libvpx"
	default:
		return ""
	}
}

type ffmpegRecording struct {
	mimeType string
	chunks   chan []byte

	stdin       io.WriteCloser
	process     *os.Process
	stderr      *lockedBuffer
	unsubscribe func()

	feedDone chan struct{}
	readDone chan struct{}
	waitErr  chan error

	stopOnce sync.Once
	stopErr  error
}

func (r *ffmpegRecording) MimeType() string { return r.mimeType }

func (r *ffmpegRecording) Chunks() <-chan []byte { return r.chunks }

// feed writes stream frames to the encoder until unsubscribed.
func (r *ffmpegRecording) feed(frames <-chan []byte) {
	defer close(r.feedDone)
	defer r.stdin.Close()
	for frame := range frames {
		if _, err := r.stdin.Write(frame); err != nil {
			return
		}
	}
}

// collect emits encoder output as one chunk per timeslice and closes the
// chunk channel after the final flush.
func (r *ffmpegRecording) collect(stdout io.Reader, timeslice time.Duration) {
	defer close(r.readDone)
	defer close(r.chunks)

	data := make(chan []byte, 16)
	go func() {
		defer close(data)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				data <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	var pending bytes.Buffer
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		r.chunks <- append([]byte(nil), pending.Bytes()...)
		pending.Reset()
	}

	for {
		select {
		case b, ok := <-data:
			if !ok {
				flush()
				return
			}
			pending.Write(b)
		case <-ticker.C:
			flush()
		}
	}
}

// Stop detaches from the stream and lets the encoder finish the container.
func (r *ffmpegRecording) Stop() error {
	r.stopOnce.Do(func() {
		r.unsubscribe()
		<-r.feedDone

		select {
		case <-r.readDone:
		case <-time.After(3 * time.Second):
			if r.process != nil {
				_ = r.process.Kill()
			}
			<-r.readDone
		}

		if err, ok := <-r.waitErr; ok && err != nil {
			r.stopErr = normalizeStopErr(err)
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				r.stopErr = fmt.Errorf("encoder exited: %w", err)
			}
		}
		if r.stopErr != nil {
			if detail := stringsTrimSpaceSafe(r.stderr.String()); detail != "" {
				r.stopErr = fmt.Errorf("%w: %s", r.stopErr, detail)
			}
		}
	})
	return r.stopErr
}
