package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"signclip/internal/device"
	"signclip/internal/domain"
	"signclip/internal/ports"
)

type harness struct {
	controller *ClipController
	device     *device.Manager
	camera     *fakeCamera
	recorder   *fakeRecorder
	classifier *fakeClassifier
	events     *fakeEventSink
	clock      fakeClock
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, Config{Duration: 2 * time.Second, ProgressInterval: 100 * time.Millisecond})
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		camera:     &fakeCamera{},
		recorder:   &fakeRecorder{},
		classifier: &fakeClassifier{result: domain.PredictionResult{Label: "hello", Confidence: 0.5}},
		events:     &fakeEventSink{},
		clock:      clockwork.NewFakeClock(),
	}
	h.device = device.NewManager(h.camera, nil, h.events, ports.CameraConstraints{}, zerolog.Nop())
	h.controller = NewClipController(
		h.device,
		h.recorder,
		h.classifier,
		h.events,
		h.clock,
		cfg,
		zerolog.Nop(),
	)
	t.Cleanup(h.controller.Close)
	return h
}

// advanceUntil moves the fake clock forward until cond holds.
func advanceUntil(t *testing.T, clock fakeClock, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		clock.Advance(step)
		time.Sleep(2 * time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeCamera struct {
	mu      sync.Mutex
	err     error
	opens   int
	streams []*fakeMediaStream
}

func (f *fakeCamera) Open(_ context.Context, _ ports.CameraConstraints) (ports.MediaStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.err != nil {
		return nil, f.err
	}
	stream := newFakeMediaStream()
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeCamera) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCamera) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeCamera) lastStream() *fakeMediaStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeMediaStream struct {
	mu        sync.Mutex
	done      chan struct{}
	stopCalls int
}

func newFakeMediaStream() *fakeMediaStream {
	return &fakeMediaStream{done: make(chan struct{})}
}

func (f *fakeMediaStream) ID() string { return "fake-stream" }

func (f *fakeMediaStream) Tracks() []ports.Track { return []ports.Track{{Kind: "video", Label: "fake"}} }

func (f *fakeMediaStream) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func (f *fakeMediaStream) Done() <-chan struct{} { return f.done }

func (f *fakeMediaStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCalls == 0 {
		close(f.done)
	}
	f.stopCalls++
	return nil
}

func (f *fakeMediaStream) stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeRecorder struct {
	mu         sync.Mutex
	err        error
	stopErr    error
	recordings []*fakeRecording

	// gate holds Start until closed; entered is closed once Start blocks.
	gate         chan struct{}
	entered      chan struct{}
	ignoreCancel bool
}

func (f *fakeRecorder) Start(ctx context.Context, stream ports.MediaStream, _ ports.RecordingOptions) (ports.Recording, error) {
	f.mu.Lock()
	gate, entered, ignoreCancel := f.gate, f.entered, f.ignoreCancel
	f.mu.Unlock()
	if gate != nil {
		if entered != nil {
			close(entered)
		}
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if stream == nil {
		return nil, errors.New("nil stream")
	}
	if f.err != nil {
		return nil, f.err
	}
	recording := &fakeRecording{chunks: make(chan []byte, 64), stopErr: f.stopErr}
	f.recordings = append(f.recordings, recording)
	return recording, nil
}

func (f *fakeRecorder) last() *fakeRecording {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recordings) == 0 {
		return nil
	}
	return f.recordings[len(f.recordings)-1]
}

func (f *fakeRecorder) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recordings)
}

type fakeRecording struct {
	chunks  chan []byte
	stopErr error

	mu        sync.Mutex
	stopCalls int
}

func (f *fakeRecording) MimeType() string { return "video/webm;codecs=vp8" }

func (f *fakeRecording) Chunks() <-chan []byte { return f.chunks }

func (f *fakeRecording) emit(chunk []byte) {
	f.chunks <- chunk
}

func (f *fakeRecording) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCalls == 0 {
		close(f.chunks)
	}
	f.stopCalls++
	return f.stopErr
}

func (f *fakeRecording) stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeClassifier struct {
	mu      sync.Mutex
	result  domain.PredictionResult
	err     error
	block   bool
	started chan struct{}
	clips   []domain.Clip
}

func (f *fakeClassifier) Classify(ctx context.Context, clip domain.Clip) (domain.PredictionResult, error) {
	f.mu.Lock()
	f.clips = append(f.clips, clip)
	block := f.block
	started := f.started
	result, err := f.result, f.err
	f.mu.Unlock()

	if block {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return domain.PredictionResult{}, &domain.SubmissionError{Kind: domain.SubmissionConnectivityFailure, Err: ctx.Err()}
	}
	return result, err
}

func (f *fakeClassifier) calls() []domain.Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Clip, len(f.clips))
	copy(out, f.clips)
	return out
}

type fakeEventSink struct {
	mu sync.Mutex

	devices  []domain.DeviceStatus
	states   []stateEvent
	progress []domain.Progress
	outcomes []domain.Outcome
	errors   []errEvent
}

type stateEvent struct {
	state  domain.CaptureState
	reason domain.CaptureReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) DeviceStateChanged(status domain.DeviceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, status)
}

func (f *fakeEventSink) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) CaptureProgress(progress domain.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
}

func (f *fakeEventSink) PredictionChanged(outcome domain.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotOutcomes() []domain.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Outcome, len(f.outcomes))
	copy(out, f.outcomes)
	return out
}

func (f *fakeEventSink) snapshotProgress() []domain.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Progress, len(f.progress))
	copy(out, f.progress)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) countReason(reason domain.CaptureReason) int {
	count := 0
	for _, event := range f.snapshotStates() {
		if event.reason == reason {
			count++
		}
	}
	return count
}
