package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

var (
	ErrCaptureActive = errors.New("a capture session is already active")
	ErrNotRecording  = errors.New("no recording in progress")
	ErrClosed        = errors.New("clip controller is closed")
)

const (
	eventStart   = "start"
	eventStop    = "stop"
	eventSettle  = "settle"
	eventDiscard = "discard"
)

// Config controls the capture window.
type Config struct {
	Duration         time.Duration
	ProgressInterval time.Duration
	Recording        ports.RecordingOptions
}

// ClipController drives acquire -> record -> submit -> reconcile.
type ClipController struct {
	device     ports.DeviceManager
	recorder   ports.Recorder
	reconciler resultReconciler
	events     ports.EventSink
	clock      clockwork.Clock
	cfg        Config
	log        zerolog.Logger

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	closeOnce sync.Once

	mu      sync.Mutex
	machine *fsm.FSM
	session *captureSession
	outcome domain.Outcome
	closed  bool
}

func NewClipController(
	device ports.DeviceManager,
	recorder ports.Recorder,
	classifier ports.Classifier,
	events ports.EventSink,
	clock clockwork.Clock,
	cfg Config,
	log zerolog.Logger,
) *ClipController {
	if cfg.Duration <= 0 {
		cfg.Duration = 2 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	if cfg.Recording.Timeslice <= 0 {
		cfg.Recording.Timeslice = 100 * time.Millisecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log = log.With().Str("component", "controller").Logger()

	lifetime, cancel := context.WithCancel(context.Background())
	return &ClipController{
		device:     device,
		recorder:   recorder,
		reconciler: newResultReconciler(classifier, events, log),
		events:     events,
		clock:      clock,
		cfg:        cfg,
		log:        log,
		lifetime:   lifetime,
		cancel:     cancel,
		machine: fsm.NewFSM(
			string(domain.CaptureStateIdle),
			fsm.Events{
				{Name: eventStart, Src: []string{string(domain.CaptureStateIdle)}, Dst: string(domain.CaptureStateRecording)},
				{Name: eventStop, Src: []string{string(domain.CaptureStateRecording)}, Dst: string(domain.CaptureStateFinalizing)},
				{Name: eventSettle, Src: []string{string(domain.CaptureStateFinalizing)}, Dst: string(domain.CaptureStateIdle)},
				{Name: eventDiscard, Src: []string{string(domain.CaptureStateRecording), string(domain.CaptureStateFinalizing)}, Dst: string(domain.CaptureStateIdle)},
			},
			fsm.Callbacks{},
		),
	}
}

// Mount acquires the camera once when the UI appears.
func (c *ClipController) Mount(ctx context.Context) domain.DeviceStatus {
	if c.isClosed() {
		return c.device.Status()
	}
	return c.device.Acquire(ctx)
}

// RetryDevice re-invokes acquisition after a failure.
func (c *ClipController) RetryDevice(ctx context.Context) domain.DeviceStatus {
	return c.Mount(ctx)
}

// Start begins a capture session. Requests while a session is active are
// rejected, never queued.
func (c *ClipController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.machine.Is(string(domain.CaptureStateIdle)) {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	c.mu.Unlock()

	status := c.device.Status()
	if !status.Ready() {
		status = c.device.Acquire(ctx)
		if !status.Ready() {
			return &domain.DeviceError{Failure: status.Failure, Message: status.Message}
		}
	}
	stream, ok := c.device.Stream()
	if !ok {
		return &domain.DeviceError{Failure: domain.DeviceFailureUnknown, Message: "Camera stream is not available."}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.machine.Event(eventStart); err != nil {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	cleared := !c.outcome.Empty()
	c.outcome = domain.Outcome{}
	sessionCtx, cancel := context.WithCancel(c.lifetime)
	c.mu.Unlock()

	// The recording state is committed, so concurrent starts are rejected
	// while the recorder spins up without the lock.
	recording, err := c.recorder.Start(sessionCtx, stream, c.cfg.Recording)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		if err == nil {
			if stopErr := recording.Stop(); stopErr != nil {
				c.log.Warn().Err(stopErr).Msg("recorder stop failed after close")
			}
		}
		return ErrClosed
	}
	if err != nil {
		_ = c.machine.Event(eventDiscard)
		c.mu.Unlock()
		cancel()

		c.log.Error().Err(err).Msg("recorder failed to start")
		if cleared {
			c.events.PredictionChanged(domain.Outcome{})
		}
		c.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonRecorderFailed)
		c.events.SessionError(domain.ErrorCodeCapture, err.Error())
		return &domain.CaptureError{Err: err}
	}

	session := newCaptureSession(
		uuid.NewString(),
		c.clock.Now(),
		recording,
		c.clock.NewTicker(c.cfg.ProgressInterval),
		c.clock.NewTimer(c.cfg.Duration),
		cancel,
	)
	c.session = session
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		session.collector.run(recording)
	}()
	go c.runTicker(session)
	c.mu.Unlock()

	c.log.Info().Str("session", session.id).Str("mime", recording.MimeType()).Msg("recording started")
	if cleared {
		c.events.PredictionChanged(domain.Outcome{})
	}
	c.events.CaptureStateChanged(domain.CaptureStateRecording, domain.CaptureReasonRecordingStarted)
	c.events.CaptureProgress(domain.Progress{SessionID: session.id, Target: c.cfg.Duration})
	return nil
}

// Stop ends the recording early. It waits for the submission to settle
// unless ctx ends first; the cycle still settles in the background.
func (c *ClipController) Stop(ctx context.Context) (domain.Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.Outcome{}, ErrClosed
	}
	session := c.session
	if session == nil || c.machine.Event(eventStop) != nil {
		c.mu.Unlock()
		return domain.Outcome{}, ErrNotRecording
	}
	c.wg.Add(1)
	c.mu.Unlock()

	type finalized struct {
		outcome domain.Outcome
		err     error
	}
	done := make(chan finalized, 1)
	go func() {
		defer c.wg.Done()
		outcome, err := c.finalize(session, domain.CaptureReasonManualStopped)
		done <- finalized{outcome: outcome, err: err}
	}()

	select {
	case result := <-done:
		return result.outcome, result.err
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}
}

// Status returns the current controller snapshot.
func (c *ClipController) Status() domain.Status {
	device := c.device.Status()
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		Device:  device,
		Capture: domain.CaptureState(c.machine.Current()),
		Outcome: c.outcome,
	}
}

// Close cancels the ticker, abandons any in-flight submission, and releases
// the camera. Safe to call repeatedly.
func (c *ClipController) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		session := c.session
		c.mu.Unlock()

		c.cancel()
		if session != nil {
			if err := session.halt(); err != nil {
				c.log.Warn().Err(err).Str("session", session.id).Msg("recorder stop failed during close")
			}
		}
		c.wg.Wait()

		c.mu.Lock()
		c.session = nil
		c.machine.SetState(string(domain.CaptureStateIdle))
		c.mu.Unlock()

		c.device.Release()
		c.log.Info().Msg("controller closed")
	})
}

func (c *ClipController) runTicker(session *captureSession) {
	defer c.wg.Done()

	for {
		select {
		case <-session.tickerStop:
			return
		case <-c.lifetime.Done():
			return
		case <-session.deadline.Chan():
			c.autoStop(session)
			return
		case <-session.ticker.Chan():
		}

		elapsed := c.clock.Since(session.started)
		if elapsed >= c.cfg.Duration {
			// The deadline owns the final progress report.
			continue
		}
		if !c.isRecording(session) {
			return
		}
		c.events.CaptureProgress(domain.Progress{SessionID: session.id, Elapsed: elapsed, Target: c.cfg.Duration})
	}
}

// autoStop finalizes the session once the clip duration is reached.
func (c *ClipController) autoStop(session *captureSession) {
	if !c.isRecording(session) {
		return
	}
	c.events.CaptureProgress(domain.Progress{SessionID: session.id, Elapsed: c.cfg.Duration, Target: c.cfg.Duration})

	c.mu.Lock()
	if c.closed || c.session != session || c.machine.Event(eventStop) != nil {
		// A manual stop won the race.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if _, err := c.finalize(session, domain.CaptureReasonAutoStopped); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warn().Err(err).Str("session", session.id).Msg("auto stop failed")
	}
}

// finalize runs after the stop transition. It assembles the clip, submits it
// once, and always settles the cycle back to idle.
func (c *ClipController) finalize(session *captureSession, trigger domain.CaptureReason) (outcome domain.Outcome, err error) {
	reason := domain.CaptureReasonDiscarded
	defer func() {
		if !c.settle(session, outcome, reason) {
			outcome, err = domain.Outcome{}, ErrClosed
		}
	}()

	session.stopTicker()
	c.events.CaptureStateChanged(domain.CaptureStateFinalizing, trigger)

	if stopErr := session.recording.Stop(); stopErr != nil {
		c.log.Warn().Err(stopErr).Str("session", session.id).Msg("recorder stop failed")
		c.events.SessionError(domain.ErrorCodeCapture, stopErr.Error())
	}
	<-session.collector.done
	session.cancel()

	clip := session.collector.take(session.id, session.recording.MimeType())
	c.log.Info().
		Str("session", session.id).
		Str("trigger", string(trigger)).
		Int("chunks", clip.ChunkCount).
		Int("bytes", len(clip.Data)).
		Msg("clip finalized")

	if clip.Empty() {
		reason = domain.CaptureReasonNothingCaptured
		return domain.Outcome{}, nil
	}

	outcome = c.reconciler.Reconcile(c.lifetime, clip)
	if outcome.Error != nil {
		reason = domain.CaptureReasonPredictionFailed
	} else {
		reason = domain.CaptureReasonPredictionReady
	}
	return outcome, nil
}

// settle returns the cycle to idle and applies the outcome unless the
// session was abandoned by Close.
func (c *ClipController) settle(session *captureSession, outcome domain.Outcome, reason domain.CaptureReason) bool {
	c.mu.Lock()
	if c.closed || c.session != session {
		c.mu.Unlock()
		c.log.Debug().Str("session", session.id).Msg("outcome abandoned")
		return false
	}
	if err := c.machine.Event(eventSettle); err != nil {
		c.machine.SetState(string(domain.CaptureStateIdle))
	}
	c.session = nil
	if !outcome.Empty() {
		c.outcome = outcome
	}
	c.mu.Unlock()

	if !outcome.Empty() {
		c.events.PredictionChanged(outcome)
	}
	if outcome.Error != nil {
		c.events.SessionError(domain.ErrorCodeSubmission, outcome.Error.Message)
	}
	c.events.CaptureStateChanged(domain.CaptureStateIdle, reason)
	return true
}

func (c *ClipController) isRecording(session *captureSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.session == session && c.machine.Is(string(domain.CaptureStateRecording))
}

func (c *ClipController) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
