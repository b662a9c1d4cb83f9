// Package device owns the camera stream and its acquisition state.
package device

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

const (
	eventRequest = "request"
	eventGrant   = "grant"
	eventDeny    = "deny"
	eventLose    = "lose"
)

// Manager acquires and releases the camera. It is the only component that
// stops stream tracks.
type Manager struct {
	camera      ports.Camera
	preview     ports.PreviewSurface
	events      ports.EventSink
	constraints ports.CameraConstraints
	log         zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	machine *fsm.FSM
	stream  ports.MediaStream
	failure domain.DeviceFailure
	message string
	// generation changes on every Release so late acquisitions can be discarded.
	generation uint64
}

func NewManager(
	camera ports.Camera,
	preview ports.PreviewSurface,
	events ports.EventSink,
	constraints ports.CameraConstraints,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		camera:      camera,
		preview:     preview,
		events:      events,
		constraints: constraints,
		log:         log.With().Str("component", "device").Logger(),
		machine: fsm.NewFSM(
			string(domain.DeviceStateUninitialized),
			fsm.Events{
				{Name: eventRequest, Src: []string{string(domain.DeviceStateUninitialized), string(domain.DeviceStateFailed)}, Dst: string(domain.DeviceStateRequesting)},
				{Name: eventGrant, Src: []string{string(domain.DeviceStateRequesting)}, Dst: string(domain.DeviceStateReady)},
				{Name: eventDeny, Src: []string{string(domain.DeviceStateRequesting)}, Dst: string(domain.DeviceStateFailed)},
				{Name: eventLose, Src: []string{string(domain.DeviceStateReady)}, Dst: string(domain.DeviceStateFailed)},
			},
			fsm.Callbacks{},
		),
	}
}

// Acquire requests the camera and resolves into a DeviceStatus. Concurrent
// calls share a single attempt.
func (m *Manager) Acquire(ctx context.Context) domain.DeviceStatus {
	if status := m.Status(); status.Ready() {
		return status
	}

	v, _, _ := m.group.Do("acquire", func() (interface{}, error) {
		return m.acquire(ctx), nil
	})
	return v.(domain.DeviceStatus)
}

func (m *Manager) acquire(ctx context.Context) domain.DeviceStatus {
	m.mu.Lock()
	if m.machine.Is(string(domain.DeviceStateReady)) {
		status := m.statusLocked()
		m.mu.Unlock()
		return status
	}
	if err := m.machine.Event(eventRequest); err != nil {
		status := m.statusLocked()
		m.mu.Unlock()
		return status
	}
	m.failure = domain.DeviceFailureNone
	m.message = ""
	generation := m.generation
	requesting := m.statusLocked()
	m.mu.Unlock()

	m.events.DeviceStateChanged(requesting)

	stream, err := m.camera.Open(ctx, m.constraints)

	m.mu.Lock()
	if generation != m.generation {
		// Released while the request was pending.
		status := m.statusLocked()
		m.mu.Unlock()
		if stream != nil {
			_ = stream.Stop()
		}
		return status
	}

	if err != nil {
		failure := domain.ClassifyDeviceError(err)
		m.failure = failure
		m.message = domain.DeviceFailureMessage(failure)
		_ = m.machine.Event(eventDeny)
		status := m.statusLocked()
		m.mu.Unlock()

		m.log.Warn().Err(err).Str("failure", string(failure)).Msg("camera acquisition failed")
		m.events.DeviceStateChanged(status)
		m.events.SessionError(domain.ErrorCodeDevice, err.Error())
		return status
	}

	m.stream = stream
	_ = m.machine.Event(eventGrant)
	status := m.statusLocked()
	m.mu.Unlock()

	m.log.Info().Str("stream", stream.ID()).Msg("camera ready")
	go m.watch(stream)
	if m.preview != nil {
		if err := m.preview.Bind(stream); err != nil {
			m.log.Warn().Err(err).Msg("preview bind failed")
			m.events.SessionError(domain.ErrorCodePreview, err.Error())
		}
	}
	m.events.DeviceStateChanged(status)
	return status
}

// watch marks the device failed when the stream ends without a Release.
func (m *Manager) watch(stream ports.MediaStream) {
	<-stream.Done()

	m.mu.Lock()
	if m.stream != stream {
		m.mu.Unlock()
		return
	}
	m.stream = nil
	m.failure = domain.DeviceFailureUnknown
	m.message = "Camera stream ended unexpectedly."
	_ = m.machine.Event(eventLose)
	status := m.statusLocked()
	m.mu.Unlock()

	if m.preview != nil {
		m.preview.Unbind()
	}
	m.log.Warn().Str("stream", stream.ID()).Msg("camera stream ended")
	m.events.DeviceStateChanged(status)
}

// Release stops every track of the held stream. Safe to call repeatedly.
func (m *Manager) Release() {
	m.mu.Lock()
	wasUninitialized := m.machine.Is(string(domain.DeviceStateUninitialized))
	stream := m.stream
	m.stream = nil
	m.generation++
	m.failure = domain.DeviceFailureNone
	m.message = ""
	m.machine.SetState(string(domain.DeviceStateUninitialized))
	status := m.statusLocked()
	m.mu.Unlock()

	if stream != nil {
		if m.preview != nil {
			m.preview.Unbind()
		}
		if err := stream.Stop(); err != nil {
			m.log.Warn().Err(err).Msg("camera stop failed")
		}
		m.log.Info().Str("stream", stream.ID()).Msg("camera released")
	}
	if !wasUninitialized {
		m.events.DeviceStateChanged(status)
	}
}

// Stream returns the live stream when the device is ready.
func (m *Manager) Stream() (ports.MediaStream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || !m.machine.Is(string(domain.DeviceStateReady)) {
		return nil, false
	}
	return m.stream, true
}

// Status returns the current device status.
func (m *Manager) Status() domain.DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() domain.DeviceStatus {
	status := domain.DeviceStatus{State: domain.DeviceState(m.machine.Current())}
	if status.State == domain.DeviceStateFailed {
		status.Failure = m.failure
		status.Message = m.message
	}
	return status
}
