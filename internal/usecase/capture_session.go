package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"signclip/internal/ports"
)

type captureSession struct {
	id        string
	started   time.Time
	recording ports.Recording
	collector *chunkCollector
	ticker    clockwork.Ticker
	deadline  clockwork.Timer
	cancel    context.CancelFunc

	tickerStop chan struct{}
	tickerOnce sync.Once
}

func newCaptureSession(
	id string,
	started time.Time,
	recording ports.Recording,
	ticker clockwork.Ticker,
	deadline clockwork.Timer,
	cancel context.CancelFunc,
) *captureSession {
	return &captureSession{
		id:         id,
		started:    started,
		recording:  recording,
		collector:  newChunkCollector(),
		ticker:     ticker,
		deadline:   deadline,
		cancel:     cancel,
		tickerStop: make(chan struct{}),
	}
}

// stopTicker cancels the progress ticker and the duration deadline. Either
// may have already fired.
func (s *captureSession) stopTicker() {
	s.tickerOnce.Do(func() {
		s.ticker.Stop()
		s.deadline.Stop()
		close(s.tickerStop)
	})
}

// halt tears the session down without finalizing it.
func (s *captureSession) halt() error {
	s.stopTicker()
	err := s.recording.Stop()
	s.cancel()
	return err
}
