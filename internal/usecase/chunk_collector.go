package usecase

import (
	"bytes"
	"sync"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

// chunkCollector appends recorder fragments in arrival order. It is the only
// writer of its buffer; take may be called once the recording has drained.
type chunkCollector struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
	done   chan struct{}
}

func newChunkCollector() *chunkCollector {
	return &chunkCollector{done: make(chan struct{})}
}

func (c *chunkCollector) run(recording ports.Recording) {
	defer close(c.done)
	for chunk := range recording.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		c.mu.Lock()
		c.chunks = append(c.chunks, chunk)
		c.size += len(chunk)
		c.mu.Unlock()
	}
}

// take moves the buffered chunks into a clip and leaves the collector empty.
func (c *chunkCollector) take(sessionID string, mimeType string) domain.Clip {
	c.mu.Lock()
	chunks := c.chunks
	size := c.size
	c.chunks = nil
	c.size = 0
	c.mu.Unlock()

	clip := domain.Clip{SessionID: sessionID, MimeType: mimeType, ChunkCount: len(chunks)}
	if size == 0 {
		return clip
	}
	clip.Data = bytes.Join(chunks, nil)
	return clip
}
