package asr

import (
	"sync"
	"time"
)

// DefaultRollingWindow is how much recent audio is retained for recovery.
const DefaultRollingWindow = 2500 * time.Millisecond

type timedChunk struct {
	at   time.Time
	data []byte
}

// RollingBuffer keeps a fixed-duration window of recently released audio
// chunks so a recovery transcription can re-run them after a restart lost
// words. Safe for concurrent use.
type RollingBuffer struct {
	mu     sync.Mutex
	window time.Duration
	chunks []timedChunk
}

// NewRollingBuffer creates a buffer holding window worth of audio. A zero
// window falls back to DefaultRollingWindow.
func NewRollingBuffer(window time.Duration) *RollingBuffer {
	if window <= 0 {
		window = DefaultRollingWindow
	}
	return &RollingBuffer{window: window}
}

// Add records a chunk and evicts anything older than the window.
func (b *RollingBuffer) Add(data []byte) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, timedChunk{at: now, data: data})
	b.evictLocked(now)
}

// Bytes returns the concatenated audio still inside the window.
func (b *RollingBuffer) Bytes() []byte {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked(now)
	total := 0
	for _, c := range b.chunks {
		total += len(c.data)
	}
	out := make([]byte, 0, total)
	for _, c := range b.chunks {
		out = append(out, c.data...)
	}
	return out
}

// Len returns how many chunks are currently retained.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Clear drops all retained audio.
func (b *RollingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}

func (b *RollingBuffer) evictLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.chunks) && b.chunks[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.chunks = b.chunks[i:]
	}
}
