package asr

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// releaseDelay is how long a chunk is held to smooth bursts.
	releaseDelay = 100 * time.Millisecond
	// minBatchDelay is the minimum hold before a chunk may leave the gate.
	minBatchDelay = 80 * time.Millisecond
	// chunkWatchdogTimeout arms per written chunk; the recognizer's next
	// result disarms the oldest one.
	chunkWatchdogTimeout = 7 * time.Second
	// MaxChunkRetries bounds retries after the initial write attempt, one per
	// retryBackoff step.
	MaxChunkRetries = 3
	// burstThreshold watchdog fires inside burstWindow force a stream restart.
	burstThreshold = 6
	burstWindow    = 2500 * time.Millisecond
)

var retryBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

type gateChunk struct {
	id         int64
	data       []byte
	receivedAt time.Time
	releaseAt  time.Time
	attempts   int
}

type chunkWatch struct {
	id    int64
	timer *time.Timer
}

// JitterGate tags incoming audio chunks with monotonic ids, holds them for a
// small batching window, releases them in receive order, retries failed
// writes with bounded backoff, and watches each written chunk for recognizer
// stalls. A burst of watchdog timeouts triggers the restart callback.
type JitterGate struct {
	mu  sync.Mutex
	log zerolog.Logger

	// write delivers a released chunk to the recognizer stream.
	write func(data []byte) error
	// onBurst is invoked (once per burst) when the watchdog timeout burst
	// threshold is crossed.
	onBurst func()

	queue        []*gateChunk
	releaseTimer *time.Timer
	nextID       int64

	watchdogs    []*chunkWatch
	timeoutTimes []time.Time

	closed bool
}

// NewJitterGate creates a gate writing through write and reporting timeout
// bursts through onBurst.
func NewJitterGate(log zerolog.Logger, write func([]byte) error, onBurst func()) *JitterGate {
	return &JitterGate{log: log, write: write, onBurst: onBurst}
}

// Enqueue admits one decoded PCM chunk and returns its id.
func (g *JitterGate) Enqueue(data []byte) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return -1
	}
	g.nextID++
	now := time.Now()
	c := &gateChunk{
		id:         g.nextID,
		data:       data,
		receivedAt: now,
		releaseAt:  now.Add(releaseDelay),
	}
	g.queue = append(g.queue, c)
	g.armReleaseTimerLocked()
	return c.id
}

// armReleaseTimerLocked (re)arms the single release timer at the earliest
// releaseAt in the queue.
func (g *JitterGate) armReleaseTimerLocked() {
	if len(g.queue) == 0 {
		return
	}
	earliest := g.queue[0].releaseAt
	for _, c := range g.queue[1:] {
		if c.releaseAt.Before(earliest) {
			earliest = c.releaseAt
		}
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	if g.releaseTimer != nil {
		g.releaseTimer.Stop()
	}
	g.releaseTimer = time.AfterFunc(d, g.releaseDue)
}

func (g *JitterGate) releaseDue() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	now := time.Now()
	var due, rest []*gateChunk
	for _, c := range g.queue {
		if now.Sub(c.receivedAt) >= minBatchDelay && !now.Before(c.releaseAt) {
			due = append(due, c)
		} else {
			rest = append(rest, c)
		}
	}
	g.queue = rest
	g.armReleaseTimerLocked()
	g.mu.Unlock()

	// Out-of-order receipts are released in arrival order.
	sort.Slice(due, func(i, j int) bool { return due[i].receivedAt.Before(due[j].receivedAt) })
	for _, c := range due {
		g.writeChunk(c)
	}
}

func (g *JitterGate) writeChunk(c *gateChunk) {
	c.attempts++
	if err := g.write(c.data); err != nil {
		if c.attempts > MaxChunkRetries {
			g.log.Warn().
				Int64("chunkId", c.id).
				Int("attempts", c.attempts).
				Err(err).
				Msg("chunk dropped after retries exhausted")
			return
		}
		backoff := retryBackoff[c.attempts-1]
		g.log.Debug().
			Int64("chunkId", c.id).
			Int("attempt", c.attempts).
			Dur("backoff", backoff).
			Msg("chunk write failed, retrying")
		time.AfterFunc(backoff, func() {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if !closed {
				g.writeChunk(c)
			}
		})
		return
	}
	g.armWatchdog(c.id)
}

func (g *JitterGate) armWatchdog(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	w := &chunkWatch{id: id}
	w.timer = time.AfterFunc(chunkWatchdogTimeout, func() { g.watchdogFired(id) })
	g.watchdogs = append(g.watchdogs, w)
}

func (g *JitterGate) watchdogFired(id int64) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	for i, w := range g.watchdogs {
		if w.id == id {
			g.watchdogs = append(g.watchdogs[:i], g.watchdogs[i+1:]...)
			break
		}
	}
	now := time.Now()
	g.timeoutTimes = append(g.timeoutTimes, now)
	cutoff := now.Add(-burstWindow)
	recent := g.timeoutTimes[:0]
	for _, t := range g.timeoutTimes {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	g.timeoutTimes = recent
	burst := len(recent) >= burstThreshold
	if burst {
		// One restart per burst.
		g.timeoutTimes = nil
	}
	onBurst := g.onBurst
	g.mu.Unlock()

	if burst && onBurst != nil {
		g.log.Warn().Int("timeouts", burstThreshold).Msg("chunk timeout burst, forcing stream restart")
		onBurst()
	}
}

// NotifyResult disarms chunk watchdogs: the oldest one for a partial result,
// all of them for a final.
func (g *JitterGate) NotifyResult(isFinal bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if isFinal {
		for _, w := range g.watchdogs {
			w.timer.Stop()
		}
		g.watchdogs = nil
		return
	}
	if len(g.watchdogs) > 0 {
		g.watchdogs[0].timer.Stop()
		g.watchdogs = g.watchdogs[1:]
	}
}

// Pending returns the number of chunks waiting in the gate.
func (g *JitterGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Drain releases all queued chunks immediately, bypassing the batching
// window. Used after a stream restart to flush audio captured meanwhile.
func (g *JitterGate) Drain() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	due := g.queue
	g.queue = nil
	if g.releaseTimer != nil {
		g.releaseTimer.Stop()
	}
	g.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].receivedAt.Before(due[j].receivedAt) })
	for _, c := range due {
		g.writeChunk(c)
	}
}

// Reset clears all jitter, retry, timeout, and pending-chunk state without
// closing the gate. Part of the stream restart sequence.
func (g *JitterGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = nil
	if g.releaseTimer != nil {
		g.releaseTimer.Stop()
		g.releaseTimer = nil
	}
	for _, w := range g.watchdogs {
		w.timer.Stop()
	}
	g.watchdogs = nil
	g.timeoutTimes = nil
}

// Close permanently stops the gate and cancels every timer.
func (g *JitterGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.queue = nil
	if g.releaseTimer != nil {
		g.releaseTimer.Stop()
		g.releaseTimer = nil
	}
	for _, w := range g.watchdogs {
		w.timer.Stop()
	}
	g.watchdogs = nil
	g.timeoutTimes = nil
}
