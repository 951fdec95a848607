package asr

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type writeLog struct {
	mu     sync.Mutex
	chunks [][]byte
	fail   bool
	calls  int
}

func (w *writeLog) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail {
		return errors.New("stream unavailable")
	}
	w.chunks = append(w.chunks, data)
	return nil
}

func (w *writeLog) written() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.chunks))
	copy(out, w.chunks)
	return out
}

func (w *writeLog) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func TestJitterGateReleasesInReceiveOrder(t *testing.T) {
	w := &writeLog{}
	g := NewJitterGate(zerolog.Nop(), w.write, nil)
	defer g.Close()

	g.Enqueue([]byte("one"))
	g.Enqueue([]byte("two"))
	g.Enqueue([]byte("three"))

	time.Sleep(300 * time.Millisecond)
	got := w.written()
	if len(got) != 3 {
		t.Fatalf("written = %d chunks, want 3", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if string(got[i]) != want {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want)
		}
	}
	if g.Pending() != 0 {
		t.Errorf("pending = %d after release", g.Pending())
	}
}

func TestJitterGateHoldsForMinimumDelay(t *testing.T) {
	w := &writeLog{}
	g := NewJitterGate(zerolog.Nop(), w.write, nil)
	defer g.Close()

	g.Enqueue([]byte("held"))
	time.Sleep(40 * time.Millisecond)
	if len(w.written()) != 0 {
		t.Error("chunk released before the batching window")
	}
}

func TestJitterGateRetriesAreBounded(t *testing.T) {
	w := &writeLog{fail: true}
	g := NewJitterGate(zerolog.Nop(), w.write, nil)
	defer g.Close()

	g.Enqueue([]byte("doomed"))
	time.Sleep(1200 * time.Millisecond)

	// The initial attempt plus one retry per backoff step, then the chunk is
	// dropped.
	if got := w.callCount(); got != MaxChunkRetries+1 {
		t.Errorf("write attempts = %d, want %d", got, MaxChunkRetries+1)
	}
}

func TestJitterGateBurstTriggersExactlyOneRestart(t *testing.T) {
	w := &writeLog{}
	var mu sync.Mutex
	restarts := 0
	g := NewJitterGate(zerolog.Nop(), w.write, func() {
		mu.Lock()
		restarts++
		mu.Unlock()
	})
	defer g.Close()

	var ids []int64
	for i := 0; i < burstThreshold+2; i++ {
		ids = append(ids, g.Enqueue([]byte{byte(i)}))
	}
	time.Sleep(300 * time.Millisecond) // let everything release and arm watchdogs

	// Fire the watchdogs directly instead of waiting out the 7s timeout.
	for _, id := range ids {
		g.watchdogFired(id)
	}

	mu.Lock()
	defer mu.Unlock()
	if restarts != 1 {
		t.Errorf("restarts = %d, want exactly 1", restarts)
	}
}

func TestJitterGateNotifyResultDisarmsWatchdogs(t *testing.T) {
	w := &writeLog{}
	g := NewJitterGate(zerolog.Nop(), w.write, nil)
	defer g.Close()

	g.Enqueue([]byte("a"))
	g.Enqueue([]byte("b"))
	g.Enqueue([]byte("c"))
	time.Sleep(300 * time.Millisecond)

	g.mu.Lock()
	armed := len(g.watchdogs)
	g.mu.Unlock()
	if armed != 3 {
		t.Fatalf("armed watchdogs = %d, want 3", armed)
	}

	g.NotifyResult(false)
	g.mu.Lock()
	armed = len(g.watchdogs)
	g.mu.Unlock()
	if armed != 2 {
		t.Errorf("watchdogs after partial = %d, want 2", armed)
	}

	g.NotifyResult(true)
	g.mu.Lock()
	armed = len(g.watchdogs)
	g.mu.Unlock()
	if armed != 0 {
		t.Errorf("watchdogs after final = %d, want 0", armed)
	}
}

func TestJitterGateDrainBypassesBatching(t *testing.T) {
	w := &writeLog{}
	g := NewJitterGate(zerolog.Nop(), w.write, nil)
	defer g.Close()

	g.Enqueue([]byte("x"))
	g.Enqueue([]byte("y"))
	g.Drain()

	if got := len(w.written()); got != 2 {
		t.Errorf("drained chunks = %d, want 2", got)
	}
	if g.Pending() != 0 {
		t.Errorf("pending = %d after drain", g.Pending())
	}
}

func TestJitterGateClosedRejectsAudio(t *testing.T) {
	w := &writeLog{}
	g := NewJitterGate(zerolog.Nop(), w.write, nil)
	g.Close()

	if id := g.Enqueue([]byte("late")); id != -1 {
		t.Errorf("enqueue after close = %d, want -1", id)
	}
}
