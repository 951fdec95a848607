package pipeline

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// testClock is a manually advanced clock shared with a manualSched.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.t
}

type testTimer struct {
	at       time.Time
	fn       func()
	canceled bool
}

// manualSched runs posted work inline and fires timers only when the test
// advances the clock, making pipeline timing deterministic.
type manualSched struct {
	clock  *testClock
	timers []*testTimer
}

func newManualSched(clock *testClock) *manualSched {
	return &manualSched{clock: clock}
}

func (s *manualSched) Post(fn func()) {
	fn()
}

func (s *manualSched) After(d time.Duration, fn func()) func() {
	t := &testTimer{at: s.clock.t.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.canceled = true }
}

// advance moves the clock forward, firing due timers in deadline order. A
// timer callback may schedule new timers; those fire too if they land inside
// the window.
func (s *manualSched) advance(d time.Duration) {
	target := s.clock.t.Add(d)
	for {
		var next *testTimer
		for _, t := range s.timers {
			if t.canceled || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.canceled = true
		if next.at.After(s.clock.t) {
			s.clock.t = next.at
		}
		next.fn()
	}
	s.clock.t = target
	s.compact()
}

func (s *manualSched) compact() {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.canceled {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.Slice(s.timers, func(i, j int) bool { return s.timers[i].at.Before(s.timers[j].at) })
}

func (s *manualSched) pendingTimers() int {
	n := 0
	for _, t := range s.timers {
		if !t.canceled {
			n++
		}
	}
	return n
}

func testConfig(clock *testClock) Config {
	return Config{Now: clock.Now}.withDefaults()
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
