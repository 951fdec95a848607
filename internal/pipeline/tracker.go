package pipeline

import (
	"strings"
	"time"
)

// Snapshot is a stable view of the tracker state, taken when finalization
// needs to reason about partials without racing later updates.
type Snapshot struct {
	LatestText  string
	LatestAt    time.Time
	LongestText string
	LongestAt   time.Time
}

// Extension is the result of a successful extension check: the full extended
// text plus the suffix that the base was missing.
type Extension struct {
	Text    string
	Missing string
}

// Tracker records per-segment partial history: the most recent partial and
// the longest partial observed since the last commit. The recognizer may
// shrink a partial after a reset, so the latest is not required to be the
// longest.
type Tracker struct {
	now func() time.Time

	latestText  string
	latestAt    time.Time
	longestText string
	longestAt   time.Time
}

// NewTracker creates a tracker. now may be nil, in which case time.Now is used.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// UpdatePartial records text as the latest partial, promoting it to longest
// when it exceeds the longest seen since the last reset.
func (t *Tracker) UpdatePartial(text string) {
	ts := t.now()
	t.latestText = text
	t.latestAt = ts
	if len(text) > len(t.longestText) {
		t.longestText = text
		t.longestAt = ts
	}
}

// Reset clears all tracked state. Called immediately after a commit or when
// a new segment begins.
func (t *Tracker) Reset() {
	t.latestText = ""
	t.latestAt = time.Time{}
	t.longestText = ""
	t.longestAt = time.Time{}
}

// Snapshot returns the current tracked fields.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		LatestText:  t.latestText,
		LatestAt:    t.latestAt,
		LongestText: t.longestText,
		LongestAt:   t.longestAt,
	}
}

// LongestExtends reports whether the longest tracked partial is fresh, is
// strictly longer than base, and extends it.
func (t *Tracker) LongestExtends(base string, maxAge time.Duration) (Extension, bool) {
	return t.checkExtends(t.longestText, t.longestAt, base, maxAge)
}

// LatestExtends is LongestExtends for the most recent partial.
func (t *Tracker) LatestExtends(base string, maxAge time.Duration) (Extension, bool) {
	return t.checkExtends(t.latestText, t.latestAt, base, maxAge)
}

func (t *Tracker) checkExtends(text string, at time.Time, base string, maxAge time.Duration) (Extension, bool) {
	if text == "" || at.IsZero() {
		return Extension{}, false
	}
	if t.now().Sub(at) > maxAge {
		return Extension{}, false
	}
	if len(text) <= len(base) {
		return Extension{}, false
	}
	if !Extends(text, base) {
		return Extension{}, false
	}
	missing := ""
	if len(text) > len(base) {
		missing = strings.TrimSpace(text[len(base):])
	}
	return Extension{Text: text, Missing: missing}, true
}
