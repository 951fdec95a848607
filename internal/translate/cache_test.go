package translate

import (
	"strings"
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache(10)
	k := Key("en", "es", "hello there everyone")
	c.Put(k, "hola a todos", PartialTTL)

	got, ok := c.Get(k)
	if !ok || got != "hola a todos" {
		t.Errorf("get = (%q, %v)", got, ok)
	}
	if _, ok := c.Get(Key("en", "fr", "hello there everyone")); ok {
		t.Error("different language pair must miss")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	k := Key("en", "es", "hello")
	c.Put(k, "hola", 2*time.Minute)

	now = base.Add(time.Minute)
	if _, ok := c.Get(k); !ok {
		t.Error("entry expired early")
	}
	now = base.Add(3 * time.Minute)
	if _, ok := c.Get(k); ok {
		t.Error("entry should have expired")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	c.Put("a", "1", time.Minute)
	c.Put("b", "2", time.Minute)
	c.Get("a") // refresh a
	c.Put("c", "3", time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestKeyDistinguishesLongTextsBySuffix(t *testing.T) {
	shared := strings.Repeat("word ", 70) // > 300 chars, identical prefix
	a := shared + "it ended one way."
	b := shared + "it ended another way."
	if Key("en", "es", a) == Key("en", "es", b) {
		t.Error("long texts differing only at the tail must key differently")
	}
}

func TestKeyShortTextIncludesLength(t *testing.T) {
	if Key("en", "es", "abc") == Key("en", "es", "abcd") {
		t.Error("short texts of different length must key differently")
	}
	// Same text keys identically.
	if Key("en", "es", "abc") != Key("en", "es", "abc") {
		t.Error("key must be deterministic")
	}
}
