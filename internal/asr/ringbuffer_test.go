package asr

import (
	"bytes"
	"testing"
	"time"
)

func TestRollingBufferConcatenatesChunks(t *testing.T) {
	b := NewRollingBuffer(time.Second)
	b.Add([]byte("abc"))
	b.Add([]byte("def"))

	if got := b.Bytes(); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("bytes = %q", got)
	}
	if b.Len() != 2 {
		t.Errorf("len = %d, want 2", b.Len())
	}
}

func TestRollingBufferEvictsOldAudio(t *testing.T) {
	b := NewRollingBuffer(50 * time.Millisecond)
	b.Add([]byte("old"))
	time.Sleep(80 * time.Millisecond)
	b.Add([]byte("new"))

	if got := b.Bytes(); !bytes.Equal(got, []byte("new")) {
		t.Errorf("bytes after eviction = %q", got)
	}
}

func TestRollingBufferClear(t *testing.T) {
	b := NewRollingBuffer(time.Second)
	b.Add([]byte("abc"))
	b.Clear()

	if got := b.Bytes(); len(got) != 0 {
		t.Errorf("bytes after clear = %q", got)
	}
}

func TestRollingBufferZeroWindowUsesDefault(t *testing.T) {
	b := NewRollingBuffer(0)
	if b.window != DefaultRollingWindow {
		t.Errorf("window = %v, want %v", b.window, DefaultRollingWindow)
	}
}
