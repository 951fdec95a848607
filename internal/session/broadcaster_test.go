package session

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkang1643/exbabel-relay/internal/protocol"
	"github.com/jkang1643/exbabel-relay/internal/scripture"
	"github.com/jkang1643/exbabel-relay/internal/translate"
)

func newTestBroadcaster() *Broadcaster {
	return newBroadcaster("sess-1", "en", nil, zerolog.Nop())
}

func drainOne(t *testing.T, sub *Subscriber) protocol.TranslationEvent {
	t.Helper()
	select {
	case raw := <-sub.Events():
		var ev protocol.TranslationEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return protocol.TranslationEvent{}
	}
}

func TestBroadcaster_RoutesByLanguage(t *testing.T) {
	b := newTestBroadcaster()
	en := b.Subscribe("en")
	es := b.Subscribe("es")

	b.EmitTranscript("seg-1", "", "hello everyone", false, false)
	b.EmitTranslation(translate.Event{
		SegmentID:      "seg-1",
		SourceLang:     "en",
		TargetLang:     "es",
		SourceText:     "hello everyone",
		Text:           "hola a todos",
		HasTranslation: true,
	})

	ev := drainOne(t, en)
	if ev.Text != "hello everyone" || ev.TargetLang != "en" {
		t.Errorf("en subscriber got %q for %q", ev.Text, ev.TargetLang)
	}
	ev = drainOne(t, es)
	if ev.Text != "hola a todos" || ev.TargetLang != "es" {
		t.Errorf("es subscriber got %q for %q", ev.Text, ev.TargetLang)
	}

	select {
	case raw := <-en.Events():
		t.Errorf("en subscriber got cross-language event: %s", raw)
	default:
	}
}

func TestBroadcaster_SeqStrictlyIncreasing(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("en")

	for i := 0; i < 5; i++ {
		b.EmitTranscript("seg-1", "", fmt.Sprintf("partial %d", i), false, false)
	}

	var last int64
	for i := 0; i < 5; i++ {
		ev := drainOne(t, sub)
		if ev.SeqID <= last {
			t.Fatalf("seqId %d not greater than %d", ev.SeqID, last)
		}
		last = ev.SeqID
	}
	if b.LastSeq() != last {
		t.Errorf("LastSeq = %d, want %d", b.LastSeq(), last)
	}
}

func TestBroadcaster_WildcardSubscriberSeesAllLanguages(t *testing.T) {
	b := newTestBroadcaster()
	all := b.Subscribe(LangAll)

	b.EmitTranscript("seg-1", "", "source text", false, false)
	b.EmitTranslation(translate.Event{
		SegmentID: "seg-1", SourceLang: "en", TargetLang: "es",
		Text: "texto", HasTranslation: true,
	})

	first := drainOne(t, all)
	second := drainOne(t, all)
	if first.TargetLang != "en" || second.TargetLang != "es" {
		t.Errorf("wildcard subscriber saw langs %q, %q", first.TargetLang, second.TargetLang)
	}
}

func TestBroadcaster_ScriptureReachesEveryLanguage(t *testing.T) {
	b := newTestBroadcaster()
	en := b.Subscribe("en")
	es := b.Subscribe("es")

	b.EmitScripture("seg-1", scripture.Reference{Book: "John", Chapter: 3, Verse: 16})

	for _, sub := range []*Subscriber{en, es} {
		select {
		case raw := <-sub.Events():
			var ev protocol.ScriptureDetectedEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("unmarshal scripture event: %v", err)
			}
			if ev.DisplayText != "John 3:16" {
				t.Errorf("displayText = %q", ev.DisplayText)
			}
			if ev.Reference.Book != "John" || ev.Reference.Chapter != 3 {
				t.Errorf("reference = %+v", ev.Reference)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber never got scripture event", sub.Lang)
		}
	}
}

func TestBroadcaster_OverflowDropsSlowListener(t *testing.T) {
	b := newTestBroadcaster()
	slow := b.Subscribe("en")

	// Never drain; the queue saturates and the listener is cut loose.
	for i := 0; i < subscriberQueueSize+1; i++ {
		b.EmitTranscript("seg-1", "", "text", false, false)
	}

	select {
	case <-slow.Closed():
	case <-time.After(time.Second):
		t.Fatal("saturated listener was not closed")
	}
	total, _ := b.ListenerCounts()
	if total != 0 {
		t.Errorf("listener count after overflow = %d", total)
	}
}

func TestBroadcaster_UnsubscribeAndCounts(t *testing.T) {
	b := newTestBroadcaster()
	en := b.Subscribe("en")
	b.Subscribe("es")
	b.Subscribe("es")

	total, byLang := b.ListenerCounts()
	if total != 3 || byLang["es"] != 2 || byLang["en"] != 1 {
		t.Fatalf("counts = %d %v", total, byLang)
	}

	b.Unsubscribe(en.ID)
	select {
	case <-en.Closed():
	default:
		t.Error("unsubscribed listener not closed")
	}
	total, byLang = b.ListenerCounts()
	if total != 2 || byLang["en"] != 0 {
		t.Errorf("counts after unsubscribe = %d %v", total, byLang)
	}
}

func TestBroadcaster_CloseAll(t *testing.T) {
	b := newTestBroadcaster()
	subs := []*Subscriber{b.Subscribe("en"), b.Subscribe("es"), b.Subscribe(LangAll)}

	b.CloseAll()
	for _, sub := range subs {
		select {
		case <-sub.Closed():
		default:
			t.Errorf("subscriber %s not closed", sub.Lang)
		}
	}
	if total, _ := b.ListenerCounts(); total != 0 {
		t.Errorf("count after CloseAll = %d", total)
	}
}
