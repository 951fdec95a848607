// Command testclient joins a running session as a listener and prints the
// captions for one language.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/jkang1643/exbabel-relay/internal/protocol"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/v1/listen", "Relay listen URL")
	sessionID := flag.String("session", "", "Session to join (required)")
	lang := flag.String("lang", "es", "Language to receive")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	url := *serverURL + "?session=" + *sessionID + "&lang=" + *lang
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Listening to session %s in %s", *sessionID, *lang)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Printf("connection closed: %v", err)
				return
			}
			var ev protocol.TranslationEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case protocol.TypeTranslation:
				marker := "partial"
				if ev.IsFinal {
					marker = "final"
				}
				log.Printf("[%d] %s: %s", ev.SeqID, marker, ev.Text)
			case protocol.TypeJoined:
				var joined protocol.JoinedEvent
				if json.Unmarshal(raw, &joined) == nil {
					log.Printf("joined, lastSeqId=%d", joined.LastSeqID)
				}
			default:
				log.Printf("%s: %s", ev.Type, raw)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}
}
