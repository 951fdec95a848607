// Command audioclient streams a WAV file to a running relay as a host would,
// printing every event that comes back. Useful for exercising the full
// pipeline against recorded audio.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jkang1643/exbabel-relay/internal/protocol"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkSize = 3200
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/stream", "Relay websocket URL")
	apiKey := flag.String("key", "", "API key, when the relay requires one")
	sourceLang := flag.String("source", "en", "Source language")
	targets := flag.String("targets", "es", "Comma-separated target languages")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}

	url := *serverURL
	if *apiKey != "" {
		url += "?apiKey=" + *apiKey
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverURL)

	init := protocol.InitMessage{
		Type:            protocol.TypeInit,
		SourceLang:      *sourceLang,
		TargetLangs:     strings.Split(*targets, ","),
		SampleRateHertz: int(sampleRate),
	}
	if err := conn.WriteJSON(init); err != nil {
		log.Fatalf("Failed to send init: %v", err)
	}

	// Print everything the relay sends back.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if json.Unmarshal(raw, &ev) != nil {
				continue
			}
			switch ev["type"] {
			case string(protocol.TypeTranslation):
				final := ""
				if b, _ := ev["isFinal"].(bool); b {
					final = " [final]"
				}
				log.Printf("%v%s: %v", ev["targetLang"], final, ev["text"])
			default:
				log.Printf("%v: %s", ev["type"], raw)
			}
		}
	}()

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)

		msg := protocol.AudioMessage{
			Type:  protocol.TypeAudio,
			Audio: base64.StdEncoding.EncodeToString(audioChunk[:n]),
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	elapsed := time.Since(startTime)
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	if err := conn.WriteJSON(protocol.AudioEndMessage{Type: protocol.TypeAudioEnd}); err != nil {
		log.Fatalf("Failed to send audio_end: %v", err)
	}

	// Give pending finals time to arrive, then hang up.
	select {
	case <-done:
	case <-time.After(12 * time.Second):
	}
	log.Println("Done")
}
