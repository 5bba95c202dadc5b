package main

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/troikatech/voice-relay/pkg/audio"
)

// Plays the carrier side of a media stream against a running relay.
// Usage: test-mediastream [ws-url] [agent_id] [phone]
func main() {
	wsURL := "ws://localhost:8080/outbound-media-stream"
	agentID := "test-agent"
	phone := "+15550001111"
	if len(os.Args) > 1 {
		wsURL = os.Args[1]
	}
	if len(os.Args) > 2 {
		agentID = os.Args[2]
	}
	if len(os.Args) > 3 {
		phone = os.Args[3]
	}

	fmt.Println("========================================")
	fmt.Println("Testing Media Stream Endpoint")
	fmt.Println("========================================")
	fmt.Printf("URL: %s\n", wsURL)
	fmt.Println()

	u, err := url.Parse(wsURL)
	if err != nil {
		log.Fatalf("Failed to parse URL: %v", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	fmt.Println("Connecting to media stream...")
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Printf("❌ Connection failed!\n")
		fmt.Printf("Error: %v\n", err)
		if resp != nil {
			fmt.Printf("Status Code: %d\n", resp.StatusCode)
		}
		log.Fatalf("WebSocket connection failed")
	}
	defer conn.Close()

	fmt.Println("✅ WebSocket connection established!")
	fmt.Println()

	streamSid := fmt.Sprintf("MZtest%d", time.Now().Unix())
	startEvent := map[string]interface{}{
		"event":     "start",
		"streamSid": streamSid,
		"start": map[string]interface{}{
			"streamSid": streamSid,
			"callSid":   "CAtest",
			"customParameters": map[string]string{
				"calling_to":    phone,
				"phone_number":  phone,
				"agent_id":      agentID,
				"prompt":        "This is a connectivity test.",
				"first_message": "Hello, this is a test.",
				"time":          time.Now().Format("15:04"),
			},
		},
	}
	if err := conn.WriteJSON(startEvent); err != nil {
		log.Fatalf("Failed to send start event: %v", err)
	}
	fmt.Println("✅ Start event sent!")

	// 20ms of 8kHz mu-law silence
	frame := bytes.Repeat([]byte{0xFF}, 160)
	silence := audio.EncodePayload(frame)
	go func() {
		ticker := time.NewTicker(audio.Duration(len(frame)))
		defer ticker.Stop()
		for range ticker.C {
			media := map[string]interface{}{
				"event":     "media",
				"streamSid": streamSid,
				"media":     map[string]string{"track": "inbound", "payload": silence},
			}
			if err := conn.WriteJSON(media); err != nil {
				return
			}
		}
	}()

	fmt.Println("\nListening for agent audio (10 seconds)...")
	deadline := time.Now().Add(10 * time.Second)
	frames, clears := 0, 0
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Printf("⚠️  WebSocket closed: %v\n", err)
			}
			break
		}
		switch msg["event"] {
		case "media":
			frames++
		case "clear":
			clears++
		}
	}

	_ = conn.WriteJSON(map[string]interface{}{"event": "stop", "streamSid": streamSid})

	fmt.Printf("Agent audio frames: %d\n", frames)
	fmt.Printf("Clear events: %d\n", clears)
	fmt.Println()
	fmt.Println("========================================")
	if frames > 0 {
		fmt.Println("✅ Test Complete!")
	} else {
		fmt.Println("⚠️  No agent audio received")
	}
	fmt.Println("========================================")
}
