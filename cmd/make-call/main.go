package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/troikatech/voice-relay/pkg/client"
)

// Usage: make-call <phone> <agent_id> [prompt]
func main() {
	baseURL := "http://localhost:8080"
	if url := os.Getenv("API_URL"); url != "" {
		baseURL = strings.TrimSuffix(url, "/")
	}

	if len(os.Args) < 3 {
		log.Fatalf("usage: %s <phone> <agent_id> [prompt]", os.Args[0])
	}
	targetNumber := strings.ReplaceAll(os.Args[1], " ", "")
	agentID := os.Args[2]
	prompt := "You are a friendly assistant reminding the patient about their medication."
	if len(os.Args) > 3 {
		prompt = os.Args[3]
	}

	fmt.Println("========================================")
	fmt.Printf("Making Call to %s\n", targetNumber)
	fmt.Println("========================================")
	fmt.Println()

	callData := map[string]interface{}{
		"calling_to":    targetNumber,
		"phone_number":  targetNumber,
		"agent_id":      agentID,
		"prompt":        prompt,
		"first_message": "Hello, this is your reminder call.",
		"time":          time.Now().Format("15:04"),
		"event_type":    os.Getenv("EVENT_TYPE"),
		"event_name":    os.Getenv("EVENT_NAME"),
	}
	jsonData, err := json.Marshal(callData)
	if err != nil {
		log.Fatalf("Failed to marshal request: %v", err)
	}

	url := baseURL + "/calls"
	httpClient := client.NewHTTPClient("voice-relay", 30*time.Second)
	resp, err := httpClient.Do(context.Background(), "create_call", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if key := os.Getenv("IDEMPOTENCY_KEY"); key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		return req, nil
	})
	if err != nil {
		log.Fatalf("Failed to make request: %v", err)
	}

	fmt.Printf("URL: %s\n", url)
	fmt.Printf("Status Code: %d\n", resp.StatusCode)
	fmt.Println()

	if resp.StatusCode == http.StatusCreated {
		var result struct {
			Message string `json:"message"`
			Record  struct {
				Destination string `json:"destination"`
				AgentID     string `json:"agent_id"`
				CallDate    string `json:"call_date"`
				Stage       string `json:"stage"`
			} `json:"record"`
		}
		if err := json.Unmarshal(resp.Body, &result); err == nil {
			fmt.Println("✅ Call queued successfully!")
			fmt.Printf("Destination: %s\n", result.Record.Destination)
			fmt.Printf("Call Date: %s\n", result.Record.CallDate)
			fmt.Printf("Stage: %s\n", result.Record.Stage)
		} else {
			fmt.Println("Response:", string(resp.Body))
		}
	} else {
		fmt.Printf("❌ Call creation failed (Status: %d)\n", resp.StatusCode)
		var problem map[string]interface{}
		if err := json.Unmarshal(resp.Body, &problem); err == nil {
			if detail, ok := problem["detail"].(string); ok {
				fmt.Printf("Detail: %s\n", detail)
			}
		} else {
			fmt.Println("Response:", string(resp.Body))
		}
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("✅ Complete!")
	fmt.Println("========================================")
}
