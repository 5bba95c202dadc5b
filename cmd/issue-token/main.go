package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/troikatech/voice-relay/pkg/auth"
	"github.com/troikatech/voice-relay/pkg/env"
)

// Issues an operator bearer token for the /api routes.
// Usage: issue-token <subject>
func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	subject := "operator"
	if len(os.Args) > 1 {
		subject = os.Args[1]
	}

	ttl := time.Duration(cfg.AccessTTLMin) * time.Minute
	token, expiresAt, err := auth.IssueToken(subject, auth.ScopeOperator, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println("✅ Operator token issued")
	fmt.Printf("Subject: %s\n", subject)
	fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println(token)
}
