package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/identity"
)

// tokenEntry is one credential in the static token file.
type tokenEntry struct {
	UserID     string `json:"user_id"`
	ScreenName string `json:"screen_name"`
}

// fileVerifier is a static-token stand-in for the external identity
// service, useful for development and small deployments. Real deployments
// put their JWT/passkey verifier behind the same interface.
type fileVerifier struct {
	tokens map[string]tokenEntry
}

func newFileVerifier(path string) (identity.Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tokens map[string]tokenEntry
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &fileVerifier{tokens: tokens}, nil
}

func (v *fileVerifier) Verify(ctx context.Context, token string) (string, string, error) {
	entry, ok := v.tokens[token]
	if !ok {
		return "", "", fmt.Errorf("unknown token")
	}
	return entry.UserID, entry.ScreenName, nil
}
