// Package cursor encodes and decodes $skiptoken continuation tokens.
// Tokens are opaque URL-safe base64 JSON objects wrapping a provider-issued id.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const tokenVersion = 1

type payload struct {
	Version int    `json:"v"`
	ID      string `json:"id"`
}

// EncodeToken wraps id in an opaque token.
func EncodeToken(id string) string {
	data, err := json.Marshal(payload{Version: tokenVersion, ID: id})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken returns the id carried by raw.
func DecodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("invalid token: empty")
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("invalid token format")
	}
	if p.Version != tokenVersion {
		return "", fmt.Errorf("invalid token format: unsupported version %d", p.Version)
	}
	if p.ID == "" {
		return "", fmt.Errorf("invalid token: missing id")
	}
	return p.ID, nil
}
