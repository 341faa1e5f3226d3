package core

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const (
	guidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	guidLength   = 8
)

// NewCorrelationID creates the client token attached to every send attempt.
// The backend echoes it into the confirmed record; it is the only join key
// between a speculative message and its confirmed counterpart.
func NewCorrelationID() string {
	return uuid.NewString()
}

// GenerateGUID creates a short GUID with the provided prefix. Used for
// durable message ids assigned server-side.
func GenerateGUID(prefix string) (string, error) {
	normalized := prefix
	if len(normalized) > 0 && normalized[len(normalized)-1] == '-' {
		normalized = normalized[:len(normalized)-1]
	}

	buf := make([]byte, guidLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guid: %w", err)
	}

	id := make([]byte, guidLength)
	for i := 0; i < guidLength; i++ {
		id[i] = guidAlphabet[int(buf[i])%len(guidAlphabet)]
	}

	return fmt.Sprintf("%s-%s", normalized, string(id)), nil
}
