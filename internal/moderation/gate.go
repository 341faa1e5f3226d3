// Package moderation implements the validation gate consulted after a
// message is optimistically rendered. The gate never blocks the render
// path; the room controller calls it from a background goroutine and
// withdraws the speculative entry on a veto.
package moderation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

const (
	defaultMaxBodyLen  = 2000
	defaultMinInterval = 500 * time.Millisecond
)

// Rejection is a policy veto with a user-facing reason. The vetoed entry
// is withdrawn, never marked failed: it never attempted network I/O.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Gate applies local send policy: body length, blocked-word patterns, and
// a per-sender flood interval.
type Gate struct {
	maxBodyLen  int
	minInterval time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	patterns []glob.Glob
	lastSend map[string]time.Time
}

// NewGate creates a gate with default limits and no wordlist.
func NewGate() *Gate {
	return &Gate{
		maxBodyLen:  defaultMaxBodyLen,
		minInterval: defaultMinInterval,
		now:         time.Now,
		lastSend:    make(map[string]time.Time),
	}
}

// Check validates one outgoing message. A nil return allows the send; a
// *Rejection carries the reason shown to the user.
func (g *Gate) Check(body, senderID string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return &Rejection{Reason: "message is empty"}
	}
	if len(body) > g.maxBodyLen {
		return &Rejection{Reason: fmt.Sprintf("message exceeds %d characters", g.maxBodyLen)}
	}

	lowered := strings.ToLower(trimmed)
	g.mu.RLock()
	patterns := g.patterns
	g.mu.RUnlock()
	for _, p := range patterns {
		if p.Match(lowered) {
			return &Rejection{Reason: "message contains blocked content"}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.lastSend[senderID]; ok && g.now().Sub(last) < g.minInterval {
		return &Rejection{Reason: "sending too fast"}
	}
	g.lastSend[senderID] = g.now()
	return nil
}

// SetWordlist replaces the blocked-word patterns. Each entry is a glob
// matched against the lowercased message body, e.g. "*casino*".
func (g *Gate) SetWordlist(words []string) error {
	patterns := make([]glob.Glob, 0, len(words))
	for _, word := range words {
		word = strings.TrimSpace(strings.ToLower(word))
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		p, err := glob.Compile(word)
		if err != nil {
			return fmt.Errorf("compile wordlist pattern %q: %w", word, err)
		}
		patterns = append(patterns, p)
	}
	g.mu.Lock()
	g.patterns = patterns
	g.mu.Unlock()
	return nil
}

// LoadWordlist reads patterns from a file, one per line. Blank lines and
// #-comments are skipped. A missing file clears the list.
func (g *Gate) LoadWordlist(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return g.SetWordlist(nil)
		}
		return err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		words = append(words, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return g.SetWordlist(words)
}
