package core

import (
	"strings"
	"testing"
)

func TestNewCorrelationIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		if id == "" {
			t.Fatal("empty correlation id")
		}
		if seen[id] {
			t.Fatalf("duplicate correlation id: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateGUID(t *testing.T) {
	id, err := GenerateGUID("msg")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "msg-") {
		t.Errorf("expected msg- prefix, got %s", id)
	}
	if len(id) != len("msg-")+8 {
		t.Errorf("unexpected guid length: %s", id)
	}

	// Trailing dash in prefix is normalized.
	id2, err := GenerateGUID("msg-")
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(id2, "msg--") {
		t.Errorf("double dash in guid: %s", id2)
	}
}
