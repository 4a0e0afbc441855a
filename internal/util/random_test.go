package util

import (
	"strings"
	"testing"
)

func TestGenerateGuestID(t *testing.T) {
	id := GenerateGuestID()
	if !strings.HasPrefix(id, GuestIDPrefix) {
		t.Errorf("expected guest prefix, got %s", id)
	}
	if !IsGuestID(id) {
		t.Errorf("expected %s to be recognized as guest id", id)
	}
	if IsGuestID("user-42") {
		t.Error("foreign user id misclassified as guest")
	}
	if id == GenerateGuestID() {
		t.Error("two generated guest ids collided")
	}
}

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(16)
	if len(hex) != 16 {
		t.Errorf("expected 16 chars, got %d", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("unexpected character %q in hex string", c)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("expected empty string for zero length")
	}
}

func TestGenerateActionID(t *testing.T) {
	id := GenerateActionID()
	if !strings.HasPrefix(id, "a_") || len(id) != 34 {
		t.Errorf("unexpected action id format: %s", id)
	}
}
