package api

import "testing"

func TestNewRoundID(t *testing.T) {
	id := NewRoundID()
	if !ValidateRoundID(id) {
		t.Errorf("NewRoundID() = %q, does not validate", id)
	}
	if ValidateMessageID(id) {
		t.Errorf("round id %q must not validate as a message id", id)
	}
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()
	if !ValidateMessageID(id) {
		t.Errorf("NewMessageID() = %q, does not validate", id)
	}
}

func TestIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate id after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestValidateIDRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"round_",
		"round_short",
		"msg_abc!defghijklmnopqrstuvwx",
		"resp_abcdefghijklmnopqrstuvwx",
	}
	for _, id := range tests {
		if ValidateRoundID(id) || ValidateMessageID(id) {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}
