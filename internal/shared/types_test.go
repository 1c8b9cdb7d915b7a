package shared

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("sess_")
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("expected sess_ prefix, got %s", id)
	}
	if len(id) != len("sess_")+32 {
		t.Errorf("unexpected id length %d", len(id))
	}
	if NewID("sess_") == id {
		t.Error("ids should be unique")
	}
}

func TestAnonymizeIP(t *testing.T) {
	h := AnonymizeIP("203.0.113.7")
	if len(h) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(h))
	}
	if strings.Contains(h, "203") {
		t.Error("hash should not contain the raw address")
	}
	if AnonymizeIP("203.0.113.7") != h {
		t.Error("hash should be deterministic")
	}
	if AnonymizeIP("203.0.113.8") == h {
		t.Error("different addresses should hash differently")
	}
}
