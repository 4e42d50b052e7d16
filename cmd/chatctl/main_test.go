package main

import (
	"strings"
	"testing"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}

	if err := setConfigValue(cfg, "server_url", "http://localhost:8080"); err != nil {
		t.Fatalf("expected server_url to be accepted: %v", err)
	}
	if err := setConfigValue(cfg, "user_id", "42"); err != nil {
		t.Fatalf("expected user_id to be accepted: %v", err)
	}
	if cfg.ServerURL != "http://localhost:8080" || cfg.UserID != 42 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if err := setConfigValue(cfg, "user_id", "abc"); err == nil {
		t.Fatalf("expected non-numeric user_id to be rejected")
	}
	if err := setConfigValue(cfg, "colour", "blue"); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID("17"); err != nil || id != 17 {
		t.Fatalf("expected 17, got %d (%v)", id, err)
	}
	for _, raw := range []string{"0", "-3", "x"} {
		if _, err := parseChatID(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestFormatMessageMarksPendingAndFailed(t *testing.T) {
	m := models.Message{SenderID: 2, Content: "hi", CreatedAt: time.Now()}

	if got := formatMessage(m, false); !strings.HasSuffix(got, "[sending]") {
		t.Fatalf("expected pending marker, got %q", got)
	}
	if got := formatMessage(m, true); !strings.HasSuffix(got, "[failed]") {
		t.Fatalf("expected failed marker, got %q", got)
	}
	m.ID = 9
	if got := formatMessage(m, false); strings.Contains(got, "[") {
		t.Fatalf("expected no marker for delivered message, got %q", got)
	}
}
