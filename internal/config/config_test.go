package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(zerolog.Nop()); err == nil {
		t.Fatalf("expected error when JWT_SECRET is empty")
	}
}

func TestLoadConfigAppliesDefaultsAndOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("HISTORY_PAGE_SIZE", "35")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")
	t.Setenv("NODE_ID", "node-a")

	cfg, err := LoadConfig(zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AppEnv != "development" || !cfg.IsDevelopment() {
		t.Fatalf("expected development env, got %q", cfg.AppEnv)
	}
	if cfg.HistoryPageSize != 35 {
		t.Fatalf("expected page size 35, got %d", cfg.HistoryPageSize)
	}
	if cfg.WSSendBuffer != 32 {
		t.Fatalf("expected fallback send buffer 32, got %d", cfg.WSSendBuffer)
	}
	if cfg.NodeID != "node-a" {
		t.Fatalf("expected node id override, got %q", cfg.NodeID)
	}
}

func TestLoadConfigReportsMissingEnvFileThroughLogger(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	if _, err := LoadConfig(logger); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !strings.Contains(buf.String(), "no .env file found") {
		t.Fatalf("expected missing .env to be logged, got %q", buf.String())
	}
}
