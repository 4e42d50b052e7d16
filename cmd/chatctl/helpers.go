package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/chatclient"
	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/rs/zerolog"
)

// requireConfig loads the config and checks the fields every command needs.
func requireConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server_url. Run 'chatctl config set server_url <url>' first")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token. Run 'chatctl config set token <jwt>' first")
	}
	return cfg, nil
}

func newAPI(cfg *Config) *chatclient.API {
	return chatclient.NewAPI(cfg.ServerURL, cfg.Token)
}

func newLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger()
}

func parseChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chat id %q", raw)
	}
	return id, nil
}

func formatMessage(m models.Message, failed bool) string {
	status := ""
	switch {
	case failed:
		status = " [failed]"
	case m.ID == 0:
		status = " [sending]"
	}
	return fmt.Sprintf("%s  #%d  user %d: %s%s", m.CreatedAt.Local().Format(time.Kitchen), m.ID, m.SenderID, m.Content, status)
}
