package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvOverrides are read from the process environment (and .env) on every
// parse, so a reload never loses a secret that only lives in the environment.
type EnvOverrides struct {
	Token       string `envconfig:"TOKEN"`
	GroupChatID int64  `envconfig:"GROUP_CHAT_ID"`
	Timezone    string `envconfig:"TIMEZONE"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// LoadDotenv loads files (default ".env") into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotenv(files ...string) {
	_ = godotenv.Load(files...)
}

func readEnv() (EnvOverrides, error) {
	var ov EnvOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return ov, fmt.Errorf("env: %w", err)
	}
	return ov, nil
}

// Apply overlays non-empty overrides onto cfg.
func (ov EnvOverrides) Apply(cfg *Config) {
	if s := strings.TrimSpace(ov.Token); s != "" {
		cfg.Telegram.Token = s
	}
	if s := strings.TrimSpace(ov.Timezone); s != "" {
		cfg.Standup.Timezone = s
	}
	if s := strings.TrimSpace(ov.LogLevel); s != "" {
		cfg.Logging.Level = s
	}
	if ov.GroupChatID != 0 && !slices.Contains(cfg.Standup.Chats, ov.GroupChatID) {
		cfg.Standup.Chats = append(cfg.Standup.Chats, ov.GroupChatID)
	}
}
