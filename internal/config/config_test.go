package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"standupbot/internal/standup"
)

const sampleYAML = `
telegram:
  token: "file-token"
logging:
  level: info
  console: true
standup:
  timezone: Asia/Jakarta
  default_time: "17:00"
  default_weekdays: mon-fri
  chats: [-1001]
  mention_members: true
  dispatch_timeout: 20s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestManager(path string, ov EnvOverrides) *ConfigManager {
	m := NewConfigManager(path)
	m.env = func() (EnvOverrides, error) { return ov, nil }
	return m
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	m := newTestManager(p, EnvOverrides{Token: "env-token", GroupChatID: -1002, Timezone: "UTC"})

	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q, want env override", cfg.Telegram.Token)
	}
	if cfg.Standup.Timezone != "UTC" {
		t.Fatalf("timezone = %q", cfg.Standup.Timezone)
	}
	if got := cfg.Standup.Chats; len(got) != 2 || got[0] != -1001 || got[1] != -1002 {
		t.Fatalf("chats = %v", got)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"standup":{"default_time":"08:15"}}`)
	cfg, err := newTestManager(p, EnvOverrides{}).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Standup.DefaultTime != "08:15" {
		t.Fatalf("default_time = %q", cfg.Standup.DefaultTime)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML+"  cron: \"0 9 * * *\"\n")
	_, err := newTestManager(p, EnvOverrides{}).Parse()
	if err == nil || !strings.Contains(err.Error(), "cron") {
		t.Fatalf("err = %v, want unknown field cron", err)
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"}}{}`)
	if _, err := newTestManager(p, EnvOverrides{}).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token is required"},
		{"bad time", func(c *Config) { c.Standup.DefaultTime = "25:00" }, "standup.default_time"},
		{"bad weekdays", func(c *Config) { c.Standup.DefaultWeekdays = "funday" }, "standup.default_weekdays"},
		{"bad zone", func(c *Config) { c.Standup.Timezone = "Mars/Olympus" }, "standup.timezone"},
		{"bad duration", func(c *Config) { c.Standup.RetryBase = "soon" }, "standup.retry_base"},
		{"negative duration", func(c *Config) { c.Standup.DispatchTimeout = "-1s" }, "standup.dispatch_timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"zero chat", func(c *Config) { c.Standup.Chats = []int64{0} }, "standup.chats[0]"},
		{"file without path", func(c *Config) { c.Logging.File.Enabled = true }, "logging.file.path"},
		{"telegram log without group", func(c *Config) { c.Logging.Telegram.Enabled = true }, "group_log"},
		{"ops public without token", func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:6060"
		}, "not loopback"},
		{"ops public with token", func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:6060"
			c.Ops.Token = "secret"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(context.Background(), cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	s, err := StandupConfig{Chats: []int64{5, 5, 0, 6}}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if s.Location.String() != DefaultTimezone {
		t.Fatalf("zone = %s", s.Location)
	}
	if s.Defaults.Time != (standup.TimeOfDay{Hour: 9}) || s.Defaults.Weekdays != standup.WorkingDays {
		t.Fatalf("defaults = %+v", s.Defaults)
	}
	if s.DispatchTimeout != 30*time.Second {
		t.Fatalf("dispatch timeout = %s", s.DispatchTimeout)
	}
	if len(s.Chats) != 2 || s.Chats[0] != 5 || s.Chats[1] != 6 {
		t.Fatalf("chats = %v", s.Chats)
	}
	if s.Messenger.RetryBase != time.Second || s.Messenger.MemberCacheTTL != 10*time.Minute {
		t.Fatalf("messenger = %+v", s.Messenger)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	m := newTestManager(p, EnvOverrides{})
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file must not publish")
	}

	bad := strings.Replace(sampleYAML, `"17:00"`, `"17:75"`, 1)
	if err := os.WriteFile(p, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatal("invalid file must not publish")
	}
	if m.Get().Standup.DefaultTime != "17:00" {
		t.Fatalf("rejected config was committed")
	}

	good := strings.Replace(sampleYAML, `"17:00"`, `"18:30"`, 1)
	if err := os.WriteFile(p, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(context.Background()) {
		t.Fatal("changed file should publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Standup.DefaultTime != "18:30" {
			t.Fatalf("published default_time = %q", cfg.Standup.DefaultTime)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Standup: StandupConfig{Timezone: "UTC"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Standup: StandupConfig{Timezone: "Asia/Jakarta"}, Ops: OpsConfig{Token: "s"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "ops,standup" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}
