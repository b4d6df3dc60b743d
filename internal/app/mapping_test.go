package app

import (
	"testing"
	"time"

	"standupbot/internal/config"
)

func TestMapLogConfigUsesGroupLog(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "x", GroupLog: -1001},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Console:  true,
			File:     config.LoggingFile{Enabled: true, Path: "/tmp/bot.log"},
			Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 3, MinLevel: "error", RatePerSec: 2},
		},
	}
	lc := mapLogConfig(cfg)
	if lc.Level != "debug" || !lc.Console || !lc.File.Enabled || lc.File.Path != "/tmp/bot.log" {
		t.Fatalf("unexpected base mapping: %+v", lc)
	}
	if lc.Telegram.ChatID != -1001 || lc.Telegram.ThreadID != 3 || lc.Telegram.MinLevel != "error" || lc.Telegram.RatePerSec != 2 {
		t.Fatalf("unexpected telegram mapping: %+v", lc.Telegram)
	}
}

func TestMapOpsConfigDefaults(t *testing.T) {
	oc, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{Enabled: true, Addr: "127.0.0.1:0"}})
	if err != nil {
		t.Fatalf("mapOpsConfig: %v", err)
	}
	if !oc.Enabled || oc.Addr != "127.0.0.1:0" {
		t.Fatalf("unexpected: %+v", oc)
	}
	if oc.ReadTimeout != 10*time.Second || oc.WriteTimeout != 0 || oc.IdleTimeout != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", oc)
	}

	if _, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{ReadTimeout: "soon"}}); err == nil {
		t.Fatal("expected error for bad read_timeout")
	}
}

func TestMapEngineConfig(t *testing.T) {
	ec := mapEngineConfig(config.StandupSettings{DispatchTimeout: 45 * time.Second})
	if ec.DispatchTimeout != 45*time.Second {
		t.Fatalf("dispatch timeout=%v", ec.DispatchTimeout)
	}
}
