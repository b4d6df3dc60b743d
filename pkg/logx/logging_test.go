package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "standupbot/internal/transport"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.WarnLevel},
		{"loud", zerolog.WarnLevel},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, zerolog.WarnLevel); got != tc.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewWriterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "engine"))

	log.Debug("hidden")
	log.Warn("dispatch failed", ChatID(-100), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "engine" || m["message"] != "dispatch failed" || m["err"] != "boom" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["chat_id"] != float64(-100) {
		t.Fatalf("chat_id=%v", m["chat_id"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%q", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	Nop().With(String("k", "v")).Error("still nothing")
}

func TestFormatTelegramJSON(t *testing.T) {
	got := formatTelegramJSON([]byte(`{"level":"warn","message":"send failed","chat_id":42,"time":"x"}` + "\n"))
	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("unexpected head: %q", got)
	}
	if !strings.Contains(got, "\n- chat_id=42") || strings.Contains(got, "time=") {
		t.Fatalf("unexpected body: %q", got)
	}

	if got := formatTelegramJSON([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw fallback=%q", got)
	}
	if got := truncate(strings.Repeat("a", 50), 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate=%q", got)
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) snapshot() ([]string, []kit.ChatTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...), append([]kit.ChatTarget(nil), c.to...)
}

func TestServiceFileAndTelegramSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -1001,
			ThreadID:   7,
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, sender)

	log.Info("standup sent")
	log.Warn("standup failed", ChatID(5))

	deadline := time.Now().Add(2 * time.Second)
	var sent []string
	var to []kit.ChatTarget
	for time.Now().Before(deadline) {
		sent, to = sender.snapshot()
		if len(sent) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(sent) != 1 || !strings.HasPrefix(sent[0], "[WARN] standup failed") {
		t.Fatalf("telegram sink got %q", sent)
	}
	if to[0] != (kit.ChatTarget{ChatID: -1001, ThreadID: 7}) {
		t.Fatalf("target=%+v", to[0])
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "standup sent") || !strings.Contains(string(b), "standup failed") {
		t.Fatalf("file sink missing records: %q", b)
	}
}
