package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "bgrefresh/pkg/logx"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	r, err := Default().Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.TaskID != DefaultTaskID || r.MinInterval != 15*time.Minute || r.Delay != time.Second {
		t.Fatalf("refresh defaults = %+v", r)
	}
	if r.Title != "WeFlow Social" || r.Body != "Tienes nuevas actualizaciones" {
		t.Fatalf("content defaults = %q / %q", r.Title, r.Body)
	}
	if !r.Alert || !r.Sound || !r.Badge {
		t.Fatal("permission defaults should request alert, sound and badge")
	}
	if len(r.PermittedTaskIDs) != 1 || r.PermittedTaskIDs[0] != DefaultTaskID {
		t.Fatalf("permitted = %v", r.PermittedTaskIDs)
	}
	if r.StorageDriver != "none" {
		t.Fatalf("storage driver = %q", r.StorageDriver)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "refreshd.yaml", `
logging:
  level: debug
  console: true
refresh:
  min_interval: 20m
  title: Hello
permission:
  alert: true
host:
  capability_tier: legacy
  authorization: deny
storage:
  driver: sqlite
  path: ./ledger.db
`)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
	r, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.MinInterval != 20*time.Minute || r.Title != "Hello" || r.Body != DefaultBody {
		t.Fatalf("refresh = %+v", r)
	}
	if !r.Alert || r.Sound || r.Badge {
		t.Fatalf("permission = %v %v %v", r.Alert, r.Sound, r.Badge)
	}
	if r.CapabilityTier != "legacy" || r.Authorization != "deny" || r.StorageDriver != "sqlite" {
		t.Fatalf("host/storage = %+v", r)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "unknown field", file: "c.json", content: `{"refresh":{"interval":"1m"}}`, wantErr: "unknown field"},
		{name: "trailing data", file: "c.json", content: `{} {}`, wantErr: "trailing data"},
		{name: "bad duration", file: "c.json", content: `{"refresh":{"min_interval":"soon"}}`, wantErr: "refresh.min_interval"},
		{name: "negative duration", file: "c.json", content: `{"host":{"time_budget":"-1s"}}`, wantErr: "host.time_budget"},
		{name: "bad tier", file: "c.yml", content: "host:\n  capability_tier: retro\n", wantErr: "capability_tier"},
		{name: "bad policy", file: "c.json", content: `{"host":{"authorization":"maybe"}}`, wantErr: "host.authorization"},
		{name: "bad driver", file: "c.json", content: `{"storage":{"driver":"redis"}}`, wantErr: "storage.driver"},
		{name: "telegram without token", file: "c.json", content: `{"telegram":{"enabled":true,"chat_id":1}}`, wantErr: "telegram.token"},
		{name: "yaml sequence", file: "c.yml", content: "- a\n- b\n", wantErr: "top level must be a mapping"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.content)
			_, err := NewConfigManager(p).Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: " ", want: time.Minute},
		{raw: "0s", want: time.Minute},
		{raw: "0", want: time.Minute},
		{raw: "900", want: 15 * time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "-2s", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		d, err := parseInterval("x", tt.raw, time.Minute)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: accepted as %v", tt.raw, d)
			}
			continue
		}
		if err != nil || d != tt.want {
			t.Fatalf("%q = %v, %v; want %v", tt.raw, d, err, tt.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := Default()
	next := Default()
	next.Refresh.MinInterval = "30m"
	next.Telegram = &TelegramConfig{Enabled: true, Token: "secret", ChatID: 7}

	changed, attrs := SummarizeConfigChange(old, next)
	if strings.Join(changed, ",") != "refresh,telegram" {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("token leaked into log: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "refresh.min_interval") {
		t.Fatalf("missing attrs: %s", buf.String())
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "refreshd.json", `{"refresh":{"min_interval":"15m"}}`)
	m := NewConfigManager(p)
	m.SetLogger(logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub, unsub := m.Subscribe(1)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	writeFile(t, dir, "refreshd.json", `{"refresh":{"min_interval":"nope"}}`)
	time.Sleep(500 * time.Millisecond)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg.Refresh)
	default:
	}

	writeFile(t, dir, "refreshd.json", `{"refresh":{"min_interval":"20m"}}`)
	select {
	case cfg := <-sub:
		if cfg.Refresh.MinInterval != "20m" {
			t.Fatalf("published = %+v", cfg.Refresh)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
}

func TestReloadHonorsValidator(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "refreshd.json", `{"refresh":{"task_id":"a"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	var gotPrev string
	m.SetValidator(func(_ context.Context, prev, next *Config) error {
		gotPrev = prev.Refresh.TaskID
		if next.Refresh.TaskID != prev.Refresh.TaskID {
			return errors.New("task id is fixed")
		}
		return nil
	})
	sub, unsub := m.Subscribe(2)
	defer unsub()

	writeFile(t, dir, "refreshd.json", `{"refresh":{"task_id":"b"}}`)
	m.reload(context.Background())
	if gotPrev != "a" || m.Get().Refresh.TaskID != "a" {
		t.Fatalf("prev = %q, committed = %q", gotPrev, m.Get().Refresh.TaskID)
	}

	writeFile(t, dir, "refreshd.json", `{"refresh":{"task_id":"a","title":"Hi"}}`)
	m.reload(context.Background())
	m.reload(context.Background()) // unchanged, not republished
	if len(sub) != 1 {
		t.Fatalf("published %d revisions, want 1", len(sub))
	}
	if cfg := <-sub; cfg.Refresh.Title != "Hi" {
		t.Fatalf("published = %+v", cfg.Refresh)
	}
}
