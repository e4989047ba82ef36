package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  addr: 127.0.0.1:8080
  token: s3cret
scheduler:
  timezone: Europe/Berlin
  rearm_daily: true
  rearm_at: "00:05"
activation:
  driver: systemd
  unit_template: detector@%s.service
pipeline:
  dwell_threshold: 5m
  auto_alert: false
notifier:
  enabled: true
  workers: 2
  queue_size: 16
  rate_per_sec: 1
  retry_max: 2
  retry_base: 1s
  retry_max_delay: 10s
  dedup_window: 1m
  dedup_max_entries: 100
  email:
    enabled: true
    host: smtp.example.org
    to: [ops@example.org]
storage:
  driver: sqlite
  path: /var/lib/camguard/camguard.db
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("camguard.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.Timezone != "Europe/Berlin" || !cfg.Scheduler.RearmDaily || cfg.Scheduler.RearmAt != "00:05" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Pipeline.AutoAlert == nil || *cfg.Pipeline.AutoAlert {
		t.Fatalf("auto_alert = %v, want explicit false", cfg.Pipeline.AutoAlert)
	}
	if cfg.Notifier == nil || !cfg.Notifier.Email.Enabled || len(cfg.Notifier.Email.To) != 1 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestDecodeJSONStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		path    string
		in      string
		wantErr string
	}{
		{"ok", "c.json", `{"http":{"addr":":8080"}}`, ""},
		{"unknown field", "c.json", `{"http":{"adr":":8080"}}`, "unknown field"},
		{"unknown yaml field", "c.yml", "pipeline:\n  dwell: 1m\n", "unknown field"},
		{"trailing data", "c.json", `{}{}`, "trailing data"},
		{"bad yaml", "c.yaml", "logging: [", "yaml unmarshal"},
		{"empty yaml", "c.yaml", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.in))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x.y", "soon"); err == nil || !strings.Contains(err.Error(), "x.y") {
		t.Fatalf("err = %v, want field path", err)
	}
	if d, _ := ParseDurationOrDefault("x", "0s", time.Minute); d != time.Minute {
		t.Fatalf("default = %v, want 1m", d)
	}
	if d, _ := ParseDurationOrDefault("x", "90s", time.Minute); d != 90*time.Second {
		t.Fatalf("explicit = %v, want 90s", d)
	}
}

func TestParseClockField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "00:00", false},
		{"7:30", "", true},
		{"07:30", "07:30", false},
		{"07:30:15", "", true},
		{"25:00", "", true},
	}
	for _, tt := range tests {
		got, err := ParseClockField("scheduler.rearm_at", tt.in, "00:00")
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseClockField(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{HTTP: HTTPConfig{Addr: ":8080", Token: "one"}}
	newCfg := &Config{
		HTTP:     HTTPConfig{Addr: ":8080", Token: "two"},
		Pipeline: PipelineConfig{DwellThreshold: "5m"},
		Storage:  &StorageConfig{Driver: "postgres", DSN: "postgres://user:pw@db/camguard"},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{SectionHTTP, SectionPipeline, SectionStorage}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs returned")
	}

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("identical configs reported %v", same)
	}
	if h := redactHTTP(newCfg.HTTP); strings.Contains(h.Token, "two") {
		t.Fatalf("redacted token leaks value: %q", h.Token)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camguard.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("pipeline:\n  dwell_threshold: 10m\n")

	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Pipeline.DwellThreshold == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.DwellThreshold != "10m" || m.Get() != cfg {
		t.Fatalf("loaded = %+v", cfg.Pipeline)
	}

	sub := m.Subscribe(1)
	t.Cleanup(func() { m.Unsubscribe(sub) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The watcher registers asynchronously; keep rewriting until it sees a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-sub:
			if got.Pipeline.DwellThreshold != "5m" {
				t.Fatalf("published %q, want 5m", got.Pipeline.DwellThreshold)
			}
			if m.Get().Pipeline.DwellThreshold != "5m" {
				t.Fatal("published config not committed")
			}
			return
		case <-tick.C:
			write("pipeline:\n  dwell_threshold: 5m\n")
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestReloadRejectsAndSkips(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "camguard.json")
	if err := os.WriteFile(path, []byte(`{"pipeline":{"dwell_threshold":"1m"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.reload(context.Background()) {
		t.Fatal("unchanged content was published")
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("no") })
	if err := os.WriteFile(path, []byte(`{"pipeline":{"dwell_threshold":"2m"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.reload(context.Background()) {
		t.Fatal("rejected config was published")
	}
	if m.Get().Pipeline.DwellThreshold != "1m" {
		t.Fatalf("live config changed to %q after rejection", m.Get().Pipeline.DwellThreshold)
	}
}
