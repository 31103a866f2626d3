package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
session:
  iteration_timeout: 10s
  max_consecutive_errors: 40
  publish_whole_fields: true
guard:
  backend: redis
redis:
  addr: redis:6379
events:
  backend: pubsub
pubsub:
  project_id: lottery
  topic_name: draws
store:
  backend: sqlite
  sqlite_path: /var/lib/drawwatch.db
archive:
  backend: gcs
  bucket: draw-archive
extract:
  retry:
    max_attempts: 5
families:
  south:
    window_start: "16:05"
    window_end: "16:45"
    budget: 30m
    extractor:
      kind: static
      url: https://results.example.test/{{.Code}}/{{.Date}}
      target_selector: table.results td.province
      region_selector: .name
      fields:
        special_prize: .special span
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Session.IterationTimeout != 10*time.Second || cfg.Session.MaxConsecutiveErrors != 40 {
		t.Fatalf("expected session overrides to apply: %+v", cfg.Session)
	}
	if cfg.Session.SnapshotTTL != 2*time.Hour {
		t.Fatalf("expected default snapshot ttl, got %v", cfg.Session.SnapshotTTL)
	}
	if cfg.Guard.Backend != "redis" || cfg.Guard.StaleAfter != 30*time.Minute {
		t.Fatalf("expected redis guard with default stale window: %+v", cfg.Guard)
	}
	if cfg.Extract.Retry.MaxAttempts != 5 || cfg.Extract.Retry.InitialBackoff != 300*time.Millisecond {
		t.Fatalf("expected retry override merged with defaults: %+v", cfg.Extract.Retry)
	}

	south, ext, err := cfg.Family("xsmn")
	if err != nil {
		t.Fatalf("Family() error = %v", err)
	}
	if south.Name != "south" || south.Budget != 30*time.Minute {
		t.Fatalf("expected south override, got %+v", south)
	}
	if south.LiveWindow.String() != "16:05-16:45" {
		t.Fatalf("expected overridden window, got %s", south.LiveWindow)
	}
	if south.LiveInterval != 1500*time.Millisecond {
		t.Fatalf("expected built-in live interval, got %v", south.LiveInterval)
	}
	if ext.Kind != KindStatic || ext.Fields["special_prize"] != ".special span" {
		t.Fatalf("expected static extractor config, got %+v", ext)
	}

	north, ext, err := cfg.Family("north")
	if err != nil {
		t.Fatalf("Family(north) error = %v", err)
	}
	if north.Budget != 20*time.Minute || ext.Kind != "" {
		t.Fatalf("expected untouched built-in north, got %+v %+v", north, ext)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Guard.Backend != "memory" || cfg.Events.Backend != "memory" || cfg.Store.Backend != "memory" {
		t.Fatalf("expected in-memory backends by default: %+v %+v %+v", cfg.Guard, cfg.Events, cfg.Store)
	}
	if cfg.Archive.Backend != "none" {
		t.Fatalf("expected archive disabled, got %q", cfg.Archive.Backend)
	}
	if cfg.Server.ShutdownTimeout != 45*time.Second {
		t.Fatalf("expected 45s shutdown timeout, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Tracing.ServiceName != "drawwatch" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("expected default tracing config, got %+v", cfg.Tracing)
	}
	if cfg.Extract.HostRPS != 4 || cfg.Extract.HostBurst != 4 {
		t.Fatalf("expected per-host limit 4/4, got %v/%d", cfg.Extract.HostRPS, cfg.Extract.HostBurst)
	}
	if _, _, err := cfg.Family("east"); err == nil {
		t.Fatalf("expected unknown family error")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Guard:   GuardConfig{Backend: "memory"},
		Events:  EventsConfig{Backend: "memory"},
		Store:   StoreConfig{Backend: "memory"},
		Archive: ArchiveConfig{Backend: "none"},
	}

	tests := []struct {
		name string
		cfg  func(c Config) Config
		want string
	}{
		{
			name: "invalid port",
			cfg:  func(c Config) Config { c.Server.Port = 0; return c },
			want: "server.port",
		},
		{
			name: "sample ratio above one",
			cfg:  func(c Config) Config { c.Tracing.SampleRatio = 1.5; return c },
			want: "tracing.sample_ratio",
		},
		{
			name: "auth missing api key",
			cfg:  func(c Config) Config { c.Auth.Enabled = true; return c },
			want: "auth.api_key",
		},
		{
			name: "file guard without dir",
			cfg:  func(c Config) Config { c.Guard.Backend = "file"; return c },
			want: "guard.dir",
		},
		{
			name: "unknown guard",
			cfg:  func(c Config) Config { c.Guard.Backend = "etcd"; return c },
			want: "guard.backend",
		},
		{
			name: "pubsub without topic",
			cfg:  func(c Config) Config { c.Events.Backend = "pubsub"; return c },
			want: "pubsub.project_id",
		},
		{
			name: "postgres store without dsn",
			cfg:  func(c Config) Config { c.Store.Backend = "postgres"; return c },
			want: "postgres.dsn",
		},
		{
			name: "gcs archive without bucket",
			cfg:  func(c Config) Config { c.Archive.Backend = "gcs"; return c },
			want: "archive.bucket",
		},
		{
			name: "unknown family",
			cfg: func(c Config) Config {
				c.Families = map[string]FamilyConfig{"east": {}}
				return c
			},
			want: "families.east",
		},
		{
			name: "half a window",
			cfg: func(c Config) Config {
				c.Families = map[string]FamilyConfig{"north": {WindowStart: "18:10"}}
				return c
			},
			want: "window_start",
		},
		{
			name: "headless without script",
			cfg: func(c Config) Config {
				c.Families = map[string]FamilyConfig{"central": {Extractor: ExtractorConfig{Kind: KindHeadless, URL: "https://x"}}}
				return c
			},
			want: "headless extractor",
		},
		{
			name: "unknown extractor kind",
			cfg: func(c Config) Config {
				c.Families = map[string]FamilyConfig{"central": {Extractor: ExtractorConfig{Kind: "ocr"}}}
				return c
			},
			want: "extractor.kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg(base).Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}
}

func TestExtractorHeaders(t *testing.T) {
	t.Parallel()

	if got := (ExtractorConfig{}).HTTPHeaders(); got != nil {
		t.Fatalf("expected nil headers, got %v", got)
	}
	h := ExtractorConfig{Headers: map[string]string{"referer": "https://results.example.test"}}.HTTPHeaders()
	if h.Get("Referer") != "https://results.example.test" {
		t.Fatalf("expected canonical header, got %v", h)
	}
}
