// Package config loads and validates drawwatch configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Extractor kinds.
const (
	KindHeadless = "headless"
	KindStatic   = "static"
	KindReplay   = "replay"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Auth     AuthConfig              `mapstructure:"auth"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Tracing  TracingConfig           `mapstructure:"tracing"`
	Session  SessionConfig           `mapstructure:"session"`
	Guard    GuardConfig             `mapstructure:"guard"`
	Redis    RedisConfig             `mapstructure:"redis"`
	Postgres PostgresConfig          `mapstructure:"postgres"`
	Events   EventsConfig            `mapstructure:"events"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Store    StoreConfig             `mapstructure:"store"`
	Archive  ArchiveConfig           `mapstructure:"archive"`
	Extract  ExtractConfig           `mapstructure:"extract"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	Families map[string]FamilyConfig `mapstructure:"families"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// History is how many finished sessions stay visible in the status API.
	History int `mapstructure:"history"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls span sampling. Trace context is always propagated.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SessionConfig holds the session loop defaults shared by every family.
type SessionConfig struct {
	IterationTimeout     time.Duration `mapstructure:"iteration_timeout"`
	FinalizeTimeout      time.Duration `mapstructure:"finalize_timeout"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	CheckpointEvery      int           `mapstructure:"checkpoint_every"`
	PublishWholeFields   bool          `mapstructure:"publish_whole_fields"`
	SnapshotTTL          time.Duration `mapstructure:"snapshot_ttl"`
}

// GuardConfig selects the execution guard backend.
type GuardConfig struct {
	Backend    string        `mapstructure:"backend"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Dir        string        `mapstructure:"dir"`
	Table      string        `mapstructure:"table"`
}

// RedisConfig addresses the Redis server used by the redis guard and event backends.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// EventsConfig selects the event channel backend.
type EventsConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig holds the Pub/Sub topic used by the pubsub event backend.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	Table      string `mapstructure:"table"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ArchiveConfig selects where final records are archived, if anywhere.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ExtractConfig bounds every extractor call.
type ExtractConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	Retry       RetryConfig   `mapstructure:"retry"`
	// HostRPS caps extractor calls per second against one source host,
	// shared by all sessions. Zero disables the limit.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// RetryConfig configures extractor retries within one iteration.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// HeadlessConfig configures the browser used by headless extractors.
type HeadlessConfig struct {
	ExecPath          string        `mapstructure:"exec_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ReloadEvery       int           `mapstructure:"reload_every"`
}

// FamilyConfig overrides a built-in family and describes its extractor.
type FamilyConfig struct {
	WindowStart  string          `mapstructure:"window_start"`
	WindowEnd    string          `mapstructure:"window_end"`
	LiveInterval time.Duration   `mapstructure:"live_interval"`
	IdleInterval time.Duration   `mapstructure:"idle_interval"`
	Budget       time.Duration   `mapstructure:"budget"`
	Extractor    ExtractorConfig `mapstructure:"extractor"`
}

// ExtractorConfig describes how to read one family's results page.
type ExtractorConfig struct {
	Kind string `mapstructure:"kind"`
	URL  string `mapstructure:"url"`

	Script       string            `mapstructure:"script"`
	WaitSelector string            `mapstructure:"wait_selector"`
	Headers      map[string]string `mapstructure:"headers"`

	TargetSelector string            `mapstructure:"target_selector"`
	RegionSelector string            `mapstructure:"region_selector"`
	Fields         map[string]string `mapstructure:"fields"`

	Frames string `mapstructure:"frames"`
}

// HTTPHeaders converts the configured headers for transport use.
func (e ExtractorConfig) HTTPHeaders() http.Header {
	if len(e.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(e.Headers))
	for k, v := range e.Headers {
		h.Set(k, v)
	}
	return h
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DRAWWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "45s")
	v.SetDefault("server.history", 50)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.service_name", "drawwatch")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("session.iteration_timeout", "20s")
	v.SetDefault("session.finalize_timeout", "30s")
	v.SetDefault("session.max_consecutive_errors", 0)
	v.SetDefault("session.checkpoint_every", 0)
	v.SetDefault("session.publish_whole_fields", false)
	v.SetDefault("session.snapshot_ttl", "2h")
	v.SetDefault("guard.backend", "memory")
	v.SetDefault("guard.stale_after", "30m")
	v.SetDefault("guard.table", "session_locks")
	v.SetDefault("guard.dir", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", "30m")
	v.SetDefault("events.backend", "memory")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.table", "draw_results")
	v.SetDefault("store.sqlite_path", "data/drawwatch.db")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.dir", "data/archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "draws")
	v.SetDefault("extract.call_timeout", "15s")
	v.SetDefault("extract.user_agent", "drawwatch/0.1")
	v.SetDefault("extract.retry.max_attempts", 3)
	v.SetDefault("extract.retry.initial_backoff", "300ms")
	v.SetDefault("extract.retry.max_backoff", "3s")
	v.SetDefault("extract.host_rps", 4)
	v.SetDefault("extract.host_burst", 4)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.navigation_timeout", "15s")
	v.SetDefault("headless.reload_every", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Session.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("session.max_consecutive_errors must be >= 0")
	}

	switch c.Guard.Backend {
	case "memory":
	case "file":
		if c.Guard.Dir == "" {
			return fmt.Errorf("guard.dir must be set for the file guard")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis guard")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set for the postgres guard")
		}
	default:
		return fmt.Errorf("guard.backend %q is not one of memory, file, redis, postgres", c.Guard.Backend)
	}

	switch c.Events.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for redis events")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for pubsub events")
		}
	default:
		return fmt.Errorf("events.backend %q is not one of memory, redis, pubsub", c.Events.Backend)
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set for the postgres store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite store")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, postgres, sqlite", c.Store.Backend)
	}

	switch c.Archive.Backend {
	case "none", "":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, local, gcs", c.Archive.Backend)
	}

	for name, fc := range c.Families {
		if _, err := draw.LookupFamily(name); err != nil {
			return fmt.Errorf("families.%s: %w", name, err)
		}
		if err := fc.validate(); err != nil {
			return fmt.Errorf("families.%s: %w", name, err)
		}
	}
	return nil
}

func (fc FamilyConfig) validate() error {
	if (fc.WindowStart == "") != (fc.WindowEnd == "") {
		return fmt.Errorf("window_start and window_end must be set together")
	}
	if fc.WindowStart != "" {
		if _, err := draw.ParseWindow(fc.WindowStart, fc.WindowEnd); err != nil {
			return err
		}
	}
	ext := fc.Extractor
	switch ext.Kind {
	case "":
	case KindHeadless:
		if ext.URL == "" || ext.Script == "" {
			return fmt.Errorf("headless extractor needs url and script")
		}
	case KindStatic:
		if ext.URL == "" || len(ext.Fields) == 0 {
			return fmt.Errorf("static extractor needs url and fields")
		}
	case KindReplay:
		if ext.Frames == "" {
			return fmt.Errorf("replay extractor needs frames")
		}
	default:
		return fmt.Errorf("extractor.kind %q is not one of headless, static, replay", ext.Kind)
	}
	return nil
}

// Family resolves a built-in family by name or code and applies the
// configured overrides. It also returns the family's extractor settings.
func (c Config) Family(name string) (draw.Family, ExtractorConfig, error) {
	f, err := draw.LookupFamily(name)
	if err != nil {
		return draw.Family{}, ExtractorConfig{}, err
	}
	fc, ok := c.Families[f.Name]
	if !ok {
		return f, ExtractorConfig{}, nil
	}
	if fc.WindowStart != "" {
		w, err := draw.ParseWindow(fc.WindowStart, fc.WindowEnd)
		if err != nil {
			return draw.Family{}, ExtractorConfig{}, fmt.Errorf("family %s window: %w", f.Name, err)
		}
		f.LiveWindow = w
	}
	if fc.LiveInterval > 0 {
		f.LiveInterval = fc.LiveInterval
	}
	if fc.IdleInterval > 0 {
		f.IdleInterval = fc.IdleInterval
	}
	if fc.Budget > 0 {
		f.Budget = fc.Budget
	}
	return f, fc.Extractor, nil
}
