// Package config loads engine configuration from orchestration.yaml with
// environment overrides, and hot-reloads tunables when the file changes.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the engine's full configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Review    ReviewConfig    `mapstructure:"review"`
}

// LLMConfig covers the completion service endpoint and the retry policy for
// calls to it.
type LLMConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	BackoffBase   float64       `mapstructure:"backoff_base"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
	MaxTokens     int           `mapstructure:"max_tokens"`
}

// ToolsConfig covers tool dispatch.
type ToolsConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	IncludeStubs   bool          `mapstructure:"include_stubs"`
}

// DatabaseConfig mirrors db.Config.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig covers the progress mirror.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// TemporalConfig covers the workflow backend connection.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// StreamingConfig covers the progress channel.
type StreamingConfig struct {
	RingCapacity      int           `mapstructure:"ring_capacity"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MirrorMaxLen      int64         `mapstructure:"mirror_max_len"`
	MirrorTTL         time.Duration `mapstructure:"mirror_ttl"`
}

// HTTPConfig covers the admin/API listener.
type HTTPConfig struct {
	Port              int    `mapstructure:"port"`
	ApprovalAuthToken string `mapstructure:"approval_auth_token"`
}

// ReviewConfig covers the human approval gate.
type ReviewConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.initial_delay", "1s")
	v.SetDefault("llm.backoff_base", 2.0)
	v.SetDefault("llm.max_delay", "30s")
	v.SetDefault("llm.rate_per_second", 5.0)
	v.SetDefault("llm.rate_burst", 10)
	v.SetDefault("llm.max_tokens", 8192)

	v.SetDefault("tools.timeout", "30s")
	v.SetDefault("tools.max_concurrency", 4)
	v.SetDefault("tools.include_stubs", false)

	v.SetDefault("database.host", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "corpusflow")
	v.SetDefault("database.database", "corpusflow")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.enabled", true)

	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "corpusflow-runs")

	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("streaming.heartbeat_interval", "15s")
	v.SetDefault("streaming.mirror_max_len", 1024)
	v.SetDefault("streaming.mirror_ttl", "24h")

	v.SetDefault("http.port", 8081)

	v.SetDefault("review.timeout", "30m")
}

// Load reads configuration from path (optional) layered over defaults and
// CORPUSFLOW_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CORPUSFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive")
	}
	if c.Tools.Timeout >= c.LLM.Timeout {
		return fmt.Errorf("tools.timeout (%s) must be below llm.timeout (%s)", c.Tools.Timeout, c.LLM.Timeout)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if c.Tools.MaxConcurrency < 1 {
		return fmt.Errorf("tools.max_concurrency must be at least 1")
	}
	return nil
}

// Watcher hot-reloads the config file and hands the parsed result to
// subscribers. Only tunables read per-call (retry policy, timeouts) pick up
// changes; connections made at startup do not.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	path    string
	logger  *zap.Logger
	onSwap  []func(*Config)
}

// NewWatcher loads path and begins watching it for changes.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{current: cfg, path: path, logger: logger}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	go w.loop(fsw)
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked with each successfully reloaded
// config.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	w.onSwap = append(w.onSwap, fn)
	w.mu.Unlock()
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer fsw.Close()
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous", zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.current = cfg
			callbacks := append([]func(*Config){}, w.onSwap...)
			w.mu.Unlock()
			w.logger.Info("config reloaded", zap.String("path", w.path))
			for _, fn := range callbacks {
				fn(cfg)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
