// Package config centralises runtime configuration helpers for the mtgate bridge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel names one of the four logical terminal channels.
type Channel string

const (
	// ChannelCommand carries synchronous command/acknowledgement traffic.
	ChannelCommand Channel = "command"
	// ChannelResult carries result payloads for acknowledged commands.
	ChannelResult Channel = "result"
	// ChannelLive carries the market-data stream.
	ChannelLive Channel = "live"
	// ChannelEvents carries the account/transaction-event stream.
	ChannelEvents Channel = "events"
)

// Ports holds the four fixed logical channel ports of the terminal.
type Ports struct {
	Command int `yaml:"command"`
	Result  int `yaml:"result"`
	Live    int `yaml:"live"`
	Events  int `yaml:"events"`
}

// Settings contains the bridge configuration tree loaded from defaults and overrides.
type Settings struct {
	Host           string        `yaml:"host"`
	Ports          Ports         `yaml:"ports"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ResultTimeout  time.Duration `yaml:"result_timeout"`
	RequestRetries int           `yaml:"request_retries"`
	CommandRate    float64       `yaml:"command_rate"`
	QueueDepth     int           `yaml:"queue_depth"`
	MarketBuffer   int           `yaml:"market_buffer"`
	EvictionGrace  time.Duration `yaml:"eviction_grace"`
	Magic          int           `yaml:"magic"`
}

// Default returns the default bridge configuration.
func Default() Settings {
	return Settings{
		Host: "localhost",
		Ports: Ports{
			Command: 15555,
			Result:  15556,
			Live:    15557,
			Events:  15558,
		},
		CommandTimeout: time.Second,
		ResultTimeout:  10 * time.Second,
		RequestRetries: 3,
		CommandRate:    20,
		QueueDepth:     32,
		MarketBuffer:   64,
		EvictionGrace:  time.Hour,
		Magic:          1234,
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	return applyEnv(Default())
}

// Load reads the YAML configuration file at path, layering file values over
// defaults and environment variables over the file. A missing file yields
// env-over-defaults.
func Load(path string) (Settings, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = applyEnv(cfg)
			return cfg, cfg.Validate()
		}
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	cfg = applyEnv(cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("MTGATE_HOST")); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("MTGATE_COMMAND_PORT"); ok {
		cfg.Ports.Command = v
	}
	if v, ok := envInt("MTGATE_RESULT_PORT"); ok {
		cfg.Ports.Result = v
	}
	if v, ok := envInt("MTGATE_LIVE_PORT"); ok {
		cfg.Ports.Live = v
	}
	if v, ok := envInt("MTGATE_EVENTS_PORT"); ok {
		cfg.Ports.Events = v
	}
	if v, ok := envDuration("MTGATE_COMMAND_TIMEOUT"); ok {
		cfg.CommandTimeout = v
	}
	if v, ok := envDuration("MTGATE_RESULT_TIMEOUT"); ok {
		cfg.ResultTimeout = v
	}
	if v, ok := envInt("MTGATE_REQUEST_RETRIES"); ok {
		cfg.RequestRetries = v
	}
	if v, ok := envDuration("MTGATE_EVICTION_GRACE"); ok {
		cfg.EvictionGrace = v
	}
	return cfg
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Validate checks the configuration for values the bridge cannot operate with.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("config: host must not be empty")
	}
	for _, p := range []struct {
		name Channel
		port int
	}{
		{ChannelCommand, s.Ports.Command},
		{ChannelResult, s.Ports.Result},
		{ChannelLive, s.Ports.Live},
		{ChannelEvents, s.Ports.Events},
	} {
		if p.port <= 0 || p.port > 65535 {
			return fmt.Errorf("config: %s port out of range: %d", p.name, p.port)
		}
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("config: command_timeout must be positive")
	}
	if s.ResultTimeout <= 0 {
		return fmt.Errorf("config: result_timeout must be positive")
	}
	if s.RequestRetries <= 0 {
		return fmt.Errorf("config: request_retries must be positive")
	}
	if s.QueueDepth <= 0 {
		return fmt.Errorf("config: queue_depth must be positive")
	}
	if s.EvictionGrace < 0 {
		return fmt.Errorf("config: eviction_grace must not be negative")
	}
	return nil
}

// ChannelURL renders the websocket URL for the given logical channel.
func (s Settings) ChannelURL(ch Channel) string {
	port := 0
	switch ch {
	case ChannelCommand:
		port = s.Ports.Command
	case ChannelResult:
		port = s.Ports.Result
	case ChannelLive:
		port = s.Ports.Live
	case ChannelEvents:
		port = s.Ports.Events
	}
	return fmt.Sprintf("ws://%s:%d", s.Host, port)
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithHost overrides the terminal host.
func WithHost(host string) Option {
	host = strings.TrimSpace(host)
	return func(s *Settings) {
		if host != "" {
			s.Host = host
		}
	}
}

// WithPorts overrides the four logical channel ports.
func WithPorts(command, result, live, events int) Option {
	return func(s *Settings) {
		if command > 0 {
			s.Ports.Command = command
		}
		if result > 0 {
			s.Ports.Result = result
		}
		if live > 0 {
			s.Ports.Live = live
		}
		if events > 0 {
			s.Ports.Events = events
		}
	}
}

// WithTimeouts overrides the command and result channel timeouts.
func WithTimeouts(command, result time.Duration) Option {
	return func(s *Settings) {
		if command > 0 {
			s.CommandTimeout = command
		}
		if result > 0 {
			s.ResultTimeout = result
		}
	}
}

// WithRequestRetries overrides the Lazy Pirate retry budget.
func WithRequestRetries(retries int) Option {
	return func(s *Settings) {
		if retries > 0 {
			s.RequestRetries = retries
		}
	}
}

// WithEvictionGrace overrides how long settled order records are retained.
// Zero disables eviction entirely.
func WithEvictionGrace(grace time.Duration) Option {
	return func(s *Settings) {
		if grace >= 0 {
			s.EvictionGrace = grace
		}
	}
}

// WithMagic overrides the default magic number stamped on trade requests.
func WithMagic(magic int) Option {
	return func(s *Settings) {
		s.Magic = magic
	}
}
