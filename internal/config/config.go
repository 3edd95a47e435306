// Package config loads daemon configuration from environment variables,
// an optional config.yaml, and built-in defaults, following the teacher's
// viper-based layering.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section the daemon needs.
type Config struct {
	StateDir  string          `mapstructure:"stateDir"`
	Listener  ListenerConfig  `mapstructure:"listener"`
	WAL       WALConfig       `mapstructure:"wal"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ListenerConfig configures the IPC endpoints (spec §4.7, §6.2, §6.4).
type ListenerConfig struct {
	SocketPath       string `mapstructure:"socketPath"`
	TCPPort          int    `mapstructure:"tcpPort"`
	AuthToken        string `mapstructure:"authToken"`
	RequestTimeoutMS int    `mapstructure:"requestTimeoutMs"`
	DrainTimeoutMS   int    `mapstructure:"drainTimeoutMs"`
	MaxFrameBytes    int    `mapstructure:"maxFrameBytes"`
	// RemoteAgentWSPort is the port the AgentAttach proxy dials for a
	// non-local agent runtime's raw WebSocket endpoint (spec §6.2
	// "ws://<agent-host>:<port>/ws?mode=raw&token=<t>").
	RemoteAgentWSPort int `mapstructure:"remoteAgentWsPort"`
}

func (l ListenerConfig) RequestTimeout() time.Duration {
	return time.Duration(l.RequestTimeoutMS) * time.Millisecond
}

func (l ListenerConfig) DrainTimeout() time.Duration {
	return time.Duration(l.DrainTimeoutMS) * time.Millisecond
}

// WALConfig configures the write-ahead log (spec §4.1).
type WALConfig struct {
	Dir             string `mapstructure:"dir"`
	SegmentMaxBytes int64  `mapstructure:"segmentMaxBytes"`
}

// SnapshotConfig configures the snapshot store (spec §4.2).
type SnapshotConfig struct {
	Dir            string `mapstructure:"dir"`
	EveryNEvents   int    `mapstructure:"everyNEvents"`
	EveryInterval  string `mapstructure:"everyInterval"`
}

func (s SnapshotConfig) Interval() time.Duration {
	d, err := time.ParseDuration(s.EveryInterval)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// SchedulerConfig configures the timer wheel's check cadence (spec §6.4
// OJ_TIMER_CHECK_MS).
type SchedulerConfig struct {
	TimerCheckMS int `mapstructure:"timerCheckMs"`
}

func (s SchedulerConfig) TimerCheck() time.Duration {
	return time.Duration(s.TimerCheckMS) * time.Millisecond
}

// DockerConfig configures the optional Docker AgentSupervisor runtime.
type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TelemetryConfig configures optional OTLP tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	ServiceName  string `mapstructure:"serviceName"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stateDir", defaultStateDir())

	v.SetDefault("listener.socketPath", "")
	v.SetDefault("listener.tcpPort", 0)
	v.SetDefault("listener.authToken", "")
	v.SetDefault("listener.requestTimeoutMs", 5000)
	v.SetDefault("listener.drainTimeoutMs", 5000)
	v.SetDefault("listener.maxFrameBytes", 16*1024*1024)
	v.SetDefault("listener.remoteAgentWsPort", 7681)

	v.SetDefault("wal.dir", "")
	v.SetDefault("wal.segmentMaxBytes", 64*1024*1024)

	v.SetDefault("snapshot.dir", "")
	v.SetDefault("snapshot.everyNEvents", 500)
	v.SetDefault("snapshot.everyInterval", "2m")

	v.SetDefault("scheduler.timerCheckMs", 500)

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", defaultDockerHost())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("telemetry.otlpEndpoint", "")
	v.SetDefault("telemetry.serviceName", "ojd")
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("OJ_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}
	return "unix:///var/run/docker.sock"
}

// defaultStateDir implements spec §6.4's lookup order:
// OJ_STATE_DIR > XDG_STATE_HOME/oj > $HOME/.local/state/oj
func defaultStateDir() string {
	if d := os.Getenv("OJ_STATE_DIR"); d != "" {
		return d
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "oj")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "state", "oj")
}

// Load reads configuration from OJ_-prefixed env vars, an optional
// config.yaml, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("stateDir", "OJ_STATE_DIR")
	_ = v.BindEnv("listener.tcpPort", "OJ_TCP_PORT")
	_ = v.BindEnv("listener.authToken", "OJ_AUTH_TOKEN")
	_ = v.BindEnv("listener.requestTimeoutMs", "OJ_IPC_TIMEOUT_MS")
	_ = v.BindEnv("listener.drainTimeoutMs", "OJ_DRAIN_TIMEOUT_MS")
	_ = v.BindEnv("scheduler.timerCheckMs", "OJ_TIMER_CHECK_MS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/oj/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Paths not explicitly configured default to subdirectories of StateDir.
	if cfg.Listener.SocketPath == "" {
		cfg.Listener.SocketPath = filepath.Join(cfg.StateDir, "oj.sock")
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = filepath.Join(cfg.StateDir, "wal")
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.StateDir, "snapshots")
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Listener.TCPPort != 0 && cfg.Listener.AuthToken == "" {
		errs = append(errs, "listener.authToken is required when listener.tcpPort is set")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
