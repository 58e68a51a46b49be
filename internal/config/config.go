package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Cache      CacheConfig      `yaml:"cache"`
	Audit      AuditConfig      `yaml:"audit"`
	Slack      SlackConfig      `yaml:"slack"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MetricsPort     int           `yaml:"metricsPort"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	AuthToken       string        `yaml:"authToken"`
	StaticDir       string        `yaml:"staticDir"`
	TrustProxy      bool          `yaml:"trustProxy"`
	// ConnectRateLimit caps WebSocket upgrades per remote IP per minute.
	ConnectRateLimit int `yaml:"connectRateLimit"`
	// SessionBuffer is the number of encoded frames a session may queue for
	// its writer.
	SessionBuffer int `yaml:"sessionBuffer"`
}

type KubernetesConfig struct {
	InCluster         bool          `yaml:"inCluster"`
	Kubeconfig        string        `yaml:"kubeconfig"`
	KubectlPath       string        `yaml:"kubectlPath"`
	ResyncPeriod      time.Duration `yaml:"resyncPeriod"`
	ExecTimeout       time.Duration `yaml:"execTimeout"`
	CommandRateLimit  int           `yaml:"commandRateLimit"`
	AllowedVerbs      []string      `yaml:"allowedVerbs"`
	BlockedNamespaces []string      `yaml:"blockedNamespaces"`
	WatchBackoff      BackoffConfig `yaml:"watchBackoff"`
}

type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

type CacheConfig struct {
	// OrphanGrace is how long events for an unknown namespace are held
	// before they are dropped.
	OrphanGrace   time.Duration `yaml:"orphanGrace"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type AuditConfig struct {
	Enabled bool         `yaml:"enabled"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Path              string `yaml:"path"`
	MaxOpenConns      int    `yaml:"maxOpenConns"`
	PragmaJournalMode string `yaml:"pragmaJournalMode"`
	PragmaBusyTimeout int    `yaml:"pragmaBusyTimeout"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"botToken"`
	Channel  string `yaml:"channel"`
	// NamespaceChannels routes command notifications per namespace.
	NamespaceChannels map[string]string `yaml:"namespaceChannels"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is "stdout", "stderr" or a file path rotated with MaxSizeMB,
	// MaxBackups and MaxAgeDays.
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Load reads a YAML config file and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			ShutdownTimeout:  15 * time.Second,
			MetricsPort:      9090,
			AllowedOrigins:   []string{"*"},
			ConnectRateLimit: 120,
			SessionBuffer:    256,
		},
		Kubernetes: KubernetesConfig{
			InCluster:        true,
			KubectlPath:      "kubectl",
			ResyncPeriod:     10 * time.Minute,
			ExecTimeout:      30 * time.Second,
			CommandRateLimit: 30,
			AllowedVerbs: []string{
				"get", "describe", "logs", "top", "events",
				"rollout", "scale", "delete", "label", "annotate",
			},
			BlockedNamespaces: []string{"kube-system", "kube-public", "kube-node-lease"},
			WatchBackoff: BackoffConfig{
				Initial: 500 * time.Millisecond,
				Max:     30 * time.Second,
			},
		},
		Cache: CacheConfig{
			OrphanGrace:   5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled: true,
			SQLite: SQLiteConfig{
				Path:              "/data/kubinaut.db",
				MaxOpenConns:      1,
				PragmaJournalMode: "wal",
				PragmaBusyTimeout: 5000,
			},
		},
		Slack: SlackConfig{
			Enabled: false,
			Channel: "#kubinaut",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// expandEnvVars replaces ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "${" + key + "}"
	})
}
