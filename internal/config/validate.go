package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for errors.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		errs = append(errs, "server.metricsPort must be between 0 and 65535")
	}
	if cfg.Server.MetricsPort != 0 && cfg.Server.MetricsPort == cfg.Server.Port {
		errs = append(errs, "server.metricsPort must differ from server.port")
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		errs = append(errs, `server.allowedOrigins must not be empty (use "*" to allow any origin)`)
	}
	if cfg.Server.SessionBuffer <= 0 {
		errs = append(errs, "server.sessionBuffer must be positive")
	}
	if cfg.Server.ConnectRateLimit < 0 {
		errs = append(errs, "server.connectRateLimit must not be negative")
	}

	if cfg.Kubernetes.ExecTimeout <= 0 {
		errs = append(errs, "kubernetes.execTimeout must be positive")
	}
	if cfg.Kubernetes.CommandRateLimit < 0 {
		errs = append(errs, "kubernetes.commandRateLimit must not be negative")
	}
	if len(cfg.Kubernetes.AllowedVerbs) == 0 {
		errs = append(errs, "kubernetes.allowedVerbs must list at least one verb")
	}
	if b := cfg.Kubernetes.WatchBackoff; b.Initial <= 0 || b.Max < b.Initial {
		errs = append(errs, "kubernetes.watchBackoff requires 0 < initial <= max")
	}

	if cfg.Cache.OrphanGrace <= 0 {
		errs = append(errs, "cache.orphanGrace must be positive")
	}

	if cfg.Audit.Enabled && cfg.Audit.SQLite.Path == "" {
		errs = append(errs, "audit.sqlite.path is required when audit is enabled")
	}

	if cfg.Slack.Enabled {
		if cfg.Slack.BotToken == "" {
			errs = append(errs, "slack.botToken is required when slack is enabled")
		}
		if cfg.Slack.Channel == "" && len(cfg.Slack.NamespaceChannels) == 0 {
			errs = append(errs, "slack.channel is required when slack is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be debug, info, warn, or error (got %q)", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		errs = append(errs, fmt.Sprintf("logging.format must be json or text (got %q)", cfg.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
