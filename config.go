package agentguard

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/agentguard/agentguard/internal/config"
)

// NewFromConfig builds a Guard from an agentguard configuration file (the
// same schema the CLI reads), mapping the policy file, log level, approval
// timeout, webhook, and telemetry sections onto guard options. An empty path
// searches the standard locations (., ~/.agentguard, /etc/agentguard) and
// the AGENTGUARD_ environment. Call Initialize on the returned guard as
// usual.
func NewFromConfig(path string) (*Guard, error) {
	config.InitViper(path)
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.PolicyFile == "" {
		return nil, fmt.Errorf("%w: policy_file is required in the configuration", ErrInvalidArgument)
	}
	return New(guardOptionsFromConfig(cfg)...)
}

// guardOptionsFromConfig maps a validated configuration onto guard options.
func guardOptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithPolicyFile(cfg.PolicyFile),
		WithApprovalTimeout(cfg.ParsedApprovalTimeout()),
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		}))),
	}
	if w := cfg.WebhookConfig(); w != nil {
		opts = append(opts, WithWebhook(w))
	}
	if cfg.Telemetry.Enabled {
		opts = append(opts, WithTelemetry(nil))
	}
	return opts
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
