// Package cmd provides the CLI commands for AgentGuard.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentguard/agentguard/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentguard",
	Short: "AgentGuard - policy firewall for AI agent tool calls",
	Long: `AgentGuard mediates AI agent tool calls through declarative policies
with human-in-the-loop approval.

Quick start:
  1. Write a starter policy:    agentguard init policy.yaml
  2. Check it:                  agentguard validate policy.yaml
  3. Try a call against it:     agentguard test policy.yaml transfer amount=500

Configuration:
  Config is loaded from agentguard.yaml in the current directory,
  $HOME/.agentguard/, or /etc/agentguard/.

  Environment variables can override config values with the AGENTGUARD_ prefix.
  Example: AGENTGUARD_WEBHOOK_URL=https://hooks.example.com/approvals

Commands:
  init        Write an annotated sample policy
  validate    Load a policy and print a summary
  test        Evaluate a hypothetical tool call against a policy
  version     Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agentguard.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// newLogger builds the CLI logger: a text handler on stderr at the
// configured level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// cliLogger builds a logger at the configured log_level. Commands that run
// before configuration loads, or when loading fails, get the "info" default.
func cliLogger() *slog.Logger {
	cfg, err := config.LoadConfig()
	if err != nil {
		return newLogger("info")
	}
	return newLogger(cfg.LogLevel)
}

// resolvePolicyPath splits an optional leading policy-path argument from the
// rest. An argument names a policy file when it has a YAML/JSON extension or
// exists on disk; otherwise the path comes from configuration.
func resolvePolicyPath(args []string) (string, []string, error) {
	if len(args) > 0 && looksLikePolicyPath(args[0]) {
		return args[0], args[1:], nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return "", nil, err
	}
	if cfg.PolicyFile == "" {
		return "", nil, fmt.Errorf("no policy file given and none configured (set policy_file or pass a path)")
	}
	return cfg.PolicyFile, args, nil
}

func looksLikePolicyPath(arg string) bool {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		if strings.HasSuffix(arg, ext) {
			return true
		}
	}
	_, err := os.Stat(arg)
	return err == nil
}
