package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/viper"

	"github.com/agentguard/agentguard/internal/config"
)

func TestParseParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "json values",
			args: []string{"amount=500", "force=true", "ratio=0.5"},
			want: map[string]any{"amount": float64(500), "force": true, "ratio": 0.5},
		},
		{
			name: "string fallback",
			args: []string{"to=bob", "note=hello world"},
			want: map[string]any{"to": "bob", "note": "hello world"},
		},
		{
			name: "structured json",
			args: []string{`config={"env":"prod"}`},
			want: map[string]any{"config": map[string]any{"env": "prod"}},
		},
		{
			name: "value containing equals",
			args: []string{"query=a=b"},
			want: map[string]any{"query": "a=b"},
		},
		{
			name:    "missing equals",
			args:    []string{"amount"},
			wantErr: true,
		},
		{
			name:    "empty key",
			args:    []string{"=5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseParams(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseParams(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseParams(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func TestLooksLikePolicyPath(t *testing.T) {
	t.Parallel()

	if !looksLikePolicyPath("policy.yaml") || !looksLikePolicyPath("p.yml") || !looksLikePolicyPath("p.json") {
		t.Error("YAML/JSON extensions should look like policy paths")
	}
	if looksLikePolicyPath("transfer") {
		t.Error("a bare tool name should not look like a policy path")
	}
}

func TestInitCommandWritesAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")

	if err := initCmd.RunE(initCmd, []string{path}); err != nil {
		t.Fatalf("init error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("init did not write the policy: %v", err)
	}
	if err := initCmd.RunE(initCmd, []string{path}); err == nil {
		t.Fatal("init overwrote an existing policy")
	}
}

func TestValidateCommandOnSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := initCmd.RunE(initCmd, []string{path}); err != nil {
		t.Fatal(err)
	}
	if err := validateCmd.RunE(validateCmd, []string{path}); err != nil {
		t.Errorf("validate error = %v", err)
	}
	if err := validateCmd.RunE(validateCmd, []string{filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("validate accepted a missing policy file")
	}
}

// Global viper state: not parallel.
func TestCLILoggerHonorsConfiguredLevel(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "agentguard.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	config.InitViper(path)

	logger := cliLogger()
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("log_level debug from config should enable debug logging")
	}

	viper.Reset()
	if cliLogger().Enabled(t.Context(), slog.LevelDebug) {
		t.Error("default CLI logger should stay at info")
	}
}

func TestTestCommandEvaluates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := initCmd.RunE(initCmd, []string{path}); err != nil {
		t.Fatal(err)
	}
	if err := testCmd.RunE(testCmd, []string{path, "transfer", "amount=500"}); err != nil {
		t.Errorf("test error = %v", err)
	}
	if err := testCmd.RunE(testCmd, []string{path, "transfer", "amount"}); err == nil {
		t.Error("test accepted a malformed parameter")
	}
}
