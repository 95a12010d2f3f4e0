package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentguard/agentguard/internal/adapter/outbound/policyfile"
	"github.com/agentguard/agentguard/internal/domain/policy"
	"github.com/agentguard/agentguard/internal/service"
)

var (
	testAgentID   string
	testSessionID string
)

var testCmd = &cobra.Command{
	Use:   "test [path] <toolName> [key=value ...]",
	Short: "Evaluate a hypothetical tool call against a policy",
	Long: `Build a tool call from the given name and key=value parameters,
evaluate it against the policy, and print the decision. Values parse as JSON
when possible, falling back to plain strings:

  agentguard test policy.yaml transfer amount=500 to=bob
  agentguard test policy.yaml deploy config='{"env":"prod"}' force=true`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, rest, err := resolvePolicyPath(args)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return fmt.Errorf("tool name is required")
		}
		toolName := rest[0]
		params, err := parseParams(rest[1:])
		if err != nil {
			return err
		}

		p, err := policyfile.Load(path)
		if err != nil {
			return err
		}
		svc, err := service.NewPolicyService(p, cliLogger())
		if err != nil {
			return err
		}

		call := policy.ToolCall{
			ToolName:   toolName,
			Parameters: params,
			AgentID:    testAgentID,
			SessionID:  testSessionID,
		}
		d := svc.Evaluate(call, time.Now())

		fmt.Printf("Tool:     %s\n", toolName)
		if len(params) > 0 {
			encoded, _ := json.Marshal(params)
			fmt.Printf("Params:   %s\n", encoded)
		}
		fmt.Printf("Decision: %s\n", d.Action)
		if d.MatchedRule != nil {
			fmt.Printf("Rule:     %s (priority %d)\n", d.MatchedRule.Name, d.MatchedRule.Priority)
		}
		fmt.Printf("Reason:   %s\n", d.Reason)
		return nil
	},
}

// parseParams turns key=value arguments into a parameters map. Each value
// parses as JSON when possible and falls back to the literal string.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		params[key] = parsed
	}
	return params, nil
}

func init() {
	testCmd.Flags().StringVar(&testAgentID, "agent-id", "", "agent id for the test call")
	testCmd.Flags().StringVar(&testSessionID, "session-id", "", "session id for the test call")
	rootCmd.AddCommand(testCmd)
}
