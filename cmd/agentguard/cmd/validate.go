package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentguard/agentguard/internal/adapter/outbound/policyfile"
	"github.com/agentguard/agentguard/internal/service"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Load a policy and print a summary",
	Long: `Load a policy document, validate its structure, compile its rules
(including regular expressions and CEL expressions), and print a summary.
Exits non-zero with diagnostics when the policy is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _, err := resolvePolicyPath(args)
		if err != nil {
			return err
		}

		p, err := policyfile.Load(path)
		if err != nil {
			return err
		}
		// Compiling catches what structural validation cannot: CEL
		// expressions that do not compile fail the load here.
		if _, err := service.NewPolicyService(p, cliLogger()); err != nil {
			return err
		}

		fmt.Printf("Policy %q is valid\n", p.Name)
		fmt.Printf("  Version:        %s\n", p.Version)
		if p.Description != "" {
			fmt.Printf("  Description:    %s\n", p.Description)
		}
		fmt.Printf("  Default action: %s\n", p.DefaultAction)
		fmt.Printf("  Rules:          %d\n", len(p.Rules))
		for _, r := range p.Rules {
			fmt.Printf("    [%4d] %-10s %s (%d conditions)\n",
				r.Priority, r.Action, r.Name, len(r.Conditions))
		}
		if p.Webhook != nil {
			fmt.Printf("  Webhook:        %s\n", p.Webhook.URL)
			if p.Webhook.Security != nil {
				fmt.Printf("    Signed:       yes\n")
				fmt.Printf("    Encryption:   %v\n", p.Webhook.Security.EncryptSensitiveData)
			}
		} else {
			fmt.Printf("  Webhook:        none\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
