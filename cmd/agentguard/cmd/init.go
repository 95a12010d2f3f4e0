package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentguard/agentguard/internal/adapter/outbound/policyfile"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an annotated sample policy",
	Long: `Write the annotated starter policy to the given path (default:
policy.yaml). Refuses to overwrite an existing file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "policy.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := policyfile.WriteSamplePolicy(path); err != nil {
			return err
		}
		fmt.Printf("Wrote sample policy to %s\n", path)
		fmt.Println("Next: agentguard validate", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
