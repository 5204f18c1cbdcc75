package cmd

import (
	"github.com/spf13/cobra"

	"github.com/crhan/planaudit/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant request a plan audit on demand. Configure in
Claude Code with:

  {
    "mcpServers": {
      "planaudit": { "command": "planaudit", "args": ["mcp"] }
    }
  }

Available tools: plan_audit, plan_audit_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, _, err := buildRunner()
		if err != nil {
			return err
		}
		return mcp.NewServer(runner, runner.Store(), buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
