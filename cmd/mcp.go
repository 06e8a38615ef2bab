package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MichaLL27/shipfix/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agent tooling drive the deploy pipeline natively. Configure with:

  {
    "mcpServers": {
      "shipfix": { "command": "shipfix", "args": ["mcp"] }
    }
  }

Available tools: shipfix_list_projects, shipfix_project_status,
shipfix_autofix, shipfix_qa, shipfix_deploy, shipfix_list_prs,
shipfix_merge_pr`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		st := buildStack(s)
		server := mcp.NewServer(s, st.orch)
		return server.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
