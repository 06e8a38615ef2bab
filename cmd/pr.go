package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MichaLL27/shipfix/internal/output"
	"github.com/MichaLL27/shipfix/internal/pr"
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Manage auto-fix pull requests",
	Long:  "List, show, merge, and close the pull requests that record what auto-fix changed.",
}

var prListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List pull requests for a project",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prListRun(args[0])
	},
}

var prShowCmd = &cobra.Command{
	Use:   "show <pr-id>",
	Short: "Show a pull request diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prShowRun(args[0])
	},
}

var prMergeCmd = &cobra.Command{
	Use:   "merge <pr-id>",
	Short: "Merge a pull request, applying the staged patch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prMergeRun(args[0])
	},
}

var prCloseCmd = &cobra.Command{
	Use:   "close <pr-id>",
	Short: "Close a pull request without applying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prCloseRun(args[0])
	},
}

func init() {
	prCmd.AddCommand(prListCmd)
	prCmd.AddCommand(prShowCmd)
	prCmd.AddCommand(prMergeCmd)
	prCmd.AddCommand(prCloseCmd)
	rootCmd.AddCommand(prCmd)
}

func prListRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	prs, err := s.ListPullRequests(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(prs) == 0 {
		ui.Info("No pull requests for %s", p.Name)
		return nil
	}

	table := ui.Table([]string{"#", "ID", "Title", "Status", "Files"})
	for _, r := range prs {
		table.Append([]string{
			fmt.Sprintf("%d", r.PRNumber),
			r.ID,
			r.Title,
			output.StatusColor(string(r.Status)),
			fmt.Sprintf("%d", len(r.Diff)),
		})
	}
	table.Render()
	return nil
}

func prShowRun(prID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := s.GetPullRequest(ctx, prID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s #%d %s\n", output.Cyan(r.Title), r.PRNumber, output.StatusColor(string(r.Status)))
	if r.Summary != "" {
		fmt.Fprintln(ui.Out)
		printIndented(r.Summary)
	}
	fmt.Fprintln(ui.Out)
	for _, d := range r.Diff {
		fmt.Fprintf(ui.Out, "  %s %s\n", output.Yellow(string(d.Change)), d.Path)
	}
	return nil
}

func prMergeRun(prID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would merge pull request %s", prID)
		return nil
	}

	merged, err := pr.Merge(ctx, s, prID)
	if err != nil {
		return err
	}

	ui.Success("Merged pull request #%d (%d file(s) applied)", merged.PRNumber, len(merged.Diff))
	return nil
}

func prCloseRun(prID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would close pull request %s", prID)
		return nil
	}

	closed, err := pr.Close(ctx, s, prID)
	if err != nil {
		return err
	}

	ui.Success("Closed pull request #%d", closed.PRNumber)
	return nil
}
