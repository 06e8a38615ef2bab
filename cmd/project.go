package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MichaLL27/shipfix/internal/manifest"
	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/output"
	"github.com/MichaLL27/shipfix/internal/store"
)

var (
	projectName string
	projectType string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
	Long:  "Register, remove, list, and show projects in the deploy pipeline.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a normalized app folder",
	Long:  "Register a normalized app folder with the pipeline. Use '.' for the current directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a project and its artifacts",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show detailed project state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectEnvCmd = &cobra.Command{
	Use:   "env <name> KEY=VALUE [KEY=VALUE...]",
	Short: "Set environment variables on a project",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectEnvRun(args[0], args[1:])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectName, "name", "", "Override project name (default: directory name)")
	projectAddCmd.Flags().StringVar(&projectType, "type", "", "Project type (node, static, python, go; default: auto-detect)")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectEnvCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(rawPath string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	// Resolve path
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	// Verify directory exists
	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absPath)
	}

	// Determine name
	name := projectName
	if name == "" {
		name = filepath.Base(absPath)
	}

	p := &models.Project{
		Name:           name,
		NormalizedPath: absPath,
		ProjectType:    models.ProjectType(projectType),
		Status:         models.ProjectStatusRegistered,
		AutoFixStatus:  models.AutoFixStatusNone,
	}
	if err := manifest.Prepare(p); err != nil {
		return fmt.Errorf("prepare project: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would register project: %s (%s, %s)", name, p.ProjectType, absPath)
		return nil
	}

	if err := s.CreateProject(context.Background(), p); err != nil {
		return fmt.Errorf("register project: %w", err)
	}

	ui.Success("Registered project: %s (%s)", output.Cyan(name), absPath)
	ui.VerboseLog("Type: %s", p.ProjectType)
	if p.BuildCmd != "" {
		ui.VerboseLog("Build: %s", p.BuildCmd)
	}
	if p.StartCmd != "" {
		ui.VerboseLog("Start: %s", p.StartCmd)
	}
	return nil
}

func projectRemoveRun(nameOrID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project: %s", p.Name)
		return nil
	}

	// Cascade to filesystem artifacts: staged patches, then the folder.
	prs, err := s.ListPullRequests(ctx, p.ID)
	if err == nil {
		for _, r := range prs {
			if r.PatchPath != "" {
				os.RemoveAll(r.PatchPath)
			}
		}
	}
	if p.NormalizedPath != "" {
		os.RemoveAll(p.NormalizedPath)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}

	ui.Success("Removed project: %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects registered. Use 'shipfix project add <path>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Type", "Status", "Auto-fix", "URL"})
	for _, p := range projects {
		table.Append([]string{
			output.Cyan(p.Name),
			string(p.ProjectType),
			output.StatusColor(string(p.Status)),
			output.StatusColor(string(p.AutoFixStatus)),
			p.DeployedURL,
		})
	}
	table.Render()
	return nil
}

func projectShowRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	// Header
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	fmt.Fprintf(ui.Out, "  Path:       %s\n", p.NormalizedPath)
	fmt.Fprintf(ui.Out, "  Type:       %s\n", p.ProjectType)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(p.Status)))
	fmt.Fprintf(ui.Out, "  Auto-fix:   %s\n", output.StatusColor(string(p.AutoFixStatus)))
	fmt.Fprintln(ui.Out)

	if p.InstallCmd != "" {
		fmt.Fprintf(ui.Out, "  Install:    %s\n", p.InstallCmd)
	}
	if p.BuildCmd != "" {
		fmt.Fprintf(ui.Out, "  Build:      %s\n", p.BuildCmd)
	}
	if p.TestCmd != "" {
		fmt.Fprintf(ui.Out, "  Test:       %s\n", p.TestCmd)
	}
	if p.StartCmd != "" {
		fmt.Fprintf(ui.Out, "  Start:      %s\n", p.StartCmd)
	}

	if len(p.EnvVars) > 0 {
		keys := make([]string, 0, len(p.EnvVars))
		for k := range p.EnvVars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(ui.Out, "  Env vars:   %s\n", strings.Join(keys, ", "))
	}

	if p.DeployedURL != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  URL:        %s\n", output.Green(p.DeployedURL))
		fmt.Fprintf(ui.Out, "  Deploy:     %s\n", output.StatusColor(p.LastDeployStatus))
		fmt.Fprintf(ui.Out, "  Health:     %s\n", output.HealthColor(p.HealthFailures, 3))
	}

	if p.AutoFixReport != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  Auto-fix report:")
		printIndented(p.AutoFixReport)
	}
	if p.QAReport != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  QA report:")
		printIndented(p.QAReport)
	}

	if !p.UpdatedAt.IsZero() {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Updated:    %s\n", timeAgo(p.UpdatedAt))
	}

	return nil
}

func projectEnvRun(name string, pairs []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	if p.EnvVars == nil {
		p.EnvVars = make(map[string]models.EnvVar)
	}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid env var %q (expected KEY=VALUE)", pair)
		}
		p.EnvVars[key] = models.EnvVar{Value: value}
	}

	if dryRun {
		ui.DryRunMsg("Would set %d env var(s) on %s", len(pairs), p.Name)
		return nil
	}

	if err := s.UpdateProject(ctx, p); err != nil {
		return fmt.Errorf("update project: %w", err)
	}

	ui.Success("Set %d env var(s) on %s", len(pairs), output.Cyan(p.Name))
	return nil
}

func printIndented(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(ui.Out, "    %s\n", line)
	}
}

// resolveProject finds a project by name or id.
func resolveProject(ctx context.Context, s store.Store, nameOrID string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, nameOrID); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, nameOrID); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", nameOrID)
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
