package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/output"
)

var statusFilter string

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show pipeline status dashboard",
	Long: `Show a cross-project status overview or detailed state for one project.

Without arguments, shows a summary table of all registered projects.
With a project name, shows detailed state for that project.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return projectShowRun(args[0]) // reuse project show for detail
		}
		return statusOverviewRun()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by lifecycle status")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var projects []*models.Project
	if statusFilter != "" {
		projects, err = s.ListProjectsByStatus(ctx, models.ProjectStatus(statusFilter))
	} else {
		projects, err = s.ListProjects(ctx)
	}
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects registered. Use 'shipfix project add <path>' to get started.")
		return nil
	}

	threshold := viper.GetInt("monitor.threshold")
	table := ui.Table([]string{"Project", "Type", "Status", "Auto-fix", "Health", "URL", "Activity"})

	for _, p := range projects {
		health := "-"
		if p.Status == models.ProjectStatusDeployed {
			health = output.HealthColor(p.HealthFailures, threshold)
		}
		activity := "n/a"
		if !p.UpdatedAt.IsZero() {
			activity = timeAgo(p.UpdatedAt)
		}

		table.Append([]string{
			output.Cyan(p.Name),
			string(p.ProjectType),
			output.StatusColor(string(p.Status)),
			output.StatusColor(string(p.AutoFixStatus)),
			health,
			p.DeployedURL,
			activity,
		})
	}

	table.Render()
	return nil
}
