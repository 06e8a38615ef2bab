package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/orchestrator"
	"github.com/MichaLL27/shipfix/internal/output"
	"github.com/MichaLL27/shipfix/internal/store"
)

var (
	lifecycleNoWait  bool
	lifecycleTimeout time.Duration
)

var autofixCmd = &cobra.Command{
	Use:   "autofix <project>",
	Short: "Run the auto-fix repair loop",
	Long: `Run the bounded build-diagnose-patch loop on a project: deterministic
fixes for known error signatures first, AI file repair as fallback, then
test repair and env var discovery.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRun(args[0], orchestrator.ActionAutoFix)
	},
}

var qaCmd = &cobra.Command{
	Use:   "qa <project>",
	Short: "Run AI QA analysis",
	Long:  "Run QA analysis over the project sources. Requires a successful auto-fix pass.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRun(args[0], orchestrator.ActionRunQA)
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <project>",
	Short: "Deploy through the provider chain",
	Long: `Deploy a project: static content upload for static sites, a managed
web service when configured, and a supervised local process as fallback.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRun(args[0], orchestrator.ActionDeploy)
	},
}

func init() {
	for _, c := range []*cobra.Command{autofixCmd, qaCmd, deployCmd} {
		c.Flags().BoolVar(&lifecycleNoWait, "no-wait", false, "Request the transition and exit without waiting")
		c.Flags().DurationVar(&lifecycleTimeout, "timeout", 10*time.Minute, "Max time to wait for a terminal state")
		rootCmd.AddCommand(c)
	}
}

func lifecycleRun(name string, action orchestrator.Action) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would request %s for project %s", action, p.Name)
		return nil
	}

	st := buildStack(s)
	if err := st.orch.Request(ctx, p.ID, action); err != nil {
		return err
	}
	ui.Info("%s started for %s", action, output.Cyan(p.Name))

	if lifecycleNoWait {
		return nil
	}
	return waitForOutcome(ctx, s, p.ID, action)
}

// waitForOutcome polls the project record until the action settles.
func waitForOutcome(ctx context.Context, s store.Store, projectID string, action orchestrator.Action) error {
	deadline := time.Now().Add(lifecycleTimeout)

	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)

		p, err := s.GetProject(ctx, projectID)
		if err != nil {
			return err
		}

		switch action {
		case orchestrator.ActionAutoFix:
			if p.AutoFixStatus == models.AutoFixStatusRunning {
				continue
			}
			printIndented(p.AutoFixReport)
			if p.AutoFixStatus == models.AutoFixStatusSuccess {
				ui.Success("Auto-fix succeeded for %s", output.Cyan(p.Name))
				return nil
			}
			return fmt.Errorf("auto-fix failed for %s", p.Name)

		case orchestrator.ActionRunQA:
			if p.Status == models.ProjectStatusQARunning {
				continue
			}
			printIndented(p.QAReport)
			if p.Status == models.ProjectStatusQAPassed {
				ui.Success("QA passed for %s", output.Cyan(p.Name))
				return nil
			}
			return fmt.Errorf("qa failed for %s", p.Name)

		case orchestrator.ActionDeploy:
			// Managed-service deploys stay in "deploying" until the status
			// poller resolves them.
			if p.Status == models.ProjectStatusDeploying {
				continue
			}
			if p.Status == models.ProjectStatusDeployed {
				ui.Success("Deployed %s at %s", output.Cyan(p.Name), output.Green(p.DeployedURL))
				return nil
			}
			printIndented(p.DeployLog)
			return fmt.Errorf("deploy failed for %s", p.Name)
		}
	}

	return fmt.Errorf("timed out after %s waiting for %s to settle", lifecycleTimeout, action)
}
