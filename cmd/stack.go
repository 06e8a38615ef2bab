package cmd

import (
	"github.com/spf13/viper"

	"github.com/MichaLL27/shipfix/internal/autofix"
	"github.com/MichaLL27/shipfix/internal/deploy"
	"github.com/MichaLL27/shipfix/internal/monitor"
	"github.com/MichaLL27/shipfix/internal/orchestrator"
	"github.com/MichaLL27/shipfix/internal/runner"
	"github.com/MichaLL27/shipfix/internal/store"
)

// stack is the fully wired lifecycle engine behind every long command.
type stack struct {
	orch  *orchestrator.Orchestrator
	mon   *monitor.Monitor
	local *deploy.LocalRunner
}

// buildStack wires runner, providers, fixer, coordinator, orchestrator, and
// monitor from config. Providers without credentials stay nil and the
// coordinator skips them.
func buildStack(s store.Store) *stack {
	r := runner.New()

	llmClient := newLLMClient()

	var static *deploy.StaticProvider
	if token := viper.GetString("vercel.token"); token != "" {
		static = deploy.NewStaticProvider(token)
	}
	var render *deploy.RenderProvider
	if key := viper.GetString("render.api_key"); key != "" {
		render = deploy.NewRenderProvider(key)
	}
	var railway *deploy.RailwayClient
	if token := viper.GetString("railway.token"); token != "" {
		railway = deploy.NewRailwayClient(token)
	}
	local := deploy.NewLocalRunner(r)

	var repair autofix.RepairService
	if llmClient != nil {
		repair = llmClient
	}
	fixer := autofix.New(r, repair)
	if static.Configured() {
		fixer.Publishers = append(fixer.Publishers, static)
	}
	if render.Configured() {
		fixer.Publishers = append(fixer.Publishers, render)
	}
	if railway.Configured() {
		fixer.Publishers = append(fixer.Publishers, railway)
	}

	coord := deploy.NewCoordinator(s, static, render, local)

	var analyzer orchestrator.Analyzer
	if llmClient != nil {
		analyzer = llmClient
	}
	orch := orchestrator.New(s, fixer, coord, analyzer)
	orch.StateDir = viper.GetString("state_dir")

	mon := monitor.New(s, orch)
	mon.Interval = viper.GetDuration("monitor.interval")
	mon.Threshold = viper.GetInt("monitor.threshold")

	// Local process exits feed the failure counter directly instead of
	// waiting for the next probe tick.
	local.OnExit = mon.NotifyProcessExit

	return &stack{orch: orch, mon: mon, local: local}
}
