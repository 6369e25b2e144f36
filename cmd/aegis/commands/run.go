package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/decision"
	"github.com/aegisflow/aegis/internal/guard"
	"github.com/aegisflow/aegis/internal/metrics"
	"github.com/aegisflow/aegis/internal/provider"
	"github.com/aegisflow/aegis/internal/quota"
	"github.com/aegisflow/aegis/internal/rules"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a task and report the verdict",
		Long: `Run takes a task through the full guard sequence: quota, rule
matching, model judgment if no rule decides, and the approval branch.
The task itself is described in a JSON file; aegis never performs the
side effect, it only reports the verdict (and queues an approval
request when one is needed).`,
		RunE: runTask,
	}
	cmd.Flags().String("file", "", "JSON file describing the task")
	cmd.Flags().String("agent", "default", "Agent id for quota accounting")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runTask(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	agentID, _ := cmd.Flags().GetString("agent")

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	var task decision.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	g, cleanup, err := buildGuard(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := g.Run(cmd.Context(), agentID, task, acknowledgeExecutor)
	if err != nil && result == nil {
		return err
	}

	switch result.Status {
	case guard.StatusExecuted:
		fmt.Printf("Task %s cleared for execution (%s risk, confidence %.2f).\n",
			task.ID, result.Decision.RiskLevel, result.Decision.Confidence)
	case guard.StatusAwaitingApproval:
		fmt.Printf("Task %s needs approval: %s\n", task.ID, result.Decision.Reasoning)
		fmt.Printf("Request id: %s\n", result.RequestID)
	case guard.StatusRejected:
		fmt.Printf("Task %s rejected: %s\n", task.ID, result.Decision.Reasoning)
	}
	return nil
}

func newApprovalCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Finish a decided request (learn from the outcome, execute if approved)",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalComplete,
	}
}

func runApprovalComplete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	g, cleanup, err := buildGuard(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := g.CompleteApproval(cmd.Context(), args[0], acknowledgeExecutor)
	if err != nil {
		return err
	}
	switch result.Status {
	case guard.StatusExecuted:
		fmt.Printf("Request %s completed; task cleared for execution.\n", args[0])
	case guard.StatusRejected:
		fmt.Printf("Request %s was rejected; outcome recorded.\n", args[0])
	}
	return nil
}

// acknowledgeExecutor marks the task executable without performing it:
// the side effect belongs to the calling system.
func acknowledgeExecutor(ctx context.Context, task decision.Task) (any, error) {
	return "acknowledged", nil
}

// buildGuard assembles the full stack from configuration. The returned
// cleanup closes every opened store.
func buildGuard(ctx context.Context, cfg *config.Config) (*guard.Guard, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	fail := func(err error) (*guard.Guard, func(), error) {
		cleanup()
		return nil, nil, err
	}

	store, err := loadMemoryStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)

	ruleList, err := rules.LoadFile(rulesPath())
	if err != nil {
		return fail(err)
	}
	set, err := rules.NewSet(ruleList)
	if err != nil {
		return fail(err)
	}

	var completer decision.Completer
	if cfg.Provider.APIKey != "" {
		mc, err := provider.NewFromConfig(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		completer = mc
	} else {
		fmt.Fprintln(os.Stderr, "Warning: no provider API key configured; only rule-decided tasks can be evaluated")
	}

	engine := decision.NewEngine(store, completer, set)
	engine.SetThresholds(map[decision.RiskLevel]float64{
		decision.RiskLow:      cfg.Decision.Thresholds.Low,
		decision.RiskMedium:   cfg.Decision.Thresholds.Medium,
		decision.RiskHigh:     cfg.Decision.Thresholds.High,
		decision.RiskCritical: cfg.Decision.Thresholds.Critical,
	})
	engine.SetHistoryLimit(cfg.Agents.Defaults.HistoryLimit)
	engine.SetAuditWriter(audit.NewWriter(config.ConfigDir()))
	engine.SetRuntimeMetrics(metrics.NewRuntimeMetrics(config.ConfigDir()))

	approvalStore, err := approval.NewSQLiteStore(ctx, cfg.DatabasePath())
	if err != nil {
		return fail(err)
	}
	closers = append(closers, approvalStore.Close)
	approvals := approval.NewService(approvalStore, buildDispatcher(cfg))
	if cfg.Approval.TTLHours > 0 {
		approvals.SetTTL(approvalTTL(cfg))
	}
	approvals.SetAuditWriter(audit.NewWriter(config.ConfigDir()))

	counter, err := quota.NewCounter(ctx, cfg.DatabasePath())
	if err != nil {
		return fail(err)
	}
	closers = append(closers, counter.Close)

	g := guard.New(engine, approvals, store, counter, cfg.Agents.Defaults.DailyTaskLimit)
	return g, cleanup, nil
}
