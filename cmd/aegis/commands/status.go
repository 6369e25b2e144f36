package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/metrics"
	"github.com/aegisflow/aegis/internal/rules"
)

// NewStatusCmd creates the combined status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, memory, and runtime status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fmt.Printf("Workspace: %s\n", config.ConfigDir())
	fmt.Printf("Model:     %s\n", cfg.Agents.Defaults.Model)
	fmt.Printf("Database:  %s (%s)\n", cfg.DatabasePath(), cfg.Database.Driver)

	ruleList, err := rules.LoadFile(rulesPath())
	if err != nil {
		return err
	}
	enabled := 0
	for _, r := range ruleList {
		if r.Enabled {
			enabled++
		}
	}
	fmt.Printf("Rules:     %d (%d enabled)\n", len(ruleList), enabled)

	svc, approvalStore, err := loadApprovalService(ctx, cfg)
	if err != nil {
		return err
	}
	defer approvalStore.Close()
	report, err := svc.GetStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Approvals: %d pending, %d expired\n", report.PendingCount, report.ExpiredCount)
	if report.OldestPending != nil {
		fmt.Printf("  oldest pending since %s\n", report.OldestPending.Local().Format(time.RFC3339))
	}

	store, err := loadMemoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	stats, err := store.GetStats(ctx, time.Time{})
	if err != nil {
		return err
	}
	fmt.Printf("Memory:    %d entries\n", stats.TotalEntries)

	recorder := metrics.NewRuntimeMetrics(config.ConfigDir())
	if err := recorder.Load(); err != nil {
		return err
	}
	if snap := recorder.Snapshot(); snap.HasData() {
		fmt.Printf("Runtime:   %d evaluations (%.0f%% rule hits, %.0f%% errors), %d sends (%.0f%% failed)\n",
			snap.Evaluation.Total,
			snap.Evaluation.RuleHitRatio()*100,
			snap.Evaluation.ErrorRatio()*100,
			snap.Channel.SendAttempts,
			snap.Channel.FailureRatio()*100)
	}
	return nil
}
