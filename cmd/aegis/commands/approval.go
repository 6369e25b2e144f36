package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/config"
)

func NewApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage approval requests",
	}

	cmd.AddCommand(
		newApprovalListCmd(),
		newApprovalApproveCmd(),
		newApprovalRejectCmd(),
		newApprovalCompleteCmd(),
		newApprovalExpireCmd(),
		newApprovalStatusCmd(),
	)

	return cmd
}

func newApprovalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE:  runApprovalList,
	}
}

func newApprovalApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalDecision(cmd, args[0], approval.StatusApproved)
		},
	}
	addDecisionFlags(cmd)
	return cmd
}

func newApprovalRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalDecision(cmd, args[0], approval.StatusRejected)
		},
	}
	addDecisionFlags(cmd)
	return cmd
}

func addDecisionFlags(cmd *cobra.Command) {
	cmd.Flags().String("by", "", "Decision maker")
	cmd.Flags().String("feedback", "", "Decision feedback")
	_ = cmd.MarkFlagRequired("by")
}

func newApprovalExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue pending requests",
		Long: `Expire runs a single pass over the queue by default. With --watch it
keeps sweeping at the given interval until interrupted.`,
		RunE: runApprovalExpire,
	}
	cmd.Flags().Bool("watch", false, "Keep sweeping until interrupted")
	cmd.Flags().Duration("interval", 5*time.Minute, "Sweep interval with --watch")
	return cmd
}

func newApprovalStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue statistics",
		RunE:  runApprovalStatus,
	}
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc, store, err := loadApprovalService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	pending, err := svc.GetPending(cmd.Context())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	for _, req := range pending {
		fmt.Printf("%s  %-8s  %-12s  %s  expires %s\n",
			req.ID, req.RiskLevel, req.TaskType, req.TaskID,
			req.ExpiresAt.Local().Format(time.RFC3339))
	}
	return nil
}

func runApprovalDecision(cmd *cobra.Command, id string, decision approval.Status) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc, store, err := loadApprovalService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	by, _ := cmd.Flags().GetString("by")
	feedback, _ := cmd.Flags().GetString("feedback")
	if strings.TrimSpace(by) == "" {
		return fmt.Errorf("--by is required")
	}

	req, err := svc.Respond(cmd.Context(), approval.Response{
		RequestID:   id,
		Decision:    decision,
		RespondedBy: strings.TrimSpace(by),
		Feedback:    strings.TrimSpace(feedback),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Request %s %s by %s.\n", req.ID, req.Status, req.DecidedBy)
	return nil
}

func runApprovalExpire(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc, store, err := loadApprovalService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	watch, _ := cmd.Flags().GetBool("watch")
	if watch {
		interval, _ := cmd.Flags().GetDuration("interval")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		fmt.Printf("Sweeping expired requests every %v. Press Ctrl+C to stop.\n", interval)
		watchExpiry(ctx, svc, interval)
		return nil
	}

	n, err := svc.ProcessExpired(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Expired %d request(s).\n", n)
	return nil
}

// watchExpiry runs the sweeper until ctx is cancelled.
func watchExpiry(ctx context.Context, svc *approval.Service, interval time.Duration) {
	sweeper := approval.NewSweeper(svc, interval)
	sweeper.Start()
	<-ctx.Done()
	sweeper.Stop()
}

func runApprovalStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc, store, err := loadApprovalService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := svc.GetStatus(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Pending:        %d\n", report.PendingCount)
	fmt.Printf("Expired:        %d\n", report.ExpiredCount)
	if report.OldestPending != nil {
		fmt.Printf("Oldest pending: %s\n", report.OldestPending.Local().Format(time.RFC3339))
	}
	if report.AvgResponseTime > 0 {
		fmt.Printf("Avg response:   %s\n", report.AvgResponseTime.Round(time.Second))
	}
	for status, count := range report.ByStatus {
		fmt.Printf("  %-10s %d\n", status, count)
	}
	return nil
}
