package commands

import (
	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/config"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis - safety layer for autonomous agents",
		Long: `Aegis evaluates agent actions against declarative rules and model
judgment, routes risky actions to human approval, and remembers
outcomes to improve future decisions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewVersionCmd(),
		NewRunCmd(),
		NewApprovalCmd(),
		NewRulesCmd(),
		NewMemoryCmd(),
		NewStatusCmd(),
	)

	return cmd
}
