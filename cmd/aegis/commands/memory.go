package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/config"
)

func NewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the memory store",
	}

	cmd.AddCommand(
		newMemoryStatsCmd(),
		newMemoryPruneCmd(),
	)

	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		RunE:  runMemoryStats,
	}
	cmd.Flags().Duration("since", 0, "Restrict stats to entries newer than this age (e.g. 168h)")
	return cmd
}

func newMemoryPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old low-importance entries",
		RunE:  runMemoryPrune,
	}
	cmd.Flags().Duration("older-than", 30*24*time.Hour, "Minimum age of entries to prune")
	cmd.Flags().Float64("max-importance", 0.3, "Only prune entries at or below this importance")
	return cmd
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := loadMemoryStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var since time.Time
	if age, _ := cmd.Flags().GetDuration("since"); age > 0 {
		since = time.Now().Add(-age)
	}

	stats, err := store.GetStats(cmd.Context(), since)
	if err != nil {
		return err
	}

	fmt.Printf("Entries: %d\n", stats.TotalEntries)
	for entryType, count := range stats.CountByType {
		fmt.Printf("  %-18s %d\n", entryType, count)
	}
	if stats.TotalEntries > 0 {
		fmt.Printf("Avg importance: %.2f\n", stats.AvgImportance)
		fmt.Printf("Oldest: %s\n", stats.OldestEntry.Local().Format(time.RFC3339))
		fmt.Printf("Newest: %s\n", stats.NewestEntry.Local().Format(time.RFC3339))
	}
	return nil
}

func runMemoryPrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := loadMemoryStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	age, _ := cmd.Flags().GetDuration("older-than")
	maxImportance, _ := cmd.Flags().GetFloat64("max-importance")

	n, err := store.Prune(cmd.Context(), time.Now().Add(-age), maxImportance)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d entr%s.\n", n, pluralY(n))
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
