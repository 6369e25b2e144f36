package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/config"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		return nil
	}

	if err := config.Save(config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", path)
	fmt.Println("Set provider.api_key (or AEGIS_PROVIDER_API_KEY) to enable model evaluation.")
	return nil
}
