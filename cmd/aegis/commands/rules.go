package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegisflow/aegis/internal/rules"
)

func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage decision rules",
	}

	cmd.AddCommand(
		newRulesListCmd(),
		newRulesAddCmd(),
		newRulesEnableCmd(),
		newRulesDisableCmd(),
	)

	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List decision rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := rules.LoadFile(rulesPath())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No rules configured.")
				return nil
			}
			for _, r := range list {
				state := "enabled"
				if !r.Enabled {
					state = "disabled"
				}
				fmt.Printf("%-20s  %-16s  priority %4d  %-8s  %s\n",
					r.ID, r.Action, r.Priority, state, r.Name)
			}
			return nil
		},
	}
}

func newRulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add rules from a JSON file",
		RunE:  runRulesAdd,
	}
	cmd.Flags().String("file", "", "JSON file containing a rule or a rule list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	// Accept either a single rule object or a list.
	var incoming []rules.Rule
	if err := json.Unmarshal(data, &incoming); err != nil {
		var one rules.Rule
		if err := json.Unmarshal(data, &one); err != nil {
			return fmt.Errorf("parse %s: %w", file, err)
		}
		incoming = []rules.Rule{one}
	}

	existing, err := rules.LoadFile(rulesPath())
	if err != nil {
		return err
	}
	set, err := rules.NewSet(existing)
	if err != nil {
		return err
	}
	for _, r := range incoming {
		if err := set.Add(r); err != nil {
			return err
		}
	}

	if err := rules.SaveFile(rulesPath(), set.All()); err != nil {
		return err
	}
	fmt.Printf("Added %d rule(s).\n", len(incoming))
	return nil
}

func newRulesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setRuleEnabled(args[0], true)
		},
	}
}

func newRulesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setRuleEnabled(args[0], false)
		},
	}
}

func setRuleEnabled(id string, enabled bool) error {
	existing, err := rules.LoadFile(rulesPath())
	if err != nil {
		return err
	}
	set, err := rules.NewSet(existing)
	if err != nil {
		return err
	}
	if _, err := set.Update(id, rules.Patch{Enabled: &enabled}); err != nil {
		return err
	}
	if err := rules.SaveFile(rulesPath(), set.All()); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Rule %s %s.\n", id, state)
	return nil
}
