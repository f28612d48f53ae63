package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
)

var compendiumCmd = &cobra.Command{
	Use:   "compendium",
	Short: "Inspect and validate technique catalogs",
}

var compendiumValidateCmd = &cobra.Command{
	Use:   "validate [catalog.json]",
	Short: "Validate a technique catalog file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		techniques, err := compendium.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("catalog is valid: %d techniques\n", len(techniques))
		return nil
	},
}

var compendiumListCmd = &cobra.Command{
	Use:   "list [catalog.json]",
	Short: "List techniques in a catalog, or the embedded default catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var techniques []compendium.Technique
		var err error
		if len(args) == 1 {
			techniques, err = compendium.LoadFile(args[0])
		} else {
			techniques, err = compendium.DefaultTechniques()
		}
		if err != nil {
			return err
		}
		for _, t := range techniques {
			fmt.Printf("%-28s %-20s %-12s ~%d tokens\n", t.ID, t.Category, t.Difficulty, t.EstimatedTokens)
		}
		return nil
	},
}

func init() {
	compendiumCmd.AddCommand(compendiumValidateCmd)
	compendiumCmd.AddCommand(compendiumListCmd)
	rootCmd.AddCommand(compendiumCmd)
}
