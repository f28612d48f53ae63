package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptforge-ai/demon-engine/internal/contracts"
	"github.com/promptforge-ai/demon-engine/internal/engine"
)

var jsonOutput bool

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [prompt]",
	Short: "Upgrade a prompt through the technique pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpgrade(cmd.Context(), args[0])
	},
}

func init() {
	upgradeCmd.Flags().StringVar(&modeFlag, "mode", "quick", "pipeline depth: quick or full")
	upgradeCmd.Flags().StringVar(&surfaceFlag, "surface", "", "contract surface: web, editor, or agent")
	upgradeCmd.Flags().StringVar(&clientFlag, "client", "cli", "client identifier for rate limiting")
	upgradeCmd.Flags().StringVar(&planFlag, "plan", "free", "caller plan tier")
	upgradeCmd.Flags().BoolVar(&explainFlag, "explain", false, "include the explainability log")
	upgradeCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full response as JSON")
	rootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(ctx context.Context, text string) error {
	eng, cleanup, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	response, err := eng.Upgrade(ctx, engine.Request{
		Text:    text,
		Mode:    engine.Mode(modeFlag),
		Client:  clientFlag,
		Surface: contracts.Surface(surfaceFlag),
		Explain: explainFlag,
	}, engine.Caller{UID: "cli", Plan: planFlag})
	if err != nil {
		return err
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	if response.Fallback {
		fmt.Printf("[fallback: %s] %s\n", response.FallbackReason, response.Message)
		if response.Upgraded == "" {
			return nil
		}
	}
	fmt.Println(response.Upgraded)
	if response.FidelityScore != nil {
		fmt.Fprintf(os.Stderr, "\npipeline: %s  fidelity: %.2f\n", response.MatchedPipeline, *response.FidelityScore)
	} else {
		fmt.Fprintf(os.Stderr, "\npipeline: %s\n", response.MatchedPipeline)
	}
	return nil
}
