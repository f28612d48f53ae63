package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	feedbackRating    int
	feedbackText      string
	feedbackReused    bool
	feedbackAbandoned bool
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback [record-id]",
	Short: "Attach user feedback to a past execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.RecordFeedback(cmd.Context(), args[0], feedbackRating, feedbackText, feedbackReused, feedbackAbandoned); err != nil {
			return err
		}
		fmt.Println("feedback recorded")
		return nil
	},
}

func init() {
	feedbackCmd.Flags().IntVar(&feedbackRating, "rating", 3, "rating from 1 to 5")
	feedbackCmd.Flags().StringVar(&feedbackText, "text", "", "free-form feedback text")
	feedbackCmd.Flags().BoolVar(&feedbackReused, "reused", false, "the result was reused")
	feedbackCmd.Flags().BoolVar(&feedbackAbandoned, "abandoned", false, "the result was abandoned")
	rootCmd.AddCommand(feedbackCmd)
}
