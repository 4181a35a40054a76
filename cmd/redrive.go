package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	redriveMax int
	redriveCmd = &cobra.Command{
		Use:   "redrive",
		Short: "Move dead lettered jobs to the retry queue",
		Long: `Move up to --max messages from the dead letter queue to the retry
queue. Messages that already used queue.max_retries stay dead lettered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gw, closer, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			n, err := gw.Redrive(cmd.Context(), redriveMax)
			if err != nil {
				return err
			}
			fmt.Printf("redrove %d messages\n", n)
			return nil
		},
	}
)

func init() {
	redriveCmd.Flags().IntVar(&redriveMax, "max", 0, "maximum number of messages to move, 0 for all")
	rootCmd.AddCommand(redriveCmd)
}
