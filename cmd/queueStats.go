package cmd

import (
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

var queueStatsCmd = &cobra.Command{
	Use:   "queue-stats",
	Short: "Print queue depths",
	Long:  `Print the number of messages in the execution, retry, dead letter and delayed queues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, gw, closer, err := openQueue(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		stats, err := gw.Stats(cmd.Context())
		if err != nil {
			return err
		}
		pp.Println(stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueStatsCmd)
}
