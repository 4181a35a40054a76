package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/chainflow/worker"
)

var (
	runWorkerCmd = &cobra.Command{
		Use:   "run-worker",
		Short: "start the worker process",
		Long: `Consume the execution and retry queues and run workflows until
interrupted. Queue stats are served on stats_listen_addr and prometheus
metrics on metrics_listen_addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("run chainflow worker with config", configPath)
			return worker.RunWithConfig(configPath)
		},
	}
)

func init() {
	rootCmd.AddCommand(runWorkerCmd)
}
