package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/chainflow/core/apqueue"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/storage"
	"github.com/AvaProtocol/chainflow/worker"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/worker.yaml"
	rootCmd    = &cobra.Command{
		Use:   "chainflow",
		Short: "Chainflow workflow worker",
		Long: `Chainflow runs blockchain workflows pulled from a durable queue.

Such as "chainflow run-worker" to process jobs, or "chainflow queue-stats"
to look at queue depths.`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/worker.yaml", "Path to config file")
}

// openQueue gives the one-shot commands a gateway on the configured broker.
// The local driver keeps its queues in the worker database, which badger
// only lets one process open at a time, so those commands need the worker
// to be stopped.
func openQueue(ctx context.Context) (*config.Config, *apqueue.Gateway, func(), error) {
	c, err := config.NewConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var db storage.Storage
	if c.Queue.Driver == config.QueueDriverLocal {
		if db, err = storage.NewWithPath(c.DbPath); err != nil {
			return nil, nil, nil, err
		}
	}

	gw, err := worker.OpenQueue(ctx, c, db, c.Logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, nil, err
	}

	closer := func() {
		gw.Close()
		if db != nil {
			db.Close()
		}
	}
	return c, gw, closer, nil
}
