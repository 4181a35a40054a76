package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/core/taskengine"
	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/storage"
)

var (
	workflowFile      string
	importWorkflowCmd = &cobra.Command{
		Use:   "import-workflow",
		Short: "Store a workflow definition in the job repository",
		Long: `Read a workflow graph from a json file, check that it can be planned
and store it so jobs referencing its id can run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(workflowFile)
			if err != nil {
				return err
			}
			wf := &model.Workflow{}
			if err := json.Unmarshal(raw, wf); err != nil {
				return fmt.Errorf("invalid workflow file: %w", err)
			}
			if _, err := taskengine.Plan(wf); err != nil {
				return err
			}

			c, err := config.NewConfig(configPath)
			if err != nil {
				return err
			}
			db, err := storage.NewWithPath(c.DbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := taskengine.NewStorageRepository(db).SaveWorkflow(cmd.Context(), wf); err != nil {
				return err
			}
			fmt.Printf("stored workflow %s with %d nodes\n", wf.ID, len(wf.Nodes))
			return nil
		},
	}
)

func init() {
	importWorkflowCmd.Flags().StringVarP(&workflowFile, "file", "f", "", "path to the workflow json")
	importWorkflowCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importWorkflowCmd)
}
