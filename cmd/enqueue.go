package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/chainflow/model"
)

type enqueueOption struct {
	workflowID  string
	userID      string
	executionID string
	at          string
}

var (
	enqueueOpt = enqueueOption{}
	enqueueCmd = &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a workflow execution",
		Long: `Publish a job for the given workflow. With --at the job goes to the
delayed queue and becomes ready at that time (RFC3339).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			job := &model.QueueJob{
				ExecutionID: enqueueOpt.executionID,
				WorkflowID:  enqueueOpt.workflowID,
				UserID:      enqueueOpt.userID,
			}
			if job.ExecutionID == "" {
				job.ExecutionID = model.GenerateID()
			}

			var notBefore time.Time
			if enqueueOpt.at != "" {
				var err error
				if notBefore, err = time.Parse(time.RFC3339, enqueueOpt.at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			_, gw, closer, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			if notBefore.IsZero() {
				err = gw.Enqueue(cmd.Context(), job)
			} else {
				err = gw.EnqueueDelayed(cmd.Context(), job, notBefore)
			}
			if err != nil {
				return err
			}

			fmt.Printf("enqueued execution %s\n", job.ExecutionID)
			return nil
		},
	}
)

func init() {
	enqueueCmd.Flags().StringVar(&enqueueOpt.workflowID, "workflow", "", "workflow id")
	enqueueCmd.Flags().StringVar(&enqueueOpt.userID, "user", "", "id of the user owning the workflow")
	enqueueCmd.Flags().StringVar(&enqueueOpt.executionID, "execution", "", "execution id, generated when empty")
	enqueueCmd.Flags().StringVar(&enqueueOpt.at, "at", "", "run no earlier than this RFC3339 time")
	enqueueCmd.MarkFlagRequired("workflow")
	enqueueCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(enqueueCmd)
}
