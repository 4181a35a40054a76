package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/chainflow/core/backup"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/storage"
)

var (
	backupDir   string
	restoreFile string

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the worker database",
		Long:  `Write a full snapshot of the worker database. The worker must be stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupService(backupDir, func(s *backup.Service) error {
				file, err := s.PerformBackup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("backup written to %s\n", file)
				return nil
			})
		},
	}

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Load a database snapshot",
		Long:  `Load a snapshot made by the backup command into the worker database. The worker must be stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupService("", func(s *backup.Service) error {
				return s.Restore(cmd.Context(), restoreFile)
			})
		},
	}
)

func withBackupService(dir string, fn func(s *backup.Service) error) error {
	c, err := config.NewConfig(configPath)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = c.Backup.Dir
	}

	db, err := storage.NewWithPath(c.DbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(backup.NewService(c.Logger, db, dir, c.Backup.Keep))
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "backup directory, defaults to backup.dir")
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "snapshot file to load")
	restoreCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
