package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Layr-Labs/eigensdk-go/logging"
	gocron "github.com/go-co-op/gocron/v2"

	"github.com/AvaProtocol/chainflow/storage"
)

const backupFileName = "full-backup.db"

// Service writes full snapshots of the worker database. Each snapshot lives
// in its own timestamped directory under backupDir.
type Service struct {
	logger    logging.Logger
	db        storage.Storage
	backupDir string

	// number of snapshots kept, 0 keeps all
	keep int
	now  func() time.Time
}

func NewService(logger logging.Logger, db storage.Storage, backupDir string, keep int) *Service {
	return &Service{
		logger:    logger,
		db:        db,
		backupDir: backupDir,
		keep:      keep,
		now:       time.Now,
	}
}

// Schedule registers a periodic backup on the given scheduler
func (s *Service) Schedule(scheduler gocron.Scheduler, interval time.Duration) error {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	_, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if backupFile, err := s.PerformBackup(context.Background()); err != nil {
				s.logger.Errorf("Periodic backup failed: %v", err)
			} else {
				s.logger.Infof("Periodic backup completed successfully to %s", backupFile)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	s.logger.Infof("Scheduled backup every %v to %s", interval, s.backupDir)
	return nil
}

func (s *Service) PerformBackup(ctx context.Context) (string, error) {
	timestamp := s.now().UTC().Format("06-01-02-15-04-05")
	backupPath := filepath.Join(s.backupDir, timestamp)

	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup timestamp directory: %w", err)
	}

	backupFile := filepath.Join(backupPath, backupFileName)
	f, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	s.logger.Infof("Running backup to %s", backupFile)
	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("cannot flush backup file: %w", err)
	}

	if err := s.prune(); err != nil {
		s.logger.Warnf("cannot prune old backups: %v", err)
	}
	return backupFile, nil
}

// List returns snapshot files from oldest to newest
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		file := filepath.Join(s.backupDir, e.Name(), backupFileName)
		if _, err := os.Stat(file); err == nil {
			files = append(files, file)
		}
	}
	// timestamp names sort chronologically
	sort.Strings(files)
	return files, nil
}

func (s *Service) prune() error {
	if s.keep <= 0 {
		return nil
	}
	files, err := s.List()
	if err != nil {
		return err
	}
	for len(files) > s.keep {
		if err := os.RemoveAll(filepath.Dir(files[0])); err != nil {
			return err
		}
		files = files[1:]
	}
	return nil
}

// Restore loads a snapshot into the database. The worker must not be
// running against the same database.
func (s *Service) Restore(ctx context.Context, backupFile string) error {
	f, err := os.Open(backupFile)
	if err != nil {
		return fmt.Errorf("cannot open backup file: %w", err)
	}
	defer f.Close()

	if err := s.db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	s.logger.Infof("Restored backup %s", backupFile)
	return nil
}
