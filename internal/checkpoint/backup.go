package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"db2es/internal/config"

	"github.com/rs/zerolog"
)

const backupPrefix = "checkpoint_"

// BackupService keeps timestamped copies of the checkpoint state so a corrupted file can be restored by hand.
type BackupService struct {
	store  *Store
	config config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(store *Store, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("checkpoint backup is disabled")
		return
	}

	interval := 24 * time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("failed to parse backup schedule, using default 24h")
		}
	}
	s.logger.Info().Dur("interval", interval).Str("dir", s.config.StoragePath).Msg("checkpoint backup started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("initial checkpoint backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(); err != nil {
				s.logger.Error().Err(err).Msg("scheduled checkpoint backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup snapshots the store into a new file and returns its path.
func (s *BackupService) PerformBackup() (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.yaml", backupPrefix, s.now().Format("20060102_150405"))
	path := filepath.Join(s.config.StoragePath, name)
	if err := s.store.Snapshot(path); err != nil {
		return "", err
	}

	s.logger.Debug().Str("path", path).Msg("checkpoint backup written")
	return path, nil
}

// CleanupOldBackups removes snapshots older than the retention period. Other files are left alone.
func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory for cleanup")
		return
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), backupPrefix) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("deleting old checkpoint backup")
			if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err != nil {
				s.logger.Warn().Err(err).Str("file", file.Name()).Msg("failed to delete checkpoint backup")
			}
		}
	}
}
