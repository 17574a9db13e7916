// Package deadletter keeps batches that could not be indexed so an operator can inspect or replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"db2es/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxReasonLength = 30

// Mirror receives a copy of every dead-letter entry in addition to the file on disk.
type Mirror interface {
	Push(ctx context.Context, entry models.DeadLetterEntry) error
}

type Store struct {
	dir    string
	mirror Mirror
	logger *zerolog.Logger
	now    func() time.Time
}

// NewStore creates dir if needed. mirror may be nil.
func NewStore(dir string, mirror Mirror, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}
	abs, _ := filepath.Abs(dir)
	logger.Info().Str("dir", abs).Msg("dead-letter store ready")

	return &Store{dir: dir, mirror: mirror, logger: logger, now: time.Now}, nil
}

// Persist writes batch to a new file named after task, time and reason, and returns its path.
// It never fails the caller: write errors are logged at the highest severity and "" is returned.
func (s *Store) Persist(ctx context.Context, task string, batch []models.SyncRecord, reason string) string {
	if len(batch) == 0 {
		return ""
	}

	now := s.now()
	entry := models.DeadLetterEntry{
		ID:        uuid.NewString(),
		Task:      task,
		Reason:    reason,
		CreatedAt: now,
		Records:   append([]models.SyncRecord(nil), batch...),
	}

	fileName := fmt.Sprintf("failed_%s_%s_%s_%s.json",
		sanitize(task),
		now.Format("20060102_150405"),
		SanitizeReason(reason),
		entry.ID[:8],
	)
	path := filepath.Join(s.dir, fileName)

	if err := writeBatch(path, entry.Records); err != nil {
		s.logger.WithLevel(zerolog.FatalLevel).
			Err(err).
			Str("task", task).
			Str("reason", reason).
			Int("records", len(batch)).
			Msg("unable to save failed batch, data may be lost")
		path = ""
	} else {
		s.logger.Error().
			Str("task", task).
			Str("path", path).
			Str("reason", reason).
			Int("records", len(batch)).
			Msg("failed batch saved to dead-letter store")
	}

	if s.mirror != nil {
		if err := s.mirror.Push(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("task", task).Msg("dead-letter mirror push failed")
		}
	}

	return path
}

func writeBatch(path string, records []models.SyncRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename batch file: %w", err)
	}
	return nil
}

// SanitizeReason keeps ASCII letters and digits, replaces everything else with '_' and truncates to 30 runes.
func SanitizeReason(reason string) string {
	safe := sanitize(reason)
	if len(safe) > maxReasonLength {
		safe = safe[:maxReasonLength]
	}
	return safe
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
