// Package checkpoint persists per-task synchronization progress in a flat key/value file.
//
// Keys are the task name for the main cursor plus suffixed sub-keys:
//
//	orders              main cursor
//	orders.timestamp    main timestamp cursor (when configured)
//	orders.rewind       rewind high-water mark
//	orders.stats.date   date the counters below apply to
//	orders.stats.created
//	orders.stats.updated
//	orders.stats.failed
//
// Every mutation rewrites the whole file (temp file + rename) under one mutex shared by all tasks.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"db2es/internal/models"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	suffixTimestamp    = ".timestamp"
	suffixRewind       = ".rewind"
	suffixStatsDate    = ".stats.date"
	suffixStatsCreated = ".stats.created"
	suffixStatsUpdated = ".stats.updated"
	suffixStatsFailed  = ".stats.failed"
)

// ErrLocked is returned by Open when another process holds the checkpoint file.
var ErrLocked = errors.New("checkpoint file is locked by another process")

type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
	lock   *flock.Flock
	logger *zerolog.Logger
	now    func() time.Time
}

// Open loads the checkpoint file at path, creating nothing until the first save.
// The file is guarded by an exclusive lock on path+".lock" for the life of the Store.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock checkpoint file: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	values, err := load(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	if len(values) == 0 {
		logger.Info().Str("path", path).Msg("no checkpoint found, starting from configured defaults")
	} else {
		logger.Info().Str("path", path).Int("keys", len(values)).Msg("checkpoint loaded")
	}

	return &Store{
		path:   path,
		values: values,
		lock:   lock,
		logger: logger,
		now:    time.Now,
	}, nil
}

func load(path string) (map[string]string, error) {
	values := make(map[string]string)

	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint file: %w", err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// StartCursor returns the resume point: the larger of the persisted cursor and def.
func (s *Store) StartCursor(task string, def int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.int64Value(task); ok && v > def {
		return v
	}
	return def
}

// TimestampCursor returns the persisted secondary cursor, or "".
func (s *Store) TimestampCursor(task string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[task+suffixTimestamp]
}

// RewindCursor returns the persisted rewind mark or def.
func (s *Store) RewindCursor(task string, def int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.int64Value(task + suffixRewind); ok {
		return v
	}
	return def
}

// DailyStats returns today's counters; a stale or missing date yields zeroes tagged with today.
func (s *Store) DailyStats(task string) models.DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := models.Today(s.now())
	if s.values[task+suffixStatsDate] != today {
		return models.DailyStats{Date: today}
	}

	created, _ := s.int64Value(task + suffixStatsCreated)
	updated, _ := s.int64Value(task + suffixStatsUpdated)
	failed, _ := s.int64Value(task + suffixStatsFailed)
	return models.DailyStats{Created: created, Updated: updated, Failed: failed, Date: today}
}

func (s *Store) SaveCheckpoint(task string, cp models.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[task] = strconv.FormatInt(cp.Cursor, 10)
	if cp.TimestampCursor != "" {
		s.values[task+suffixTimestamp] = cp.TimestampCursor
	}
	s.persist()
}

func (s *Store) SaveRewind(task string, cursor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[task+suffixRewind] = strconv.FormatInt(cursor, 10)
	s.persist()
}

func (s *Store) SaveDailyStats(task string, stats models.DailyStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[task+suffixStatsDate] = stats.Date
	s.values[task+suffixStatsCreated] = strconv.FormatInt(stats.Created, 10)
	s.values[task+suffixStatsUpdated] = strconv.FormatInt(stats.Updated, 10)
	s.values[task+suffixStatsFailed] = strconv.FormatInt(stats.Failed, 10)
	s.persist()
}

func (s *Store) int64Value(key string) (int64, bool) {
	raw, ok := s.values[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn().Str("key", key).Str("value", raw).Msg("ignoring malformed checkpoint value")
		return 0, false
	}
	return v, true
}

// persist must be called with mu held. Failures are logged; in-memory values stay authoritative.
func (s *Store) persist() {
	if err := s.writeTo(s.path); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("failed to save checkpoint")
	}
}

// Snapshot writes the current in-memory state to path in the checkpoint file format.
func (s *Store) Snapshot(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTo(path)
}

func (s *Store) writeTo(path string) error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	return nil
}
