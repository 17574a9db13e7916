package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"db2es/internal/index"
	"db2es/internal/models"
)

func record(cursor int64, repair bool) models.SyncRecord {
	return models.SyncRecord{
		Cursor:     cursor,
		DocumentID: fmt.Sprint(cursor),
		Body:       []byte(fmt.Sprintf(`{"id":%d}`, cursor)),
		IsRepair:   repair,
	}
}

type memCheckpoints struct {
	mu        sync.Mutex
	main      map[string]models.Checkpoint
	rewind    map[string]int64
	stats     map[string]models.DailyStats
	mainSaves []int64
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{
		main:   make(map[string]models.Checkpoint),
		rewind: make(map[string]int64),
		stats:  make(map[string]models.DailyStats),
	}
}

func (m *memCheckpoints) StartCursor(task string, def int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.main[task]; ok && cp.Cursor > def {
		return cp.Cursor
	}
	return def
}

func (m *memCheckpoints) DailyStats(task string) models.DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[task].ForDate(models.Today(time.Now()))
}

func (m *memCheckpoints) SaveCheckpoint(task string, cp models.Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.main[task] = cp
	m.mainSaves = append(m.mainSaves, cp.Cursor)
}

func (m *memCheckpoints) SaveRewind(task string, cursor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewind[task] = cursor
}

func (m *memCheckpoints) SaveDailyStats(task string, stats models.DailyStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[task] = stats
}

func (m *memCheckpoints) mainCursor(task string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.main[task]
	return cp.Cursor, ok
}

func (m *memCheckpoints) rewindCursor(task string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rewind[task]
	return v, ok
}

func (m *memCheckpoints) savedStats(task string) models.DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[task]
}

type deadLetter struct {
	task   string
	reason string
	batch  []models.SyncRecord
}

type memDeadLetters struct {
	mu      sync.Mutex
	entries []deadLetter
}

func (d *memDeadLetters) Persist(_ context.Context, task string, batch []models.SyncRecord, reason string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, deadLetter{task: task, reason: reason, batch: append([]models.SyncRecord(nil), batch...)})
	return fmt.Sprintf("failed_%s_%d.json", task, len(d.entries))
}

func (d *memDeadLetters) all() []deadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deadLetter(nil), d.entries...)
}

type bulkReply struct {
	res *index.BulkResult
	err error
}

// scriptedIndexer replays replies in order, then accepts everything as created.
type scriptedIndexer struct {
	mu      sync.Mutex
	replies []bulkReply
	bodies  [][]byte
}

func (s *scriptedIndexer) Bulk(_ context.Context, body []byte) (*index.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	if len(s.replies) > 0 {
		reply := s.replies[0]
		s.replies = s.replies[1:]
		return reply.res, reply.err
	}
	return &index.BulkResult{}, nil
}

func (s *scriptedIndexer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

// memSource serves a sorted in-memory table.
type memSource struct {
	mu         sync.Mutex
	cursors    []int64
	pageErrs   []error
	rangeErr   error
	pageCalls  []int64
	rangeCalls [][2]int64
}

func newMemSource(cursors ...int64) *memSource {
	sort.Slice(cursors, func(i, j int) bool { return cursors[i] < cursors[j] })
	return &memSource{cursors: cursors}
}

func (s *memSource) QueryPage(_ context.Context, _ models.TaskConfig, after int64, limit int) ([]models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageCalls = append(s.pageCalls, after)
	if len(s.pageErrs) > 0 {
		err := s.pageErrs[0]
		s.pageErrs = s.pageErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var out []models.SyncRecord
	for _, c := range s.cursors {
		if c > after && len(out) < limit {
			out = append(out, record(c, false))
		}
	}
	return out, nil
}

func (s *memSource) QueryRange(_ context.Context, _ models.TaskConfig, from, to int64, repair bool) ([]models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rangeCalls = append(s.rangeCalls, [2]int64{from, to})
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}

	var out []models.SyncRecord
	for _, c := range s.cursors {
		if c > from && c <= to {
			out = append(out, record(c, repair))
		}
	}
	return out, nil
}

func drain(ch *Channel) []models.SyncRecord {
	var out []models.SyncRecord
	for {
		rec, ok := ch.Receive(time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}
