package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"db2es/internal/index"
	"db2es/internal/metrics"
	"db2es/internal/models"

	"github.com/rs/zerolog"
)

// CheckpointStore is the durable progress the writer reports to.
type CheckpointStore interface {
	StartCursor(task string, def int64) int64
	DailyStats(task string) models.DailyStats
	SaveCheckpoint(task string, cp models.Checkpoint)
	SaveRewind(task string, cursor int64)
	SaveDailyStats(task string, stats models.DailyStats)
}

// DeadLetterSink stores batches that could not be indexed. It must not fail the caller.
type DeadLetterSink interface {
	Persist(ctx context.Context, task string, batch []models.SyncRecord, reason string) string
}

// BulkIndexer sends a prepared bulk body.
type BulkIndexer interface {
	Bulk(ctx context.Context, body []byte) (*index.BulkResult, error)
}

type WriterOptions struct {
	BatchSize      int
	FlushInterval  time.Duration
	ReceiveTimeout time.Duration
	Retry          RetryPolicy
}

func (o *WriterOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = models.DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = models.DefaultFlushInterval
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = models.DefaultReceiveTimeout
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = models.DefaultMaxAttempts
	}
	if o.Retry.Delay <= 0 {
		o.Retry.Delay = models.DefaultRetryDelay
	}
}

const (
	classLogic     = "logic"
	classTransport = "transport"
)

// Writer drains a task's channel into bulk requests and owns the task's checkpoint and daily counters.
type Writer struct {
	task        models.TaskConfig
	in          *Channel
	client      BulkIndexer
	checkpoints CheckpointStore
	deadLetters DeadLetterSink
	opts        WriterOptions
	logger      *zerolog.Logger

	created atomic.Int64
	updated atomic.Int64
	failed  atomic.Int64

	dateMu sync.Mutex
	date   string

	// only touched by the Run goroutine
	lastSaved int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewWriter(
	task models.TaskConfig,
	in *Channel,
	client BulkIndexer,
	checkpoints CheckpointStore,
	deadLetters DeadLetterSink,
	opts WriterOptions,
	logger *zerolog.Logger,
) *Writer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts.applyDefaults()

	l := logger.With().Str("task", task.Key()).Str("component", "writer").Logger()
	w := &Writer{
		task:        task,
		in:          in,
		client:      client,
		checkpoints: checkpoints,
		deadLetters: deadLetters,
		opts:        opts,
		logger:      &l,
		now:         time.Now,
		sleep:       sleepContext,
	}

	stats := checkpoints.DailyStats(task.Key())
	w.created.Store(stats.Created)
	w.updated.Store(stats.Updated)
	w.failed.Store(stats.Failed)
	w.date = stats.Date
	w.lastSaved = checkpoints.StartCursor(task.Key(), task.StartID)

	return w
}

// Stats returns today's counters. Counters of a previous day read as zero.
func (w *Writer) Stats() models.DailyStats {
	w.dateMu.Lock()
	date := w.date
	w.dateMu.Unlock()

	stats := models.DailyStats{
		Created: w.created.Load(),
		Updated: w.updated.Load(),
		Failed:  w.failed.Load(),
		Date:    date,
	}
	return stats.ForDate(models.Today(w.now()))
}

// Run receives records until ctx is done. The batch in hand is flushed before returning.
// Flushes are not interrupted by ctx; they complete or exhaust their retries.
func (w *Writer) Run(ctx context.Context) {
	w.logger.Info().Int("batch_size", w.opts.BatchSize).Dur("flush_interval", w.opts.FlushInterval).Msg("writer started")
	defer w.logger.Info().Msg("writer stopped")

	flushCtx := context.WithoutCancel(ctx)
	batch := make([]models.SyncRecord, 0, w.opts.BatchSize)
	lastFlush := w.now()

	for {
		if ctx.Err() != nil {
			if len(batch) > 0 {
				w.flush(flushCtx, batch)
			}
			return
		}

		if rec, ok := w.in.Receive(w.opts.ReceiveTimeout); ok {
			batch = append(batch, rec)
		}

		full := len(batch) >= w.opts.BatchSize
		due := len(batch) > 0 && w.now().Sub(lastFlush) >= w.opts.FlushInterval
		if full || due {
			metrics.SetChannelDepth(w.task.Key(), w.in.Len())
			w.flush(flushCtx, batch)
			batch = make([]models.SyncRecord, 0, w.opts.BatchSize)
			lastFlush = w.now()
		}
	}
}

// flush delivers batch or dead-letters it. The checkpoint only moves on full success.
func (w *Writer) flush(ctx context.Context, batch []models.SyncRecord) {
	if len(batch) == 0 {
		return
	}
	started := time.Now()
	defer func() { metrics.ObserveFlush(w.task.Key(), time.Since(started)) }()

	w.rollDate()

	indexName := index.ResolveIndexName(w.task.Index, w.now())
	body, err := index.BuildBulkBody(indexName, w.task.DocumentType(), batch)
	if err != nil {
		w.deadLetter(ctx, batch, index.FailureReason(err), classLogic, err)
		return
	}

	var lastErr error
	attempts := w.opts.Retry.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := w.client.Bulk(ctx, body)
		if err == nil {
			if res.Errors {
				metrics.IncFlushAttempt(w.task.Key(), "rejected")
				w.deadLetter(ctx, batch, models.ReasonLogicPrefix+res.FirstReason, classLogic, nil)
				return
			}
			metrics.IncFlushAttempt(w.task.Key(), "success")
			w.commit(batch, res)
			w.logger.Info().
				Str("index", indexName).
				Int("records", len(batch)).
				Int64("created", res.Created).
				Int64("updated", res.Updated).
				Dur("duration", time.Since(started)).
				Msg("batch flushed")
			return
		}

		lastErr = err
		metrics.IncFlushAttempt(w.task.Key(), "error")
		delay := w.opts.Retry.NextDelay(attempt)
		w.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", delay).
			Msg("bulk request failed")
		w.sleep(ctx, delay)
	}

	w.deadLetter(ctx, batch, index.FailureReason(lastErr), classTransport, lastErr)
}

// commit records a fully accepted batch. Repair records only move the rewind mark.
func (w *Writer) commit(batch []models.SyncRecord, res *index.BulkResult) {
	key := w.task.Key()

	w.created.Add(res.Created)
	w.updated.Add(res.Updated)
	w.saveStats()
	metrics.AddDocumentsWritten(key, res.Created, res.Updated)

	var last *models.SyncRecord
	var maxRepair int64
	hasRepair := false
	for i := range batch {
		rec := &batch[i]
		if !rec.IsRepair {
			last = rec
			continue
		}
		if !hasRepair || rec.Cursor > maxRepair {
			maxRepair = rec.Cursor
			hasRepair = true
		}
	}

	if last != nil {
		if last.Cursor >= w.lastSaved {
			w.checkpoints.SaveCheckpoint(key, models.Checkpoint{Cursor: last.Cursor, TimestampCursor: last.TimestampCursor})
			w.lastSaved = last.Cursor
			metrics.SetCheckpointCursor(key, last.Cursor)
		} else {
			w.logger.Warn().Int64("cursor", last.Cursor).Int64("saved", w.lastSaved).Msg("checkpoint not moved backwards")
		}
	}
	if hasRepair {
		w.checkpoints.SaveRewind(key, maxRepair)
	}
}

func (w *Writer) deadLetter(ctx context.Context, batch []models.SyncRecord, reason, class string, cause error) {
	path := w.deadLetters.Persist(ctx, w.task.Key(), batch, reason)

	w.failed.Add(int64(len(batch)))
	w.saveStats()
	metrics.IncDeadLettered(w.task.Key(), class)

	w.logger.Error().
		Err(cause).
		Str("reason", reason).
		Str("path", path).
		Int("records", len(batch)).
		Int64("first_cursor", batch[0].Cursor).
		Int64("last_cursor", batch[len(batch)-1].Cursor).
		Msg("batch dead-lettered")
}

// rollDate zeroes the counters when the calendar day changed since the last flush.
func (w *Writer) rollDate() {
	today := models.Today(w.now())

	w.dateMu.Lock()
	defer w.dateMu.Unlock()
	if w.date == today {
		return
	}
	w.date = today
	w.created.Store(0)
	w.updated.Store(0)
	w.failed.Store(0)
}

func (w *Writer) saveStats() {
	w.dateMu.Lock()
	date := w.date
	w.dateMu.Unlock()

	w.checkpoints.SaveDailyStats(w.task.Key(), models.DailyStats{
		Created: w.created.Load(),
		Updated: w.updated.Load(),
		Failed:  w.failed.Load(),
		Date:    date,
	})
}
