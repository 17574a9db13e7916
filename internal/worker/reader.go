package worker

import (
	"context"
	"sync/atomic"
	"time"

	"db2es/internal/metrics"
	"db2es/internal/models"

	"github.com/rs/zerolog"
)

// Source is the relational side of a task.
type Source interface {
	QueryPage(ctx context.Context, task models.TaskConfig, after int64, limit int) ([]models.SyncRecord, error)
	QueryRange(ctx context.Context, task models.TaskConfig, from, to int64, repair bool) ([]models.SyncRecord, error)
}

type ReaderOptions struct {
	PageSize       int
	IdleSleep      time.Duration
	ErrorBackoff   time.Duration
	RewindInterval time.Duration
	RewindWindow   int64
}

func (o *ReaderOptions) applyDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = models.DefaultPageSize
	}
	if o.IdleSleep <= 0 {
		o.IdleSleep = models.DefaultIdleSleep
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = models.DefaultErrorBackoff
	}
	if o.RewindInterval <= 0 {
		o.RewindInterval = models.DefaultRewindInterval
	}
	if o.RewindWindow <= 0 {
		o.RewindWindow = models.DefaultRewindWindow
	}
}

// Reader pages a task's table in cursor order into its channel and periodically rescans a trailing window.
type Reader struct {
	task   models.TaskConfig
	source Source
	out    *Channel
	opts   ReaderOptions
	logger *zerolog.Logger

	cursor     atomic.Int64
	lastRewind time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewReader starts reading after start, normally the checkpoint store's resume point.
func NewReader(task models.TaskConfig, source Source, out *Channel, start int64, opts ReaderOptions, logger *zerolog.Logger) *Reader {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts.applyDefaults()

	l := logger.With().Str("task", task.Key()).Str("component", "reader").Logger()
	r := &Reader{
		task:   task,
		source: source,
		out:    out,
		opts:   opts,
		logger: &l,
		now:    time.Now,
		sleep:  sleepContext,
	}
	r.cursor.Store(start)
	return r
}

// Cursor returns the last cursor handed to the channel.
func (r *Reader) Cursor() int64 {
	return r.cursor.Load()
}

// Run loops until ctx is done. Query failures are retried after a fixed backoff.
func (r *Reader) Run(ctx context.Context) {
	r.logger.Info().Int64("cursor", r.Cursor()).Int("page_size", r.opts.PageSize).Msg("reader started")
	defer r.logger.Info().Int64("cursor", r.Cursor()).Msg("reader stopped")

	r.lastRewind = r.now()
	for {
		if ctx.Err() != nil {
			return
		}

		if r.now().Sub(r.lastRewind) >= r.opts.RewindInterval {
			r.rewind(ctx, r.Cursor())
			r.lastRewind = r.now()
		}

		n, err := r.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Int64("cursor", r.Cursor()).Dur("backoff", r.opts.ErrorBackoff).Msg("page query failed")
			r.sleep(ctx, r.opts.ErrorBackoff)
			continue
		}
		if n == 0 {
			r.sleep(ctx, r.opts.IdleSleep)
		}
	}
}

// poll reads one page after the current cursor and submits it. The cursor follows each submitted record.
func (r *Reader) poll(ctx context.Context) (int, error) {
	started := time.Now()
	after := r.Cursor()

	records, err := r.source.QueryPage(ctx, r.task, after, r.opts.PageSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	for _, rec := range records {
		if err := r.out.Submit(ctx, rec); err != nil {
			return 0, err
		}
		r.cursor.Store(rec.Cursor)
	}

	metrics.AddRowsRead(r.task.Key(), false, len(records))
	metrics.SetChannelDepth(r.task.Key(), r.out.Len())
	r.logger.Info().
		Int("rows", len(records)).
		Int64("from", after).
		Int64("cursor", r.Cursor()).
		Dur("duration", time.Since(started)).
		Msg("page read")
	return len(records), nil
}

// rewind re-reads (max(0, boundary-window), boundary] as repair records.
// Failures are logged and swallowed.
func (r *Reader) rewind(ctx context.Context, boundary int64) {
	if boundary <= 0 {
		return
	}
	from := boundary - r.opts.RewindWindow
	if from < 0 {
		from = 0
	}

	records, err := r.source.QueryRange(ctx, r.task, from, boundary, true)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Int64("from", from).Int64("to", boundary).Msg("rewind scan failed")
		}
		return
	}

	for _, rec := range records {
		rec.IsRepair = true
		if err := r.out.Submit(ctx, rec); err != nil {
			return
		}
	}

	metrics.AddRowsRead(r.task.Key(), true, len(records))
	r.logger.Debug().Int("rows", len(records)).Int64("from", from).Int64("to", boundary).Msg("rewind scan done")
}
