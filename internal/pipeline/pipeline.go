// Package pipeline runs one reader and one writer per configured task.
package pipeline

import (
	"context"
	"time"

	"db2es/internal/config"
	"db2es/internal/index"
	"db2es/internal/models"
	"db2es/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Checkpoints is the checkpoint store as seen by the pipeline.
type Checkpoints interface {
	worker.CheckpointStore
	RewindCursor(task string, def int64) int64
}

// TaskStatus is the per-task snapshot served by the status endpoint.
type TaskStatus struct {
	Task         string `json:"task"`
	TableName    string `json:"tableName"`
	Index        string `json:"index"`
	CurrentID    int64  `json:"currentId"`
	RewindID     int64  `json:"rewindId"`
	QueueDepth   int    `json:"queueDepth"`
	TotalCreated int64  `json:"totalCreated"`
	TotalUpdated int64  `json:"totalUpdated"`
	TotalFailed  int64  `json:"totalFailed"`
	Date         string `json:"date"`
}

type unit struct {
	task    models.TaskConfig
	channel *worker.Channel
	reader  *worker.Reader
	writer  *worker.Writer
}

type Pipeline struct {
	units       []*unit
	checkpoints Checkpoints
	logger      *zerolog.Logger
}

// New builds the channel, reader and writer of every task. Nothing runs until Run.
func New(
	cfg *config.Config,
	source worker.Source,
	checkpoints Checkpoints,
	deadLetters worker.DeadLetterSink,
	client worker.BulkIndexer,
	logger *zerolog.Logger,
) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	readerOpts := worker.ReaderOptions{
		PageSize:       cfg.Reader.PageSize,
		IdleSleep:      config.Duration(cfg.Reader.IdleSleepMs),
		ErrorBackoff:   config.Duration(cfg.Reader.ErrorBackoffMs),
		RewindInterval: config.Duration(cfg.Reader.RewindIntervalMs),
		RewindWindow:   cfg.Reader.RewindWindow,
	}
	writerOpts := worker.WriterOptions{
		BatchSize:     cfg.Index.BatchSize,
		FlushInterval: config.Duration(cfg.Index.FlushIntervalMs),
		Retry: worker.RetryPolicy{
			MaxAttempts: cfg.Index.MaxAttempts,
			Delay:       config.Duration(cfg.Index.RetryDelayMs),
		},
	}

	p := &Pipeline{checkpoints: checkpoints, logger: logger}
	for _, task := range cfg.Tasks {
		ch := worker.NewChannel(cfg.Reader.ChannelCapacity)
		start := checkpoints.StartCursor(task.Key(), task.StartID)

		p.units = append(p.units, &unit{
			task:    task,
			channel: ch,
			reader:  worker.NewReader(task, source, ch, start, readerOpts, logger),
			writer:  worker.NewWriter(task, ch, client, checkpoints, deadLetters, writerOpts, logger),
		})
		logger.Info().
			Str("task", task.Key()).
			Str("table", task.TableName).
			Str("index", task.Index).
			Int64("start_cursor", start).
			Msg("task configured")
	}
	return p
}

// Run blocks until ctx is done and every reader and writer has returned.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range p.units {
		g.Go(func() error {
			u.reader.Run(gctx)
			return nil
		})
		g.Go(func() error {
			u.writer.Run(gctx)
			return nil
		})
	}

	p.logger.Info().Int("tasks", len(p.units)).Msg("pipeline started")
	err := g.Wait()
	p.logger.Info().Msg("pipeline stopped")
	return err
}

// Status returns one snapshot per task in configuration order.
func (p *Pipeline) Status() []TaskStatus {
	now := time.Now()
	out := make([]TaskStatus, 0, len(p.units))
	for _, u := range p.units {
		stats := u.writer.Stats()
		out = append(out, TaskStatus{
			Task:         u.task.Key(),
			TableName:    u.task.TableName,
			Index:        index.ResolveIndexName(u.task.Index, now),
			CurrentID:    u.reader.Cursor(),
			RewindID:     p.checkpoints.RewindCursor(u.task.Key(), 0),
			QueueDepth:   u.channel.Len(),
			TotalCreated: stats.Created,
			TotalUpdated: stats.Updated,
			TotalFailed:  stats.Failed,
			Date:         stats.Date,
		})
	}
	return out
}
