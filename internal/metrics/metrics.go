package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "db2es"

var (
	once sync.Once

	rowsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Rows read from the source by kind (normal, repair).",
		},
		[]string{"task", "kind"},
	)

	documentsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Documents accepted by the index by result (created, updated).",
		},
		[]string{"task", "result"},
	)

	batchesDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dead_lettered_total",
			Help:      "Batches routed to the dead-letter store by failure class.",
		},
		[]string{"task", "reason"},
	)

	flushAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_attempts_total",
			Help:      "Bulk request attempts by outcome.",
		},
		[]string{"task", "outcome"},
	)

	flushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Wall time of one flush including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	channelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_depth",
			Help:      "Records waiting in the reader/writer channel.",
		},
		[]string{"task"},
	)

	checkpointCursor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_cursor",
			Help:      "Last persisted main cursor.",
		},
		[]string{"task"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			rowsRead,
			documentsWritten,
			batchesDeadLettered,
			flushAttempts,
			flushDuration,
			channelDepth,
			checkpointCursor,
		)
	})
}

func AddRowsRead(task string, repair bool, n int) {
	kind := "normal"
	if repair {
		kind = "repair"
	}
	rowsRead.WithLabelValues(task, kind).Add(float64(n))
}

func AddDocumentsWritten(task string, created, updated int64) {
	documentsWritten.WithLabelValues(task, "created").Add(float64(created))
	documentsWritten.WithLabelValues(task, "updated").Add(float64(updated))
}

// IncDeadLettered counts a dead-lettered batch; reason is a class such as "logic" or "transport".
func IncDeadLettered(task, reason string) {
	batchesDeadLettered.WithLabelValues(task, reason).Inc()
}

func IncFlushAttempt(task, outcome string) {
	flushAttempts.WithLabelValues(task, outcome).Inc()
}

func ObserveFlush(task string, d time.Duration) {
	flushDuration.WithLabelValues(task).Observe(d.Seconds())
}

func SetChannelDepth(task string, depth int) {
	channelDepth.WithLabelValues(task).Set(float64(depth))
}

func SetCheckpointCursor(task string, cursor int64) {
	checkpointCursor.WithLabelValues(task).Set(float64(cursor))
}
