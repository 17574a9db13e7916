package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"db2es/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTask = models.TaskConfig{TableName: "orders", CursorColumn: "id", Index: "orders_#(dtmon)"}

func cursorsRange(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// stopOnIdle cancels the run the first time the reader goes idle and records every sleep.
func stopOnIdle(cancel context.CancelFunc, idle time.Duration, sleeps *[]time.Duration) func(context.Context, time.Duration) bool {
	var mu sync.Mutex
	return func(_ context.Context, d time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, d)
		if d == idle {
			cancel()
		}
		return true
	}
}

func TestReaderPagesInCursorOrder(t *testing.T) {
	src := newMemSource(cursorsRange(1, 12)...)
	ch := NewChannel(100)
	r := NewReader(testTask, src, ch, 0, ReaderOptions{PageSize: 5, RewindInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = stopOnIdle(cancel, r.opts.IdleSleep, &sleeps)

	r.Run(ctx)

	assert.Equal(t, int64(12), r.Cursor())
	assert.Equal(t, []int64{0, 5, 10, 12}, src.pageCalls)
	assert.Equal(t, []time.Duration{models.DefaultIdleSleep}, sleeps)

	got := drain(ch)
	require.Len(t, got, 12)
	for i, rec := range got {
		assert.Equal(t, int64(i+1), rec.Cursor)
		assert.False(t, rec.IsRepair)
	}
}

func TestReaderResumesFromStartCursor(t *testing.T) {
	src := newMemSource(cursorsRange(4990, 5010)...)
	ch := NewChannel(100)
	r := NewReader(testTask, src, ch, 5000, ReaderOptions{PageSize: 100, RewindInterval: time.Hour}, nil)

	n, err := r.poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, int64(5000), src.pageCalls[0])
	assert.Equal(t, int64(5001), drain(ch)[0].Cursor)
	assert.Equal(t, int64(5010), r.Cursor())
}

func TestReaderBacksOffOnQueryError(t *testing.T) {
	src := newMemSource(1, 2, 3)
	src.pageErrs = []error{errors.New("connection refused")}
	ch := NewChannel(100)
	r := NewReader(testTask, src, ch, 0, ReaderOptions{PageSize: 10, ErrorBackoff: 5 * time.Second, RewindInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = stopOnIdle(cancel, r.opts.IdleSleep, &sleeps)

	r.Run(ctx)

	assert.Equal(t, []time.Duration{5 * time.Second, models.DefaultIdleSleep}, sleeps)
	// the failed pass is retried from the same cursor
	assert.Equal(t, []int64{0, 0, 3}, src.pageCalls)
	assert.Len(t, drain(ch), 3)
}

func TestReaderRewindWindow(t *testing.T) {
	src := newMemSource(cursorsRange(1, 20)...)
	ch := NewChannel(100)
	r := NewReader(testTask, src, ch, 0, ReaderOptions{RewindWindow: 10}, nil)
	ctx := context.Background()

	r.rewind(ctx, 15)
	got := drain(ch)
	require.Len(t, got, 10)
	for _, rec := range got {
		assert.True(t, rec.IsRepair)
		assert.Greater(t, rec.Cursor, int64(5))
		assert.LessOrEqual(t, rec.Cursor, int64(15))
	}

	r.rewind(ctx, 3)
	assert.Len(t, drain(ch), 3)
	assert.Equal(t, [][2]int64{{5, 15}, {0, 3}}, src.rangeCalls)

	r.rewind(ctx, 0)
	assert.Len(t, src.rangeCalls, 2)
	assert.Equal(t, int64(0), r.Cursor())
}

func TestReaderRewindFailureIsSwallowed(t *testing.T) {
	src := newMemSource(1, 2, 3)
	src.rangeErr = errors.New("lock wait timeout")
	ch := NewChannel(100)
	r := NewReader(testTask, src, ch, 3, ReaderOptions{}, nil)

	r.rewind(context.Background(), 3)
	assert.Equal(t, 0, ch.Len())
	assert.Equal(t, int64(3), r.Cursor())
}

func TestReaderRunsRewindOnInterval(t *testing.T) {
	src := newMemSource(1, 2, 3)
	ch := NewChannel(100)
	r := NewReader(testTask, src, ch, 0, ReaderOptions{PageSize: 10, RewindInterval: time.Minute}, nil)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	r.sleep = stopOnIdle(cancel, r.opts.IdleSleep, &sleeps)

	r.Run(ctx)

	got := drain(ch)
	require.Len(t, got, 6)
	for i, rec := range got[:3] {
		assert.Equal(t, int64(i+1), rec.Cursor)
		assert.False(t, rec.IsRepair)
	}
	for _, rec := range got[3:] {
		assert.True(t, rec.IsRepair)
	}
	assert.Equal(t, [][2]int64{{0, 3}}, src.rangeCalls)
	assert.Equal(t, int64(3), r.Cursor())
}

func TestReaderStopsWhileBlockedOnFullChannel(t *testing.T) {
	src := newMemSource(cursorsRange(1, 10)...)
	ch := NewChannel(2)
	r := NewReader(testTask, src, ch, 0, ReaderOptions{PageSize: 10, RewindInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ch.Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
	assert.Equal(t, int64(2), r.Cursor())
}
