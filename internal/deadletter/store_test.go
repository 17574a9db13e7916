package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"db2es/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() []models.SyncRecord {
	return []models.SyncRecord{
		{Cursor: 1, DocumentID: "1", Body: json.RawMessage(`{"id":1}`)},
		{Cursor: 2, DocumentID: "2", Body: json.RawMessage(`{"id":2}`), IsRepair: true},
	}
}

func newTestStore(t *testing.T, mirror Mirror) *Store {
	t.Helper()
	logger := zerolog.Nop()
	store, err := NewStore(filepath.Join(t.TempDir(), "failed_data"), mirror, &logger)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC) }
	return store
}

func TestSanitizeReason(t *testing.T) {
	assert.Equal(t, "HTTP_503", SanitizeReason("HTTP_503"))
	assert.Equal(t, "Logic_mapper__price__cannot_be", SanitizeReason("Logic_mapper [price] cannot be changed"))
	assert.Len(t, SanitizeReason(strings.Repeat("x", 100)), 30)
	assert.Equal(t, "a_b", SanitizeReason("a/b"))
}

func TestPersistWritesBatch(t *testing.T) {
	store := newTestStore(t, nil)
	batch := testBatch()

	path := store.Persist(context.Background(), "orders", batch, "HTTP_503")
	require.NotEmpty(t, path)

	name := filepath.Base(path)
	assert.True(t, strings.HasPrefix(name, "failed_orders_20250607_080910_HTTP_503_"), name)
	assert.True(t, strings.HasSuffix(name, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []models.SyncRecord
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].Cursor)
	assert.True(t, got[1].IsRepair)
	assert.JSONEq(t, `{"id":1}`, string(got[0].Body))
}

func TestPersistUniqueNames(t *testing.T) {
	store := newTestStore(t, nil)

	first := store.Persist(context.Background(), "orders", testBatch(), "HTTP_503")
	second := store.Persist(context.Background(), "orders", testBatch(), "HTTP_503")

	assert.NotEqual(t, first, second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

func TestPersistEmptyBatch(t *testing.T) {
	store := newTestStore(t, nil)
	assert.Empty(t, store.Persist(context.Background(), "orders", nil, "HTTP_503"))
}

func TestPersistWriteFailureDoesNotPanic(t *testing.T) {
	store := newTestStore(t, nil)
	store.dir = filepath.Join(store.dir, "gone", "deeper")

	var path string
	assert.NotPanics(t, func() {
		path = store.Persist(context.Background(), "orders", testBatch(), "Exception_Timeout")
	})
	assert.Empty(t, path)
}

type failingMirror struct{ calls int }

func (m *failingMirror) Push(context.Context, models.DeadLetterEntry) error {
	m.calls++
	return errors.New("mirror down")
}

func TestPersistMirrorFailureIgnored(t *testing.T) {
	mirror := &failingMirror{}
	store := newTestStore(t, mirror)

	path := store.Persist(context.Background(), "orders", testBatch(), "HTTP_500")
	assert.NotEmpty(t, path)
	assert.Equal(t, 1, mirror.calls)
}

func TestRedisMirror(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := newTestStore(t, NewRedisMirror(client, "db2es:deadletter"))
	store.Persist(context.Background(), "orders", testBatch(), "Logic_mapper_parsing_exception")

	items, err := client.LRange(context.Background(), "db2es:deadletter", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 1)

	var entry models.DeadLetterEntry
	require.NoError(t, json.Unmarshal([]byte(items[0]), &entry))
	assert.Equal(t, "orders", entry.Task)
	assert.Equal(t, "Logic_mapper_parsing_exception", entry.Reason)
	assert.Len(t, entry.Records, 2)
	assert.NotEmpty(t, entry.ID)
}

func TestRedisMirrorNilClient(t *testing.T) {
	mirror := NewRedisMirror(nil, "key")
	assert.Error(t, mirror.Push(context.Background(), models.DeadLetterEntry{}))
}
