package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendIdempotent(t *testing.T) {
	store := openTestStore(t)
	ts := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	first, err := store.AppendPayload("live", ts, schema.EventBar, schema.Bar{Close: 5000.25}, "cfg")
	require.NoError(t, err)
	second, err := store.AppendPayload("live", ts, schema.EventBar, schema.Bar{Close: 5000.25}, "cfg")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Seq, second.Seq, "re-append must report the original seq")
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, 1, store.Len("live"))
}

func TestAppendDuplicateIDConflict(t *testing.T) {
	store := openTestStore(t)
	ts := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	event, err := schema.NewEvent("live", ts, schema.EventBar, schema.Bar{Close: 1}, "cfg")
	require.NoError(t, err)
	_, err = store.Append(event)
	require.NoError(t, err)

	// Same id, different payload: must fail loudly, never overwrite.
	forged := event
	forged.Payload = []byte(`{"close":2}`)
	_, err = store.Append(forged)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.Equal(t, 1, store.Len("live"))
}

func TestStreamOrderByTimestampThenSeq(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	// Append out of timestamp order.
	_, err := store.AppendPayload("live", base.Add(2*time.Second), schema.EventBar, schema.Bar{Close: 3}, "cfg")
	require.NoError(t, err)
	_, err = store.AppendPayload("live", base, schema.EventBar, schema.Bar{Close: 1}, "cfg")
	require.NoError(t, err)
	_, err = store.AppendPayload("live", base.Add(time.Second), schema.EventBar, schema.Bar{Close: 2}, "cfg")
	require.NoError(t, err)

	cursor := store.Run(Query{StreamID: "live"})
	var last time.Time
	for {
		event, ok := cursor.Next()
		if !ok {
			break
		}
		if event.Timestamp.Before(last) {
			t.Fatalf("events out of order: %v before %v", event.Timestamp, last)
		}
		last = event.Timestamp
	}
}

func TestReopenRebuildsState(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	store, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	event, err := store.AppendPayload("live", ts, schema.EventBar, schema.Bar{Close: 5000.25}, "cfg")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len("live"))

	// Idempotent re-append still holds after restart.
	again, err := reopened.AppendPayload("live", ts, schema.EventBar, schema.Bar{Close: 5000.25}, "cfg")
	require.NoError(t, err)
	assert.Equal(t, event.ID, again.ID)
	assert.Equal(t, 1, reopened.Len("live"))
}

type memIndex struct {
	rows map[string]schema.Event
}

func (x *memIndex) Insert(event schema.Event) error {
	if x.rows == nil {
		x.rows = make(map[string]schema.Event)
	}
	x.rows[event.ID] = event
	return nil
}

func TestOpenBackfillsIndexFromWAL(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	// First run writes to the WAL without any index, the way a crash
	// between WAL commit and index write leaves things.
	store, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	first, err := store.AppendPayload("live", ts, schema.EventBar, schema.Bar{Close: 5000.25}, "cfg")
	require.NoError(t, err)
	second, err := store.AppendPayload("live", ts.Add(time.Minute), schema.EventBar, schema.Bar{Close: 5001}, "cfg")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	index := &memIndex{}
	reopened, err := Open(Config{Dir: dir}, index)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Len(t, index.rows, 2)
	assert.Contains(t, index.rows, first.ID)
	assert.Contains(t, index.rows, second.ID)
}

func TestQueryFilters(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.AppendPayload("live", base.Add(time.Duration(i)*time.Minute), schema.EventBar, schema.Bar{Close: float64(i + 1)}, "cfg")
		require.NoError(t, err)
	}
	_, err := store.AppendPayload("live", base, schema.EventHalt, schema.HaltNotice{Reason: schema.ReasonEngineError}, "cfg")
	require.NoError(t, err)

	assert.Equal(t, 5, store.Run(Query{StreamID: "live", Type: schema.EventBar}).Remaining())
	assert.Equal(t, 1, store.Run(Query{StreamID: "live", Type: schema.EventHalt}).Remaining())
	assert.Equal(t, 3, store.Run(Query{
		StreamID: "live",
		Type:     schema.EventBar,
		From:     base.Add(time.Minute),
		To:       base.Add(3 * time.Minute),
	}).Remaining())
	assert.Equal(t, 0, store.Run(Query{StreamID: "paper"}).Remaining())
}

func TestCursorReset(t *testing.T) {
	store := openTestStore(t)
	ts := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	_, err := store.AppendPayload("live", ts, schema.EventBar, schema.Bar{Close: 1}, "cfg")
	require.NoError(t, err)

	cursor := store.Run(Query{StreamID: "live"})
	_, ok := cursor.Next()
	require.True(t, ok)
	_, ok = cursor.Next()
	require.False(t, ok)

	cursor.Reset()
	_, ok = cursor.Next()
	assert.True(t, ok)
}
