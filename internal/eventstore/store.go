package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"main/internal/obs"
	"main/internal/schema"
)

var (
	// ErrDuplicateEvent signals a same-ID append whose payload differs from
	// the stored row. It is a corruption signal, never silently resolved.
	ErrDuplicateEvent = errors.New("duplicate event id with differing payload")

	ErrStoreClosed = errors.New("event store closed")
)

// Index mirrors appended events into a secondary queryable table.
// The postgres implementation lives in pg.go; a nil index is valid.
type Index interface {
	Insert(event schema.Event) error
}

// Store is the append-only, replayable event log. Appends serialize under
// one lock to preserve the per-stream total order; reads take a snapshot
// and never block appends for long.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	wal     *walWriter
	index   Index
	closed  bool
	digests map[string]storedDigest
	streams map[string][]schema.Event
	seqs    map[string]uint64
}

// storedDigest remembers the payload digest and assigned seq per event id,
// so idempotent re-appends can report the original seq.
type storedDigest struct {
	digest string
	seq    uint64
}

// Open scans existing segments to rebuild the in-memory index, then opens
// the log for appends.
func Open(cfg Config, index Index) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		index:   index,
		digests: make(map[string]storedDigest),
		streams: make(map[string][]schema.Event),
		seqs:    make(map[string]uint64),
	}
	if err := s.scan(); err != nil {
		return nil, err
	}

	// The WAL is the source of truth. A crash between WAL commit and
	// index write leaves the row missing from the index, so re-insert
	// everything scanned; Insert skips rows that already exist.
	if index != nil {
		for _, events := range s.streams {
			for _, event := range events {
				if err := index.Insert(event); err != nil {
					return nil, fmt.Errorf("backfill index %s: %w", event.ID, err)
				}
			}
		}
	}

	wal, err := newWALWriter(cfg)
	if err != nil {
		return nil, err
	}
	s.wal = wal
	return s, nil
}

// Close flushes and closes the current segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.wal.closeSegment()
}

// Append stores the event idempotently and returns its ID. Re-appending an
// identical event is a no-op; a same-ID event with different payload fails
// with ErrDuplicateEvent.
func (s *Store) Append(event schema.Event) (string, error) {
	stored, err := s.append(event)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// AppendPayload builds an event from the payload and appends it. The
// returned event carries the assigned sequence number.
func (s *Store) AppendPayload(streamID string, ts time.Time, eventType schema.EventType, payload any, configHash string) (schema.Event, error) {
	event, err := schema.NewEvent(streamID, ts, eventType, payload, configHash)
	if err != nil {
		return schema.Event{}, fmt.Errorf("build event: %w", err)
	}
	return s.append(event)
}

func (s *Store) append(event schema.Event) (schema.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schema.Event{}, ErrStoreClosed
	}

	digest := schema.PayloadDigest(event.Payload)
	if stored, ok := s.digests[event.ID]; ok {
		if stored.digest != digest {
			return schema.Event{}, fmt.Errorf("id %s: %w", event.ID, ErrDuplicateEvent)
		}
		event.Seq = stored.seq
		return event, nil
	}

	s.seqs[event.StreamID]++
	event.Seq = s.seqs[event.StreamID]

	body, err := json.Marshal(event)
	if err != nil {
		return schema.Event{}, fmt.Errorf("encode event: %w", err)
	}
	meta := recordMeta{Seq: event.Seq, TsUnix: event.Timestamp.UTC().UnixNano()}
	if err := s.wal.append(meta, body); err != nil {
		return schema.Event{}, fmt.Errorf("append wal record: %w", err)
	}

	s.digests[event.ID] = storedDigest{digest: digest, seq: event.Seq}
	s.insertOrdered(event)
	obs.CountEventAppend(event.Type)

	if s.index != nil {
		if err := s.index.Insert(event); err != nil {
			return schema.Event{}, fmt.Errorf("index event: %w", err)
		}
	}
	return event, nil
}

// insertOrdered keeps the stream slice sorted by (timestamp, seq). Appends
// are usually in order, so the common case is a plain append.
func (s *Store) insertOrdered(event schema.Event) {
	stream := s.streams[event.StreamID]
	n := len(stream)
	if n == 0 || !eventBefore(event, stream[n-1]) {
		s.streams[event.StreamID] = append(stream, event)
		return
	}
	at := sort.Search(n, func(i int) bool { return eventBefore(event, stream[i]) })
	stream = append(stream, schema.Event{})
	copy(stream[at+1:], stream[at:])
	stream[at] = event
	s.streams[event.StreamID] = stream
}

func eventBefore(a, b schema.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

// Query describes an ordered read over one stream.
type Query struct {
	StreamID string
	Type     schema.EventType
	From     time.Time
	To       time.Time
}

// Run snapshots the matching events into a restartable cursor.
func (s *Store) Run(q Query) *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []schema.Event
	for _, event := range s.streams[q.StreamID] {
		if q.Type != "" && event.Type != q.Type {
			continue
		}
		if !q.From.IsZero() && event.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && event.Timestamp.After(q.To) {
			continue
		}
		matched = append(matched, event)
	}
	return &Cursor{events: matched}
}

// Len reports the number of stored events for a stream.
func (s *Store) Len(streamID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[streamID])
}

// Cursor iterates a query result. Reset rewinds it for another pass.
type Cursor struct {
	events []schema.Event
	pos    int
}

// Next returns the next event in (timestamp, seq) order.
func (c *Cursor) Next() (schema.Event, bool) {
	if c.pos >= len(c.events) {
		return schema.Event{}, false
	}
	event := c.events[c.pos]
	c.pos++
	return event, true
}

// Reset rewinds the cursor to the first event.
func (c *Cursor) Reset() {
	c.pos = 0
}

// Remaining reports how many events the cursor has not yet yielded.
func (c *Cursor) Remaining() int {
	return len(c.events) - c.pos
}

// scan rebuilds the dedupe index and stream order from existing segments.
func (s *Store) scan() error {
	files, err := collectSegments(s.cfg)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := s.scanFile(path); err != nil {
			return fmt.Errorf("scan segment %s: %w", path, err)
		}
	}
	return nil
}

func (s *Store) scanFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := newWALReader(file, s.cfg)
	for {
		_, payload, err := reader.next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var event schema.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		digest := schema.PayloadDigest(event.Payload)
		if stored, ok := s.digests[event.ID]; ok {
			if stored.digest != digest {
				return fmt.Errorf("id %s: %w", event.ID, ErrDuplicateEvent)
			}
			continue
		}
		s.digests[event.ID] = storedDigest{digest: digest, seq: event.Seq}
		if event.Seq > s.seqs[event.StreamID] {
			s.seqs[event.StreamID] = event.Seq
		}
		s.insertOrdered(event)
	}
}

var _ io.Closer = (*Store)(nil)
