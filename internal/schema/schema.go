package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType categorizes an event stored in the log.
// Persisted payloads carry the string form, never the ordinal.
type EventType string

const (
	EventUnknown             EventType = "UNKNOWN"
	EventBar                 EventType = "BAR"
	EventDecision            EventType = "DECISION"
	EventOrderState          EventType = "ORDER_STATE"
	EventFill                EventType = "FILL"
	EventTradeOutcome        EventType = "TRADE_OUTCOME"
	EventAttribution         EventType = "ATTRIBUTION"
	EventReliabilitySnapshot EventType = "RELIABILITY_SNAPSHOT"
	EventKillSwitch          EventType = "KILL_SWITCH"
	EventReconcile           EventType = "RECONCILE"
	EventHalt                EventType = "HALT"
)

// Event is an immutable record in the append-only log. The ID is a pure
// function of the remaining identity fields, so re-ingesting the same
// logical event is a no-op.
type Event struct {
	ID         string          `json:"id" gorm:"primaryKey;size:64"`
	StreamID   string          `json:"stream_id" gorm:"index:idx_events_stream_ts,priority:1"`
	Timestamp  time.Time       `json:"timestamp" gorm:"index:idx_events_stream_ts,priority:2"`
	Type       EventType       `json:"type" gorm:"index:idx_events_type"`
	Payload    json.RawMessage `json:"payload"`
	ConfigHash string          `json:"config_hash"`

	// Seq is the per-stream insertion sequence assigned by the store.
	// It breaks timestamp ties and is not part of the identity hash.
	Seq uint64 `json:"seq" gorm:"index"`
}

// NewEvent builds an event and mints its deterministic ID.
func NewEvent(streamID string, ts time.Time, eventType EventType, payload any, configHash string) (Event, error) {
	raw, err := CanonicalJSON(payload)
	if err != nil {
		return Event{}, err
	}
	e := Event{
		StreamID:   streamID,
		Timestamp:  ts.UTC(),
		Type:       eventType,
		Payload:    raw,
		ConfigHash: configHash,
	}
	e.ID = EventID(e.StreamID, e.Timestamp, e.Type, e.Payload, e.ConfigHash)
	return e, nil
}

// EventID derives the deterministic event ID. Identical logical events mint
// identical IDs across runs and across machines.
func EventID(streamID string, ts time.Time, eventType EventType, payload json.RawMessage, configHash string) string {
	canonical, err := canonicalize(payload)
	if err != nil {
		canonical = payload
	}
	h := sha256.New()
	h.Write([]byte(streamID))
	h.Write([]byte{0})
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(configHash))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON marshals v into byte-stable JSON: object keys sorted,
// no insignificant whitespace. encoding/json already sorts map keys and
// emits struct fields in declaration order, so one decode/encode round
// trip through a generic value normalizes any input.
func CanonicalJSON(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalize(raw)
}

func canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// PayloadDigest hashes canonical payload bytes. The store uses it to detect
// same-ID appends whose content differs.
func PayloadDigest(payload json.RawMessage) string {
	canonical, err := canonicalize(payload)
	if err != nil {
		canonical = payload
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
