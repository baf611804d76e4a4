package eventstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// DerivedState is the deterministic fold over one stream. Replaying the
// same event sequence under the same config must reproduce it bit for bit;
// Fingerprint exists so callers can assert exactly that.
type DerivedState struct {
	StreamID    string                                              `json:"stream_id"`
	ConfigHash  string                                              `json:"config_hash"`
	LastSeq     uint64                                              `json:"last_seq"`
	Position    int                                                 `json:"position"`
	RealizedPnL float64                                             `json:"realized_pnl"`
	Trades      int                                                 `json:"trades"`
	Decisions   int                                                 `json:"decisions"`
	KillSwitch  schema.KillSwitchState                              `json:"kill_switch"`
	Reliability map[schema.ReliabilityKey]schema.ReliabilityMetrics `json:"-"`
	Counts      map[schema.EventType]uint64                         `json:"counts"`
}

// Replay folds the full event sequence for the stream. It applies no
// business logic beyond the fold itself.
func (s *Store) Replay(streamID, configHash string) (DerivedState, error) {
	state := DerivedState{
		StreamID:    streamID,
		ConfigHash:  configHash,
		KillSwitch:  schema.KillSwitchArmed,
		Reliability: make(map[schema.ReliabilityKey]schema.ReliabilityMetrics),
		Counts:      make(map[schema.EventType]uint64),
	}

	cursor := s.Run(Query{StreamID: streamID})
	for {
		event, ok := cursor.Next()
		if !ok {
			return state, nil
		}
		if err := state.apply(event); err != nil {
			return state, err
		}
	}
}

func (d *DerivedState) apply(event schema.Event) error {
	if event.Seq > d.LastSeq {
		d.LastSeq = event.Seq
	}
	d.Counts[event.Type]++

	switch event.Type {
	case schema.EventFill:
		var fill schema.FillRecord
		if err := json.Unmarshal(event.Payload, &fill); err != nil {
			return errors.Wrapf(err, "decode fill %s", event.ID)
		}
		d.Position += fill.Side.Sign() * fill.Qty

	case schema.EventDecision:
		d.Decisions++

	case schema.EventTradeOutcome:
		var outcome schema.TradeOutcome
		if err := json.Unmarshal(event.Payload, &outcome); err != nil {
			return errors.Wrapf(err, "decode outcome %s", event.ID)
		}
		d.RealizedPnL += outcome.RealizedPnL
		d.Trades++

	case schema.EventKillSwitch:
		var transition schema.KillSwitchTransition
		if err := json.Unmarshal(event.Payload, &transition); err != nil {
			return errors.Wrapf(err, "decode kill switch %s", event.ID)
		}
		d.KillSwitch = transition.To

	case schema.EventReliabilitySnapshot:
		var snapshot schema.ReliabilitySnapshot
		if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
			return errors.Wrapf(err, "decode reliability snapshot %s", event.ID)
		}
		for key := range d.Reliability {
			delete(d.Reliability, key)
		}
		for _, entry := range snapshot.Entries {
			d.Reliability[entry.Key] = entry.Metrics
		}
	}
	return nil
}

// Fingerprint hashes the derived state into a stable hex digest.
func (d DerivedState) Fingerprint() string {
	type keyed struct {
		Key     schema.ReliabilityKey     `json:"key"`
		Metrics schema.ReliabilityMetrics `json:"metrics"`
	}
	entries := make([]keyed, 0, len(d.Reliability))
	for key, metrics := range d.Reliability {
		entries = append(entries, keyed{Key: key, Metrics: metrics})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.Template != b.Template {
			return a.Template < b.Template
		}
		if a.Regime != b.Regime {
			return a.Regime < b.Regime
		}
		return a.Bucket < b.Bucket
	})

	body, _ := json.Marshal(struct {
		State       DerivedState `json:"state"`
		Reliability []keyed      `json:"reliability"`
	}{State: d, Reliability: entries})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
