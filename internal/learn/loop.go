package learn

import (
	"encoding/json"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/eventstore"
	"main/internal/schema"
)

// Loop wires attribution and reliability updates behind the event store.
// The decision engine never calls it; it reads the snapshot the loop
// persists after each closed trade.
type Loop struct {
	attribution AttributionConfig
	tracker     *Tracker
	store       *eventstore.Store
	streamID    string
	configHash  string
}

// NewLoop builds the learning loop around a tracker and store.
func NewLoop(attribution AttributionConfig, tracker *Tracker, store *eventstore.Store, streamID, configHash string) *Loop {
	return &Loop{
		attribution: attribution,
		tracker:     tracker,
		store:       store,
		streamID:    streamID,
		configHash:  configHash,
	}
}

// Tracker exposes the reliability view for the decision engine.
func (l *Loop) Tracker() *Tracker {
	return l.tracker
}

// OnTradeOutcome consumes one closed trade exactly once: attribution event,
// reliability update, then a fresh snapshot event. Both events carry
// deterministic ids, so reprocessing the same outcome is a store no-op.
func (l *Loop) OnTradeOutcome(outcome schema.TradeOutcome) (schema.Attribution, error) {
	attribution := Attribute(l.attribution, outcome)

	if _, err := l.store.AppendPayload(l.streamID, outcome.ExitTime, schema.EventAttribution, attribution, l.configHash); err != nil {
		return attribution, errors.Wrap(err, "append attribution")
	}

	key := schema.ReliabilityKey{
		Template: outcome.Decision.Template,
		Regime:   outcome.Decision.Regime,
		Bucket:   outcome.Decision.TimeBucket,
	}
	l.tracker.Apply(key, outcome, attribution)

	snapshot := l.tracker.Snapshot(outcome.ExitTime)
	if _, err := l.store.AppendPayload(l.streamID, outcome.ExitTime, schema.EventReliabilitySnapshot, snapshot, l.configHash); err != nil {
		return attribution, errors.Wrap(err, "append reliability snapshot")
	}
	return attribution, nil
}

// RestoreLatest loads the most recent persisted snapshot, if any.
func (l *Loop) RestoreLatest() error {
	cursor := l.store.Run(eventstore.Query{StreamID: l.streamID, Type: schema.EventReliabilitySnapshot})
	var latest *schema.Event
	for {
		event, ok := cursor.Next()
		if !ok {
			break
		}
		e := event
		latest = &e
	}
	if latest == nil {
		return nil
	}
	var snapshot schema.ReliabilitySnapshot
	if err := json.Unmarshal(latest.Payload, &snapshot); err != nil {
		return errors.Wrap(err, "decode reliability snapshot")
	}
	l.tracker.Restore(snapshot)
	return nil
}

// Decay runs the neutral-decay pass; callers drive it from a timer.
func (l *Loop) Decay(elapsed time.Duration) {
	l.tracker.DecayTowardNeutral(elapsed)
}
