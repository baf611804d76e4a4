package state

import (
	"encoding/json"
	"os"

	"github.com/yanun0323/errors"

	"main/internal/eventstore"
	"main/internal/schema"
)

// RecoverConfig controls snapshot + event-log recovery.
type RecoverConfig struct {
	StreamID       string
	SnapshotPath   string
	StartingEquity float64
}

// RecoverResult contains the rebuilt account and fold metadata.
type RecoverResult struct {
	Account *AccountReducer
	LastSeq uint64
}

// RecoverAccount loads a snapshot if present, then folds the event tail
// past it to rebuild account state.
func RecoverAccount(store *eventstore.Store, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.StreamID == "" {
		return RecoverResult{}, errors.New("stream id is empty")
	}
	account := NewAccountReducer(cfg.StartingEquity)
	var lastSeq uint64

	if cfg.SnapshotPath != "" {
		snapshot, err := ReadSnapshot(cfg.SnapshotPath)
		if err != nil && !os.IsNotExist(err) {
			return RecoverResult{}, errors.Wrap(err, "read snapshot")
		}
		if err == nil {
			account.ApplySnapshot(snapshot)
			lastSeq = snapshot.LastSeq
		}
	}

	cursor := store.Run(eventstore.Query{StreamID: cfg.StreamID})
	for {
		event, ok := cursor.Next()
		if !ok {
			break
		}
		if event.Seq <= lastSeq {
			continue
		}
		lastSeq = event.Seq

		switch event.Type {
		case schema.EventFill:
			var fill schema.FillRecord
			if err := json.Unmarshal(event.Payload, &fill); err != nil {
				return RecoverResult{}, errors.Wrapf(err, "decode fill %s", event.ID)
			}
			account.ApplyFill(fill)
		case schema.EventTradeOutcome:
			var outcome schema.TradeOutcome
			if err := json.Unmarshal(event.Payload, &outcome); err != nil {
				return RecoverResult{}, errors.Wrapf(err, "decode outcome %s", event.ID)
			}
			account.ApplyOutcome(outcome)
		}
	}

	return RecoverResult{Account: account, LastSeq: lastSeq}, nil
}
