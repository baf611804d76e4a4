package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot captures account state at a point in time so restarts fold only
// the WAL tail after it.
type Snapshot struct {
	Timestamp         int64   `json:"timestamp"`
	LastSeq           uint64  `json:"lastSeq"`
	Equity            float64 `json:"equity"`
	DailyPnL          float64 `json:"dailyPnl"`
	TradesToday       int     `json:"tradesToday"`
	ConsecutiveLosses int     `json:"consecutiveLosses"`
	Position          int     `json:"position"`
	Day               string  `json:"day"`
}

// Snapshot builds a snapshot from the current account state.
func (r *AccountReducer) Snapshot(lastSeq uint64) Snapshot {
	return Snapshot{
		Timestamp:         time.Now().UTC().UnixNano(),
		LastSeq:           lastSeq,
		Equity:            r.equity,
		DailyPnL:          r.dailyPnL,
		TradesToday:       r.tradesToday,
		ConsecutiveLosses: r.consecutiveLosses,
		Position:          r.position,
		Day:               r.day.UTC().Format("2006-01-02"),
	}
}

// ApplySnapshot replaces account state with a snapshot.
func (r *AccountReducer) ApplySnapshot(snapshot Snapshot) {
	r.equity = snapshot.Equity
	r.dailyPnL = snapshot.DailyPnL
	r.tradesToday = snapshot.TradesToday
	r.consecutiveLosses = snapshot.ConsecutiveLosses
	r.position = snapshot.Position
	if day, err := time.Parse("2006-01-02", snapshot.Day); err == nil {
		r.day = day
	}
}

// WriteSnapshot atomically writes the snapshot as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	if path == "" {
		return fmt.Errorf("snapshot path is empty")
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}
