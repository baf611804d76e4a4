package exec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"main/internal/schema"
)

var (
	ErrNotTripped    = errors.New("kill switch is not tripped")
	ErrResetNotReady = errors.New("kill switch reset was not requested")
	ErrNoOperator    = errors.New("kill switch reset requires reason and operator")
)

// KillSwitch is the process-wide halt flag. Its lifecycle is
// ARMED -> TRIPPED -> RESET_PENDING -> ARMED, and every transition is
// persisted as an event through the supplied sink, never memory-only.
type KillSwitch struct {
	mu      sync.Mutex
	state   schema.KillSwitchState
	persist func(schema.KillSwitchTransition) error
}

// NewKillSwitch starts armed.
func NewKillSwitch(persist func(schema.KillSwitchTransition) error) *KillSwitch {
	return &KillSwitch{state: schema.KillSwitchArmed, persist: persist}
}

// State returns the current lifecycle state.
func (k *KillSwitch) State() schema.KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Tripped reports whether new trading is blocked.
func (k *KillSwitch) Tripped() bool {
	return k.State() != schema.KillSwitchArmed
}

// Trip halts trading. Tripping an already tripped switch is a no-op, so
// repeated failure detections do not spam transitions.
func (k *KillSwitch) Trip(reason string, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == schema.KillSwitchTripped {
		return nil
	}
	return k.transition(k.state, schema.KillSwitchTripped, reason, "", now)
}

// RequestReset starts the audited reset. It never re-arms by itself.
func (k *KillSwitch) RequestReset(reason, operator string, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if reason == "" || operator == "" {
		return ErrNoOperator
	}
	if k.state != schema.KillSwitchTripped {
		return ErrNotTripped
	}
	return k.transition(k.state, schema.KillSwitchResetPending, reason, operator, now)
}

// ConfirmReset completes the reset after the caller verified state is
// consistent again (a clean reconciliation pass).
func (k *KillSwitch) ConfirmReset(reason, operator string, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if reason == "" || operator == "" {
		return ErrNoOperator
	}
	if k.state != schema.KillSwitchResetPending {
		return ErrResetNotReady
	}
	return k.transition(k.state, schema.KillSwitchArmed, reason, operator, now)
}

// AbortReset returns a pending reset to tripped.
func (k *KillSwitch) AbortReset(reason string, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != schema.KillSwitchResetPending {
		return ErrResetNotReady
	}
	return k.transition(k.state, schema.KillSwitchTripped, reason, "", now)
}

func (k *KillSwitch) transition(from, to schema.KillSwitchState, reason, operator string, now time.Time) error {
	t := schema.KillSwitchTransition{
		From:     from,
		To:       to,
		Reason:   reason,
		Operator: operator,
		Time:     now.UTC(),
	}
	if k.persist != nil {
		if err := k.persist(t); err != nil {
			return fmt.Errorf("persist kill switch transition: %w", err)
		}
	}
	k.state = to
	return nil
}
