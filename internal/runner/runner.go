/*
Runner drives the trading loop.

# Module
  - event bus: pulls venue events and applies them to the execution supervisor
  - decision cycle: one pass of the gate hierarchy per completed bar
  - account reducer: in-memory equity and position view, snapshotted to disk
  - learning loop: attribution and reliability updates on every closed trade

# Source
 1. bars, features and beliefs from the caller per cycle
 2. order and fill events from the venue adapter
 3. event log replay on restart

# Produce
  - decision records and order lifecycle events into the event store
*/
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/decision"
	"main/internal/eventstore"
	"main/internal/exec"
	"main/internal/learn"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/venue"
)

// Config tunes the loop around the subsystems.
type Config struct {
	StreamID       string        `json:"streamId" yaml:"streamId"`
	SnapshotPath   string        `json:"snapshotPath" yaml:"snapshotPath"`
	SnapshotEvery  int           `json:"snapshotEvery" yaml:"snapshotEvery"`
	ReconcileEvery time.Duration `json:"reconcileEvery" yaml:"reconcileEvery"`
	DecayEvery     time.Duration `json:"decayEvery" yaml:"decayEvery"`
	QueueSize      int           `json:"queueSize" yaml:"queueSize"`
}

func (c Config) withDefaults() Config {
	if c.StreamID == "" {
		c.StreamID = "live"
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = 8
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = 30 * time.Second
	}
	if c.DecayEvery <= 0 {
		c.DecayEvery = time.Hour
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

// Runner wires the decision engine, execution supervisor, learning loop
// and account reducer into one loop. Cycle is the only entry point for
// market input; venue events flow in through the bus.
type Runner struct {
	mu         sync.Mutex
	cfg        Config
	engine     *decision.Engine
	sup        *exec.Supervisor
	loop       *learn.Loop
	account    *state.AccountReducer
	store      *eventstore.Store
	queue      *bus.Queue
	adapter    venue.Adapter
	configHash string

	outcomes int
	lastSeq  uint64
}

// New assembles a runner and registers itself as the supervisor's
// closed-trade callback.
func New(cfg Config, engine *decision.Engine, sup *exec.Supervisor, loop *learn.Loop, account *state.AccountReducer, store *eventstore.Store, adapter venue.Adapter, configHash string) *Runner {
	cfg = cfg.withDefaults()
	r := &Runner{
		cfg:        cfg,
		engine:     engine,
		sup:        sup,
		loop:       loop,
		account:    account,
		store:      store,
		queue:      bus.NewQueue(cfg.QueueSize),
		adapter:    adapter,
		configHash: configHash,
	}
	sup.SetOutcomeFunc(r.OnOutcome)
	return r
}

// Start restores learned state, reconciles against the venue and starts
// the event pump. New intents are refused until the reconcile pass is
// clean, so a restart can never trade on top of unknown venue state.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.loop.RestoreLatest(); err != nil {
		return errors.Wrap(err, "restore reliability state")
	}
	report, err := r.sup.Reconcile(ctx)
	if err != nil {
		return errors.Wrap(err, "initial reconcile")
	}
	if report.Mismatch {
		return errors.New("initial reconcile mismatch, trading halted")
	}

	go r.queue.Pump(ctx, r.adapter.Events())
	go r.queue.Run(ctx, func(ev venue.Event) {
		r.sup.OnVenueEvent(ctx, ev)
	})
	go r.periodic(ctx)
	logs.Infof("runner started on stream %s", r.cfg.StreamID)
	return nil
}

// Stop drains the bus.
func (r *Runner) Stop() {
	r.queue.Close()
}

// Cycle runs one decision pass for a completed bar. Decision time is the
// bar close, so a replay of the same events reproduces the same ids.
func (r *Runner) Cycle(ctx context.Context, bar schema.Bar, features schema.FeatureVector, beliefs schema.BeliefSnapshot) (schema.DecisionRecord, error) {
	record, err := r.decide(bar, features, beliefs)
	if err != nil {
		return record, err
	}

	// Execution runs outside the runner lock: a flatten can close trades
	// synchronously, and their outcomes flow back through OnOutcome.
	if err := r.sup.HandleDecision(ctx, record, beliefs); err != nil {
		logs.Errorf("decision %s not executed: %v", record.DecisionID, err)
	}
	r.sup.Sweep(ctx)
	return record, nil
}

func (r *Runner) decide(bar schema.Bar, features schema.FeatureVector, beliefs schema.BeliefSnapshot) (schema.DecisionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := bar.Start.Add(time.Duration(bar.Duration) * time.Millisecond).UTC()
	ev, err := r.store.AppendPayload(r.cfg.StreamID, now, schema.EventBar, bar, r.configHash)
	if err != nil {
		return schema.DecisionRecord{}, errors.Wrap(err, "append bar")
	}
	r.lastSeq = ev.Seq
	r.sup.ObserveBar(bar)

	// The supervisor sees fills as they happen; the reducer only folds
	// closed trades. Sync the open position so the session-exit rule
	// fires on trades opened this session.
	r.account.SetPosition(r.sup.Position())

	in := decision.Input{
		Now:         now,
		Bar:         bar,
		Features:    features,
		Beliefs:     beliefs,
		Account:     r.account.View(),
		KillSwitch:  r.sup.KillSwitch().State(),
		Reliability: r.loop.Tracker(),
	}
	record := r.engine.Decide(in)
	ev, err = r.store.AppendPayload(r.cfg.StreamID, now, schema.EventDecision, record, r.configHash)
	if err != nil {
		return record, errors.Wrap(err, "append decision")
	}
	r.lastSeq = ev.Seq

	obs.CountDecision(record)
	obs.SetKillSwitch(in.KillSwitch)
	obs.SetEquity(in.Account.Equity)
	obs.SetPosition(r.sup.Position())
	return record, nil
}

// OnOutcome is the supervisor's callback for each closed trade. It feeds
// the account reducer and the learning loop, then snapshots periodically.
func (r *Runner) OnOutcome(outcome schema.TradeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.account.ApplyOutcome(outcome)
	if _, err := r.loop.OnTradeOutcome(outcome); err != nil {
		logs.Errorf("learning loop on trade %s: %v", outcome.TradeID, err)
	}
	obs.CountOutcome(outcome)
	obs.SetEquity(r.account.View().Equity)
	obs.SetQuarantined(r.loop.Tracker().QuarantinedCount())
	r.outcomes++
	if r.cfg.SnapshotPath != "" && r.outcomes%r.cfg.SnapshotEvery == 0 {
		if err := state.WriteSnapshot(r.cfg.SnapshotPath, r.account.Snapshot(r.lastSeq)); err != nil {
			logs.Errorf("write account snapshot: %v", err)
		}
	}
}

// Account exposes the current account view.
func (r *Runner) Account() state.AccountView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account.View()
}

func (r *Runner) periodic(ctx context.Context) {
	reconcile := time.NewTicker(r.cfg.ReconcileEvery)
	decay := time.NewTicker(r.cfg.DecayEvery)
	defer reconcile.Stop()
	defer decay.Stop()

	var lastDrops uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			if _, err := r.sup.Reconcile(ctx); err != nil {
				logs.Errorf("periodic reconcile: %v", err)
			}
			drops := r.queue.Drops()
			if delta := drops - lastDrops; delta > 0 {
				obs.AddBusDrops(delta)
				logs.Errorf("bus dropped %d venue events", delta)
			}
			lastDrops = drops
		case <-decay.C:
			r.loop.Decay(r.cfg.DecayEvery)
		}
	}
}
