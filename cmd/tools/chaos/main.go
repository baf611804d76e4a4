// chaos drives the execution supervisor through venue faults on the
// simulated venue: a feed disconnect, then venue-side position drift.
// The run is healthy only if trading pauses on the disconnect and the
// drift trips the kill switch, flattens and halts.
package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"main/internal/eventstore"
	"main/internal/exec"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config")
	drift := flag.Int("drift", 3, "Venue-side position drift to inject")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("missing -config")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	store, err := eventstore.Open(loaded.Store, nil)
	if err != nil {
		log.Fatalf("event store open failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sim := venue.NewSim(loaded.Sim)
	sup := exec.NewSupervisor(loaded.Execution, sim, store, loaded.Hash, func(schema.TradeOutcome) {})

	report, err := sup.Reconcile(ctx)
	if err != nil || report.Mismatch {
		log.Fatalf("initial reconcile failed: report=%+v err=%v", report, err)
	}

	// Fault 1: feed disconnect. New intents must be refused until the
	// next clean reconcile.
	sim.Inject(venue.Event{Kind: venue.KindDisconnect})
	drainInto(ctx, sim, sup)
	err = sup.HandleDecision(ctx, enterRecord(), schema.BeliefSnapshot{})
	if !errors.Is(err, exec.ErrNotReconciled) {
		log.Fatalf("disconnect did not pause trading: %v", err)
	}
	if report, err = sup.Reconcile(ctx); err != nil || report.Mismatch {
		log.Fatalf("post-disconnect reconcile failed: report=%+v err=%v", report, err)
	}
	log.Printf("disconnect fault: trading paused and restored")

	// Fault 2: the venue reports a position the book never built.
	sim.SetPosition(*drift)
	report, err = sup.Reconcile(ctx)
	if err != nil {
		log.Fatalf("drift reconcile errored: %v", err)
	}
	if !report.Mismatch {
		log.Fatalf("drift of %d contracts not detected", *drift)
	}
	if sup.KillSwitch().State() != schema.KillSwitchTripped {
		log.Fatalf("kill switch not tripped on drift, state=%s", sup.KillSwitch().State())
	}
	drainInto(ctx, sim, sup)

	halts := store.Run(eventstore.Query{
		StreamID: loaded.Execution.StreamID,
		Type:     schema.EventHalt,
	}).Remaining()
	if halts == 0 {
		log.Fatalf("no halt event persisted after drift")
	}
	log.Printf("drift fault: mismatch detected, kill switch tripped, halts=%d", halts)
	log.Printf("chaos run passed")
}

func enterRecord() schema.DecisionRecord {
	return schema.DecisionRecord{
		DecisionID: "d-chaos",
		Action:     schema.ActionEnter,
		Template:   schema.TemplateK1,
		Intent: &schema.OrderIntent{
			DecisionID:  "d-chaos",
			Template:    schema.TemplateK1,
			Side:        schema.SideLong,
			Contracts:   1,
			EntryType:   schema.OrderTypeLimit,
			EntryPrice:  5_000,
			StopPrice:   4_998,
			TargetPrice: 5_004,
		},
	}
}

func drainInto(ctx context.Context, sim *venue.Sim, sup *exec.Supervisor) {
	for {
		select {
		case ev := <-sim.Events():
			sup.OnVenueEvent(ctx, ev)
		default:
			return
		}
	}
}
