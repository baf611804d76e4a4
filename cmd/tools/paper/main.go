// paper runs a complete decision/execution session against the simulated
// venue: synthetic bars in, resting orders crossed per bar, closed trades
// attributed and folded into reliability, session report out.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"main/internal/decision"
	"main/internal/eventstore"
	"main/internal/exec"
	"main/internal/feed"
	"main/internal/learn"
	"main/internal/ops"
	"main/internal/runner"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config")
	bars := flag.Int("bars", 390, "Bars to simulate")
	seed := flag.Int64("seed", 1, "Walk seed, same seed replays the same session")
	startPrice := flag.Float64("start-price", 5_000, "First bar open")
	volTicks := flag.Float64("vol-ticks", 6, "Per-bar move scale in ticks")
	barDuration := flag.Duration("bar-duration", time.Minute, "Bar length")
	start := flag.String("start", "", "First bar start, RFC3339 (empty = default session)")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("missing -config")
	}
	if *bars <= 0 {
		log.Fatalf("bars must be > 0")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	feedCfg := feed.Config{
		Seed:        *seed,
		StartPrice:  *startPrice,
		TickSize:    loaded.Decision.TickSize,
		BarDuration: *barDuration,
		VolTicks:    *volTicks,
	}
	if len(loaded.Decision.Templates) > 0 {
		feedCfg.ConstraintID = loaded.Decision.Templates[0].ConstraintID
	}
	if *start != "" {
		at, perr := time.Parse(time.RFC3339, *start)
		if perr != nil {
			log.Fatalf("invalid -start: %v", perr)
		}
		feedCfg.Start = at
	}
	generator, err := feed.NewGenerator(feedCfg)
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}

	store, err := eventstore.Open(loaded.Store, nil)
	if err != nil {
		log.Fatalf("event store open failed: %v", err)
	}
	defer store.Close()

	engine, err := decision.NewEngine(loaded.Decision, loaded.Hash)
	if err != nil {
		log.Fatalf("decision engine init failed: %v", err)
	}

	sim := venue.NewSim(loaded.Sim)
	sup := exec.NewSupervisor(loaded.Execution, sim, store, loaded.Hash, nil)
	tracker := learn.NewTracker(loaded.Reliability)
	loop := learn.NewLoop(loaded.Attribution, tracker, store, loaded.Runner.StreamID, loaded.Hash)
	account := state.NewAccountReducer(loaded.StartingEquity)
	run := runner.New(loaded.Runner, engine, sup, loop, account, store, sim, loaded.Hash)

	// The session is driven synchronously: cycle, cross the bar, apply
	// the resulting venue events in order. No bus goroutines, so the same
	// seed always produces the same event log.
	ctx := context.Background()
	if err := loop.RestoreLatest(); err != nil {
		log.Fatalf("restore reliability state failed: %v", err)
	}
	report, err := sup.Reconcile(ctx)
	if err != nil {
		log.Fatalf("initial reconcile failed: %v", err)
	}
	if report.Mismatch {
		log.Fatalf("initial reconcile mismatch")
	}

	startEquity := account.View().Equity
	actions := map[schema.Action]int{}
	for i := 0; i < *bars; i++ {
		cycle := generator.Next()
		record, cerr := run.Cycle(ctx, cycle.Bar, cycle.Features, cycle.Beliefs)
		if cerr != nil {
			log.Fatalf("cycle %d failed: %v", i, cerr)
		}
		actions[record.Action]++
		sim.MatchBar(cycle.Bar)
		drain(ctx, sim, sup)
	}

	if err := sup.FlattenAll(ctx, "session end"); err != nil {
		log.Fatalf("session-end flatten failed: %v", err)
	}
	drain(ctx, sim, sup)

	view := run.Account()
	outcomes := store.Run(eventstore.Query{
		StreamID: loaded.Runner.StreamID,
		Type:     schema.EventTradeOutcome,
	}).Remaining()
	log.Printf("paper session: bars=%d enter=%d skip=%d exit=%d halt=%d",
		*bars, actions[schema.ActionEnter], actions[schema.ActionSkip],
		actions[schema.ActionExit], actions[schema.ActionHalt])
	log.Printf("paper result: trades=%d equity %.2f -> %.2f quarantined=%d kill=%s",
		outcomes, startEquity, view.Equity, tracker.QuarantinedCount(), sup.KillSwitch().State())
}

func drain(ctx context.Context, sim *venue.Sim, sup *exec.Supervisor) {
	for {
		select {
		case ev := <-sim.Events():
			sup.OnVenueEvent(ctx, ev)
		default:
			return
		}
	}
}
