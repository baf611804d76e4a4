// mdg writes a synthetic cycle feed (JSON lines of bar/features/beliefs)
// that cmd/trader -input and the paper tool consume.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"main/internal/feed"
)

func main() {
	out := flag.String("out", "", "Output path (empty = stdout)")
	bars := flag.Int("bars", 390, "Number of bars to generate")
	seed := flag.Int64("seed", 1, "Walk seed, same seed replays the same feed")
	startPrice := flag.Float64("start-price", 5_000, "First bar open")
	tickSize := flag.Float64("tick-size", 0.25, "Price increment")
	barDuration := flag.Duration("bar-duration", time.Minute, "Bar length")
	start := flag.String("start", "", "First bar start, RFC3339 (empty = default session)")
	volTicks := flag.Float64("vol-ticks", 6, "Per-bar move scale in ticks")
	constraint := flag.String("constraint", "c-breakout", "Constraint id carried on beliefs")
	flag.Parse()

	if *bars <= 0 {
		log.Fatalf("bars must be > 0")
	}

	cfg := feed.Config{
		Seed:         *seed,
		StartPrice:   *startPrice,
		TickSize:     *tickSize,
		BarDuration:  *barDuration,
		VolTicks:     *volTicks,
		ConstraintID: *constraint,
	}
	if *start != "" {
		at, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
		cfg.Start = at
	}
	generator, err := feed.NewGenerator(cfg)
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}

	dst := os.Stdout
	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			log.Fatalf("create output failed: %v", err)
		}
		defer file.Close()
		dst = file
	}

	writer := bufio.NewWriter(dst)
	encoder := json.NewEncoder(writer)
	for i := 0; i < *bars; i++ {
		if err := encoder.Encode(generator.Next()); err != nil {
			log.Fatalf("encode cycle failed: %v", err)
		}
	}
	if err := writer.Flush(); err != nil {
		log.Fatalf("flush output failed: %v", err)
	}
	log.Printf("feed generated: bars=%d seed=%d", *bars, *seed)
}
