package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/decision"
	"main/internal/eventstore"
	"main/internal/exec"
	"main/internal/learn"
	"main/internal/ops"
	"main/internal/runner"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/venue"
	"main/pkg/conn"
)

// cycleInput is one line of the JSON-lines input feed: a completed bar
// plus the externally computed features and beliefs for that bar.
type cycleInput struct {
	Bar      schema.Bar            `json:"bar"`
	Features schema.FeatureVector  `json:"features"`
	Beliefs  schema.BeliefSnapshot `json:"beliefs"`
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...interface{})  {}
func (emptyLogger) Debugf(string, ...interface{}) {}
func (emptyLogger) Errorf(string, ...interface{}) {}

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML config")
	inputPath := flag.String("input", "", "JSON-lines feed of bar/feature/belief cycles (empty = idle)")
	cycleInterval := flag.Duration("cycle-interval", 0, "Delay between input cycles (0 = as fast as possible)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus /metrics and admin listen address")
	adminSocket := flag.String("admin-socket", "", "Unix socket for tradectl admin commands (empty = disabled)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty = disabled)")
	flattenOnExit := flag.Bool("flatten-on-exit", true, "Flatten the account before shutdown")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   *pyroscopeAddr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if *configPath == "" {
		log.Fatalf("missing -config")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	var index eventstore.Index
	if loaded.Postgres.Enabled {
		client, cerr := conn.New(conn.Option{
			Host:     loaded.Postgres.Host,
			Port:     loaded.Postgres.Port,
			User:     loaded.Postgres.User,
			Password: loaded.Postgres.Password,
			Database: loaded.Postgres.Database,
		})
		if cerr != nil {
			log.Fatalf("postgres connect failed: %v", cerr)
		}
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		perr := client.Ping(pingCtx)
		cancel()
		if perr != nil {
			log.Fatalf("postgres ping failed: %v", perr)
		}
		index, err = eventstore.NewPGIndex(client)
		if err != nil {
			log.Fatalf("postgres index init failed: %v", err)
		}
	}

	store, err := eventstore.Open(loaded.Store, index)
	if err != nil {
		log.Fatalf("event store open failed: %v", err)
	}
	defer store.Close()

	engine, err := decision.NewEngine(loaded.Decision, loaded.Hash)
	if err != nil {
		log.Fatalf("decision engine init failed: %v", err)
	}

	var adapter venue.Adapter
	if loaded.Venue == "live" {
		live, lerr := venue.NewLive(loaded.Live)
		if lerr != nil {
			log.Fatalf("live venue init failed: %v", lerr)
		}
		go func() {
			if rerr := live.Run(ctx); rerr != nil && ctx.Err() == nil {
				logs.Errorf("live venue stopped: %v", rerr)
			}
		}()
		adapter = live
	} else {
		adapter = venue.NewSim(loaded.Sim)
	}
	sup := exec.NewSupervisor(loaded.Execution, adapter, store, loaded.Hash, nil)
	tracker := learn.NewTracker(loaded.Reliability)
	loop := learn.NewLoop(loaded.Attribution, tracker, store, loaded.Runner.StreamID, loaded.Hash)

	recovered, err := state.RecoverAccount(store, state.RecoverConfig{
		StreamID:       loaded.Runner.StreamID,
		SnapshotPath:   loaded.Runner.SnapshotPath,
		StartingEquity: loaded.StartingEquity,
	})
	if err != nil {
		log.Fatalf("account recovery failed: %v", err)
	}
	account := recovered.Account
	logs.Infof("account recovered: equity=%.2f position=%d lastSeq=%d",
		account.View().Equity, account.View().Position, recovered.LastSeq)

	run := runner.New(loaded.Runner, engine, sup, loop, account, store, adapter, loaded.Hash)
	startErr := run.Start(ctx)
	for attempt := 1; startErr != nil && loaded.Venue == "live" && ctx.Err() == nil && attempt <= 20; attempt++ {
		// the bridge may still be dialing; the first reconcile needs it up
		logs.Warnf("runner start blocked, retrying: %v", startErr)
		time.Sleep(500 * time.Millisecond)
		startErr = run.Start(ctx)
	}
	if startErr != nil {
		log.Fatalf("runner start failed: %v", startErr)
	}
	defer run.Stop()

	go serveOps(ctx, *metricsAddr, sup)

	if *adminSocket != "" {
		admin, aerr := ops.NewAdminServer(*adminSocket, sup)
		if aerr != nil {
			log.Fatalf("admin socket init failed: %v", aerr)
		}
		go func() {
			if serr := admin.Serve(ctx); serr != nil {
				logs.Errorf("admin socket: %v", serr)
			}
		}()
	}

	if *inputPath != "" {
		if err := feedCycles(ctx, run, *inputPath, *cycleInterval); err != nil {
			logs.Errorf("input feed stopped: %v", err)
		}
	}

	select {
	case <-ctx.Done():
	case <-sys.Shutdown():
	}

	if *flattenOnExit {
		exitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sup.FlattenAll(exitCtx, "shutdown"); err != nil {
			logs.Errorf("flatten on exit: %v", err)
		}
	}
	logs.Info("trader stopped")
}

// feedCycles drives one decision cycle per input line.
func feedCycles(ctx context.Context, run *runner.Runner, path string, interval time.Duration) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in cycleInput
		if err := json.Unmarshal(line, &in); err != nil {
			logs.Errorf("skip malformed input line: %v", err)
			continue
		}
		record, err := run.Cycle(ctx, in.Bar, in.Features, in.Beliefs)
		if err != nil {
			return err
		}
		logs.Infof("cycle %s: %s %s", record.DecisionID, record.Action, record.Summary)

		if interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// serveOps exposes /metrics plus the audited kill-switch admin endpoints.
func serveOps(ctx context.Context, addr string, sup *exec.Supervisor) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/killswitch", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(string(sup.KillSwitch().State()) + "\n"))
	})
	mux.HandleFunc("/admin/killswitch/trip", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		reason := r.FormValue("reason")
		if reason == "" {
			reason = "manual trip"
		}
		sup.Trip(schema.ReasonKillSwitchActive, reason)
		_, _ = w.Write([]byte("tripped\n"))
	})
	mux.HandleFunc("/admin/killswitch/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		reason, operator := r.FormValue("reason"), r.FormValue("operator")
		if err := sup.ResetKillSwitch(r.Context(), reason, operator); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte("armed\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Errorf("ops server: %v", err)
	}
}
