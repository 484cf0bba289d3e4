package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"monworld.ai/internal/persistence/builddb"
	persistlog "monworld.ai/internal/persistence/log"
	"monworld.ai/internal/protocol"
	"monworld.ai/internal/sim/catalogs"
	"monworld.ai/internal/sim/economy"
	"monworld.ai/internal/sim/engine"
	"monworld.ai/internal/sim/presence"
	"monworld.ai/internal/sim/tuning"
	"monworld.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "run on in-memory stores (state lost on exit)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	if len(cats.Blueprints.ByName) == 0 {
		logger.Printf("warning: no blueprint templates loaded from %s", *configDir)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	var (
		plans  engine.PlanStore
		prims  engine.PrimitiveStore
		placer engine.Placer
		ledger economy.Ledger
	)
	if *disableDB {
		mem := engine.NewMemoryWorld(economy.NewMemoryLedger(tune.StartingCredits))
		plans = engine.NewMemoryPlanStore()
		prims = mem
		placer = mem
		ledger = mem.Ledger
	} else {
		db, err := builddb.Open(filepath.Join(*dataDir, "build.db"), tune.StartingCredits)
		if err != nil {
			logger.Fatalf("open build db: %v", err)
		}
		defer db.Close()
		plans, prims, placer, ledger = db, db, db, db
	}

	buildLog := persistlog.NewBuildLogger(*dataDir)
	defer buildLog.Close()

	broadcast := &deferredSink{}
	reg := presence.NewRegistry()

	eng, err := engine.New(engine.Config{
		Catalogs:   cats,
		Tuning:     tune,
		Plans:      plans,
		Primitives: prims,
		Placer:     placer,
		Ledger:     ledger,
		Locator:    reg,
		Sink:       engine.MultiSink{buildLog, broadcast},
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	wsrv := ws.NewServer(eng, reg, func(actorID string) protocol.WelcomeMsg {
		return protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ActorID:         actorID,
			BuildParams: protocol.BuildParams{
				BatchSize:  tune.BatchSize,
				SiteRadius: tune.SiteRadius,
				PieceCost:  tune.PieceCost,
			},
			Catalogs: protocol.CatalogDigests{
				BlueprintsDigest: cats.Blueprints.Digest,
				BlueprintCount:   len(cats.Blueprints.ByName),
			},
		}
	}, logger)
	broadcast.set(wsrv)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsrv.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s (blueprints=%d)", *addr, len(cats.Blueprints.ByName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// deferredSink breaks the construction cycle between the engine (which
// needs a sink) and the ws server (which needs the engine).
type deferredSink struct {
	mu sync.Mutex
	s  engine.EventSink
}

func (d *deferredSink) set(s engine.EventSink) {
	d.mu.Lock()
	d.s = s
	d.mu.Unlock()
}

func (d *deferredSink) BuildProgress(rec engine.ProgressRecord) {
	d.mu.Lock()
	s := d.s
	d.mu.Unlock()
	if s != nil {
		s.BuildProgress(rec)
	}
}

func (d *deferredSink) PiecePlaced(rec engine.PlacementRecord) {
	d.mu.Lock()
	s := d.s
	d.mu.Unlock()
	if s != nil {
		s.PiecePlaced(rec)
	}
}
