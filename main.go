package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/junction.report/internal/bridge"
	"github.com/banshee-data/junction.report/internal/config"
	"github.com/banshee-data/junction.report/internal/control"
	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/eventlog"
	"github.com/banshee-data/junction.report/internal/ingest"
	"github.com/banshee-data/junction.report/internal/monitor"
	"github.com/banshee-data/junction.report/internal/synthetic"
	"github.com/banshee-data/junction.report/internal/timeutil"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address for the monitor API")
	udpListen  = flag.String("udp-listen", ":9200", "UDP listen address for tracker batches")
	mockMode   = flag.Bool("mock", false, "Run on synthetic counts instead of the tracker feed")
	zonesPath  = flag.String("zones", "config/zones.example.json", "Path to the zones definition file")
	phasesPath = flag.String("phases", "config/phases.example.json", "Path to the phases definition file")
	configPath = flag.String("config", "", "Path to a tuning config JSON file (optional)")
	dbPath     = flag.String("db", "junction.db", "Path to the transition event log database (empty disables)")
)

func main() {
	flag.Parse()

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	ic, err := config.LoadIntersection(*zonesPath, *phasesPath)
	if err != nil {
		log.Fatalf("Failed to load intersection config: %v", err)
	}
	log.Printf("Loaded %d zones, %d phases", len(ic.Zones), len(ic.Phases))

	clock := timeutil.RealClock{}
	br := bridge.New(cfg.GetStalenessThreshold(), clock)

	zoneIDs := make([]string, len(ic.Zones))
	for i, z := range ic.Zones {
		zoneIDs[i] = z.ID
	}

	ctrl := control.NewController(ic, cfg, clock)

	var store *eventlog.Store
	if *dbPath != "" {
		store, err = eventlog.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open event log: %v", err)
		}
		defer store.Close()
		ctrl.OnTransition = func(tr control.Transition) {
			if err := store.RecordTransition(tr); err != nil {
				log.Printf("Failed to record transition: %v", err)
			}
		}
	}

	// The synthetic generator serves as the primary source in mock mode,
	// otherwise as the fallback while the live feed is stale. Never both:
	// NextSnapshot is not safe for two callers.
	gen := synthetic.NewGenerator(zoneIDs, cfg.GetMockInterval(), cfg.GetMockSeed(), clock)
	var fallback control.FallbackSource
	if !*mockMode {
		fallback = gen
	}
	loop := control.NewLoop(br, ctrl, fallback, cfg, clock)

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Loop:    loop,
		Reader:  br,
		Store:   store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if *mockMode {
		log.Printf("Running on synthetic counts (seed %d)", cfg.GetMockSeed())
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen.Run(ctx, br)
		}()
	} else {
		counter := counts.NewZoneCounter(ic.Zones, cfg.GetInactivityTimeout(), clock)
		listener := ingest.NewListener(ingest.ListenerConfig{
			Address:   *udpListen,
			Counter:   counter,
			Publisher: br,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Tracker listener stopped: %v", err)
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("Web server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	wg.Wait()
}
