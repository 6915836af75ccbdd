package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/component"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/heatmap"
	"github.com/banshee-data/presence.report/internal/monitor"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/security"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/version"
)

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Path to presence configuration JSON")
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyACM0", "Serial port to use (ignored in dev mode)")
	devMode       = flag.Bool("dev", false, "Replay fixture lines instead of opening the serial port")
	fixtures      = flag.String("fixtures", "fixtures/tof_frames.jsonl", "Fixture file replayed in dev mode")
	dbPath        = flag.String("db", "presence.db", "SQLite database path; empty disables persistence")
	plotDir       = flag.String("plot-dir", "", "Write presence timeline plots under this directory on shutdown")
	disableSerial = flag.Bool("disable-serial", false, "Run without a device; the API stays available")
	listPorts     = flag.Bool("list-ports", false, "List available serial ports and exit")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}

	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.LoadPresenceConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := checkComponent(cfg.GetComponent()); err != nil {
		log.Fatal(err)
	}

	engine, err := heatmap.NewEngine(cfg.EngineConfig(), nil)
	if err != nil {
		log.Fatalf("failed to create presence engine: %v", err)
	}

	var database *db.DB
	var sinks []heatmap.EventSink
	var sessionID string
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := restoreGeometry(engine, cfg, database); err != nil {
			log.Fatalf("failed to restore ROI configuration: %v", err)
		}
		sessionID, err = database.StartSession(cfg.GetComponent(), engine.Shape())
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		sinks = append(sinks, database.EventRecorder(sessionID))
	} else if skipped := applyConfigCells(engine, cfg); skipped > 0 {
		log.Printf("skipped %d roi_cells entries", skipped)
	}

	var plotter *monitor.PresencePlotter
	if *plotDir != "" {
		plotter = monitor.NewPresencePlotter()
		dir, err := security.RunDirectory(*plotDir, cfg.GetComponent(), time.Now().Format("20060102-150405"))
		if err != nil {
			log.Fatalf("invalid plot directory: %v", err)
		}
		if err := plotter.Start(dir); err != nil {
			log.Fatalf("failed to start plotter: %v", err)
		}
	}

	opts := presence.Options{Interval: cfg.GetEvaluateInterval(), Sinks: sinks}
	if plotter != nil {
		opts.Recorder = plotter
	}
	svc := presence.NewService(engine, opts)

	m, err := openSerial(cfg)
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer m.Close()

	if err := m.Initialise(cfg.StartCommands); err != nil {
		log.Fatalf("failed to initialise device: %v", err)
	}
	log.Printf("presence %s: component %q, %s grid, rotation %d°, evaluating every %s",
		version.Current(), cfg.GetComponent(), engine.Shape(), engine.Orientation().Degrees(), cfg.GetEvaluateInterval())

	// Create a wait group for the HTTP server, serial monitor, evaluation and consumer routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to the serial port lines and feed them to the engine
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		if err := svc.Consume(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("consumer stopped: %v", err)
		}
		log.Printf("subscribe routine terminated")
	}()

	// evaluation ticker
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("evaluation loop stopped: %v", err)
		}
		log.Printf("evaluation routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		var store api.Store
		if database != nil {
			store = database
		}
		mux := api.NewServer(svc, m, store).ServeMux()
		m.AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach db admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if plotter != nil {
		plotter.Stop()
		n, err := plotter.GeneratePlots()
		if err != nil {
			log.Printf("failed to generate plots: %v", err)
		} else {
			log.Printf("wrote %d plots to %s", n, plotter.OutputDir())
		}
	}
	if database != nil {
		if err := database.EndSession(sessionID); err != nil {
			log.Printf("failed to end session: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}

// checkComponent refuses components that do not produce distance frames.
func checkComponent(name string) error {
	d := component.Descriptor{Name: name, Type: component.Sensor}
	if !d.HasHeatmap() {
		return fmt.Errorf("component %q is a %s component; the presence engine needs a ranging sensor", name, component.Classify(d))
	}
	return nil
}

func openSerial(cfg *config.PresenceConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableSerial:
		log.Printf("serial disabled; running without a device")
		return serialmux.NewDisabledSerialMux(), nil
	case *devMode:
		lines, err := serialmux.LoadFixtureLines(*fixtures)
		if err != nil {
			return nil, err
		}
		log.Printf("dev mode: replaying %d lines from %s", len(lines), *fixtures)
		return serialmux.NewMockSerialMux(lines, cfg.GetEvaluateInterval()), nil
	default:
		return serialmux.NewRealSerialMux(*port, cfg.GetSerial())
	}
}

// applyConfigCells assigns the roi_cells listed in the config file and
// returns how many the engine rejected.
func applyConfigCells(e *heatmap.Engine, cfg *config.PresenceConfig) int {
	skipped := 0
	for _, rc := range cfg.ROICells {
		if _, err := e.ToggleCellMembership(rc.ROI, rc.Row, rc.Col); err != nil {
			skipped++
		}
	}
	return skipped
}

// restoreGeometry applies the config file's roi_cells only when the store
// holds none, then overlays whatever the store has saved.
func restoreGeometry(e *heatmap.Engine, cfg *config.PresenceConfig, database *db.DB) error {
	stored, err := database.LoadROICells()
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		if skipped := applyConfigCells(e, cfg); skipped > 0 {
			log.Printf("skipped %d roi_cells entries", skipped)
		}
	}
	skipped, err := database.ApplyTo(e)
	if err != nil {
		return err
	}
	if skipped > 0 {
		log.Printf("skipped %d stored ROI entries that do not fit the current grid", skipped)
	}
	return nil
}
