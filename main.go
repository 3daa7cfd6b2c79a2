package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driveline-data/driveline/internal/api"
	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/db"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/session"
	"github.com/driveline-data/driveline/internal/telemetry"
	"github.com/driveline-data/driveline/internal/units"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "driveline.db", "SQLite database path")
	migrationsDir = flag.String("migrations", "", "Migrations directory (optional; schema is created inline when empty)")
	tuningFile    = flag.String("config", "", "Tuning config JSON (optional)")
	profilesFile  = flag.String("profiles", "", "Mode profile overrides JSON (optional)")
	speedUnits    = flag.String("units", units.KMPH, "Speed units for API responses (kmph, kph, mps, mph)")
	startMode     = flag.String("mode", "", "Create and start a session in this driving mode at boot")
	seed          = flag.Int64("seed", 0, "Random seed for the boot session (0 = time-seeded)")
)

// Main
func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("Invalid units %q (valid: %s)", *speedUnits, units.GetValidUnitsString())
	}

	cfg := config.EmptyTuningConfig()
	if loaded, err := config.LoadTuningConfig(config.DefaultConfigPath); err == nil {
		cfg = loaded
	}
	if *tuningFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}
	if *profilesFile != "" {
		if err := modes.LoadOverrides(*profilesFile); err != nil {
			log.Fatalf("Failed to load mode profiles: %v", err)
		}
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if *migrationsDir != "" {
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	manager := session.NewManager(nil, cfg)
	server := api.NewServer(manager, database, cfg, *speedUnits)

	// Create a wait group for the HTTP server and boot-session routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// optionally boot a session immediately so the simulator produces data
	// without an API round trip
	if *startMode != "" {
		sess := manager.Create(*startMode, *seed)
		rec, err := database.Record(sess, cfg.GetPersistenceBatchSize())
		if err != nil {
			log.Printf("failed to attach recorder for boot session: %v", err)
		} else {
			defer rec.Close()
		}
		if err := sess.Start(); err != nil {
			log.Fatalf("failed to start boot session: %v", err)
		}
		log.Printf("boot session %s running in %s mode", sess.ID, sess.Mode().ID)

		// log telemetry samples from the boot session at a low rate
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, c := sess.SubscribeTelemetry()
			defer sess.UnsubscribeTelemetry(id)
			var last time.Time
			for {
				select {
				case rec := <-c:
					if rec.Timestamp.Sub(last) < 5*time.Second {
						continue
					}
					last = rec.Timestamp
					logSample(rec)
				case <-ctx.Done():
					log.Printf("boot session log routine terminated")
					return
				}
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		database.AttachAdminRoutes(mux)

		// mount the API handlers
		apiMux := server.ServeMux()
		mux.Handle("/api/", apiMux)

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// stop sessions and flush recorders before the database closes
	manager.StopAll()
	server.Close()
	log.Printf("Graceful shutdown complete")
}

func logSample(rec telemetry.Record) {
	log.Printf(
		"tick=%d mode=%s speed=%.1fkm/h accel=%.2fm/s² soc=%.1f%% range=%.0fkm",
		rec.Tick, rec.ModeID, rec.Speed, rec.Acceleration, rec.Battery.Level, rec.RangeKM,
	)
}
