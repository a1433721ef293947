/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition billing server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler and accrual scheduler
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags, each with an environment-variable fallback:
    -port            HTTP server port           (PORT, default: 8080)
    -db              SQLite database path       (DATABASE_PATH, default: tuition.db)
                     Use ":memory:" for in-memory database
    -zone            Billing timezone           (BILLING_ZONE, default: America/Recife)
    -run-hour        Local hour of accrual job  (ACCRUAL_RUN_HOUR, default: 9)
    -check-interval  Scheduler tick interval    (ACCRUAL_CHECK_INTERVAL, default: 10m)
    -no-scheduler    Disable the accrual scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the accrual scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/tuition.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run the accrual job at 07:00 Sao Paulo time
  ./server -zone="America/Sao_Paulo" -run-hour=7

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily accrual scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/newmusic/tuition-engine/api"
	"github.com/newmusic/tuition-engine/billing"
	"github.com/newmusic/tuition-engine/store/sqlite"
)

func main() {
	// .env is optional; flags override environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "tuition.db"), "SQLite database path")
	zone := flag.String("zone", envStr("BILLING_ZONE", billing.DefaultZone), "Billing timezone")
	runHour := flag.Int("run-hour", envInt("ACCRUAL_RUN_HOUR", billing.DefaultRunHour), "Local hour the accrual job fires")
	checkInterval := flag.Duration("check-interval", envDuration("ACCRUAL_CHECK_INTERVAL", 10*time.Minute), "Scheduler tick interval")
	noScheduler := flag.Bool("no-scheduler", false, "Disable the accrual scheduler")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and job schedule
	handler := api.NewHandler(store)

	loc, err := time.LoadLocation(*zone)
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", *zone, err)
	}
	handler.Service.Schedule = billing.JobSchedule{Location: loc, RunHour: *runHour}

	// Accrual scheduler
	scheduler := api.NewAccrualScheduler(handler.Service)
	scheduler.CheckInterval = *checkInterval
	scheduler.Enabled = !*noScheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
