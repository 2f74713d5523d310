// Command providerhubd runs the data-provider hub: the wire-protocol
// server, its admin HTTP collaborator, and the provider registry backing
// both.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/provhub/hub/pkg/api"
	"github.com/provhub/hub/pkg/authtoken"
	"github.com/provhub/hub/pkg/config"
	"github.com/provhub/hub/pkg/entitystore"
	"github.com/provhub/hub/pkg/nativeadapters"
	"github.com/provhub/hub/pkg/ratelimit"
	"github.com/provhub/hub/pkg/registry"
	"github.com/provhub/hub/pkg/wire"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub the blocking server loop.
var startServer = runServer

// Run dispatches the subcommand and returns the process exit code, keeping
// main itself a one-liner so the dispatcher stays testable.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer(stdout, stderr)
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer(stdout, stderr)
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if len(args[1]) > 0 && args[1][0] == '-' {
			startServer(stdout, stderr)
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "providerhubd - data-provider cache-and-stitch hub")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  providerhubd <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server   Run the hub (default)")
	fmt.Fprintln(w, "  health   Check admin HTTP health endpoint")
	fmt.Fprintln(w, "  help     Show this help")
	fmt.Fprintln(w, "")
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get("http://localhost" + cfg.AdminAddr + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

// runServer wires every component leaves-first (entity store, registry,
// stitch-capable adapters, authenticator, rate limiter, wire processor)
// then runs the wire listener and the admin HTTP listener side by side
// until a shutdown signal arrives.
func runServer(stdout, stderr io.Writer) {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, authenticator, closeDB, err := setupStorage(ctx, cfg)
	if err != nil {
		logger.Error("storage setup failed", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	reg := registry.NewInMemoryRegistry()

	quoteBaseURL := os.Getenv("STOCK_PRICE_API_URL")
	if quoteBaseURL == "" {
		quoteBaseURL = "https://quotes.internal.example"
	}
	if err := reg.Register(nativeadapters.StockPriceSource, nativeadapters.NewStockPriceAdapter(store, quoteBaseURL)); err != nil {
		logger.Error("register stock_price adapter failed", "error", err)
		os.Exit(1)
	}
	if err := reg.Register(nativeadapters.FilingSource, nativeadapters.NewFilingAdapter(store)); err != nil {
		logger.Error("register regulatory_filing adapter failed", "error", err)
		os.Exit(1)
	}
	logger.Info("registry ready", "providers", reg.List())

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		limiter = ratelimit.NewRedisLimiter(cfg.RedisAddr, 20, 40)
		logger.Info("rate limiter: redis", "addr", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewInProcessLimiter(20, 40)
		logger.Info("rate limiter: in-process")
	}

	processor := &wire.Processor{
		Registry:      reg,
		Authenticator: authenticator,
		AuthEnabled:   cfg.AuthEnabled,
		RateLimiter:   limiter,
		Now:           time.Now,
	}

	wireServer := &wire.Server{
		Addr:      cfg.WireAddr,
		Processor: processor,
		Logger:    logger,
		MaxConns:  256,
	}

	go func() {
		if err := wireServer.ListenAndServe(ctx); err != nil {
			logger.Error("wire server stopped", "error", err)
		}
	}()

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: buildAdminMux(reg),
	}
	go func() {
		logger.Info("admin http listening", "addr", cfg.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server stopped", "error", err)
		}
	}()

	logger.Info("providerhubd ready", "wire_addr", cfg.WireAddr, "admin_addr", cfg.AdminAddr)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(shutdownCtx)
	_ = wireServer.Close()
}

// buildAdminMux serves the admin HTTP collaborator's minimal in-core
// surface: a health check and a read-only provider listing. The full admin
// UI (project/role management, plugin editing) lives in an external
// collaborator, not this binary.
func buildAdminMux(reg registry.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/providers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			api.WriteMethodNotAllowed(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.List())
	})
	return api.WithTraceID(mux)
}

// setupStorage opens the entity store and a matching authenticator: a
// Postgres-backed table authenticator when DATABASE_URL is set, otherwise
// the lite-mode SQLite store paired with an in-process authenticator.
func setupStorage(ctx context.Context, cfg *config.Config) (entitystore.Store, authtoken.Authenticator, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, func() {}, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, func() {}, fmt.Errorf("ping postgres: %w", err)
		}

		store := entitystore.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, func() {}, fmt.Errorf("init entity store: %w", err)
		}

		authenticator, err := authtoken.NewTableAuthenticator(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, func() {}, fmt.Errorf("init authenticator: %w", err)
		}

		return store, authenticator, func() { _ = db.Close() }, nil
	}

	store, err := setupLiteMode(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, func() {}, err
	}

	authenticator := authtoken.NewInMemoryAuthenticator()
	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		authenticator.Provision(token, authtoken.Identity{Subject: "admin"}, time.Time{})
	}

	return store, authenticator, func() { _ = store.Close() }, nil
}
