package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/fleet/internal/agentclient"
	"github.com/edvin/fleet/internal/api"
	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/config"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/crypto"
	"github.com/edvin/fleet/internal/db"
	"github.com/edvin/fleet/internal/logging"
	"github.com/edvin/fleet/internal/metrics"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "create-operator":
			createOperator(os.Args[2:])
			return
		case "create-api-key":
			createAPIKey(os.Args[2:])
			return
		case "gen-seal-key":
			genSealKey()
			return
		}
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting (also enabled by AUTO_MIGRATE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag || cfg.AutoMigrate {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	sealer, err := newSealer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load token seal key")
	}

	services := core.NewServices(pool, core.Options{
		Sealer:                  sealer,
		Agent:                   agentclient.NewClient(cfg.AgentPort, cfg.DispatchTimeout),
		SessionSecret:           []byte(cfg.SessionSecret),
		SessionTTL:              cfg.SessionTTL,
		StrictCallbackOwnership: cfg.StrictCallbackOwnership,
	})
	auditLogger := mw.NewAuditLogger(pool, logger)
	defer auditLogger.Close()

	srv := api.NewServer(logger, pool, services, auditLogger, cfg)

	// Dispatch blocks on the agent for up to DispatchTimeout, so the write
	// timeout leaves room for it.
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DispatchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	servers := []*http.Server{httpServer}
	if cfg.MetricsListenAddr != "" {
		servers = append(servers, metrics.NewServer(cfg.MetricsListenAddr))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			logger.Info().Str("addr", s.Addr).Msg("starting HTTP server")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Str("addr", s.Addr).Msg("shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server failed")
		auditLogger.Close()
		pool.Close()
		os.Exit(1)
	}
}

// newSealer loads TOKEN_SEAL_KEY. In dev mode a missing key is replaced by
// an ephemeral one, which makes tokens of previously registered nodes
// unusable for dispatch after a restart.
func newSealer(cfg *config.Config, logger zerolog.Logger) (*crypto.Sealer, error) {
	key := cfg.TokenSealKey
	if key == "" {
		generated, err := crypto.GenerateSealKey()
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("TOKEN_SEAL_KEY not set, using an ephemeral key; nodes must re-register after restart")
		key = generated
	}
	return crypto.NewSealer(key)
}

func genSealKey() {
	key, err := crypto.GenerateSealKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key)
}

func createOperator(args []string) {
	fs := flag.NewFlagSet("create-operator", flag.ExitOnError)
	username := fs.String("username", "", "Operator username (required)")
	password := fs.String("password", "", "Operator password (required)")
	admin := fs.Bool("admin", false, "Grant administrator role")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "error: --username and --password are required")
		fmt.Fprintln(os.Stderr, "usage: fleet-api create-operator --username <name> --password <password> [--admin]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewOperatorService(pool, []byte(cfg.SessionSecret), cfg.SessionTTL)
	op, err := svc.Create(ctx, *username, *password, *admin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create operator: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Operator created successfully.\n\n")
	fmt.Printf("  Username: %s\n", op.Username)
	fmt.Printf("  ID:       %s\n", op.ID)
	fmt.Printf("  Admin:    %t\n", op.IsAdmin)
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: fleet-api create-api-key --name <name>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewAPIKeyService(pool)
	key, rawKey, err := svc.Create(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key. It will not be shown again.\n")
}
