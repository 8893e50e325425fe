package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/api"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/artifacts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/audit"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/config"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/identity"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/keystore"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/ledger"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/observability"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/oversight"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/policy"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/quorum"
)

//nolint:gocognit,gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%sDRP core starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Keys first: everything downstream signs or verifies.
	ks, err := keystore.New(cfg.KeystoreDir, keystore.WithDevSecret(cfg.DevSeed))
	if err != nil {
		log.Fatalf("Failed to open keystore: %v", err)
	}

	chain := audit.NewChain().WithLogger(logger)

	committee, err := quorum.New(quorum.Config{N: cfg.ElderCount, M: cfg.QuorumM}, ks,
		quorum.WithLogger(logger), quorum.WithAudit(chain))
	if err != nil {
		log.Fatalf("Failed to init elder committee: %v", err)
	}
	log.Printf("[drp] committee: %d elders, quorum %d", cfg.ElderCount, cfg.QuorumM)

	// Decision store (Infrastructure)
	var (
		db    *sql.DB
		store ledger.Store
	)
	if cfg.LiteMode() {
		fmt.Fprintf(os.Stdout, "ℹ️  STORE_HOST not set. Falling back to %sLite Mode%s (SQLite).\n", ColorBold+ColorCyan, ColorReset)
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			log.Fatalf("Failed to create data dir: %v", err)
		}
		db, err = sql.Open("sqlite", filepath.Join(cfg.DataDir, "drp.db"))
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		store = ledger.NewSQLiteStore(db)
	} else {
		db, err = sql.Open("postgres", cfg.StoreDSN())
		if err != nil {
			log.Fatalf("Failed to connect to store: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Store ping failed: %v", err)
		}
		log.Println("[drp] postgres: connected")
		store = ledger.NewPostgresStore(db)
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("Failed to init decision store: %v", err)
	}

	// Operator identity signs every ledger record.
	operator, err := ks.LoadOrCreateOperator()
	if err != nil {
		log.Fatalf("Failed to init operator signer: %v", err)
	}
	fmt.Fprintf(os.Stdout, "🔑 Trust Root: %s%s%s\n", ColorBold+ColorGreen,
		base64.StdEncoding.EncodeToString(operator.Public()), ColorReset)

	// Artifact store + pinner
	artStore, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to init artifact store: %v", err)
	}
	pinOpts := []artifacts.PinnerOption{artifacts.WithPinLogger(logger)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[drp] redis unreachable, pin rate limiting is process-local: %v", err)
		} else {
			pinOpts = append(pinOpts, artifacts.WithRedis(rdb))
			log.Println("[drp] redis: connected")
		}
	}
	pinner := artifacts.NewPinner(artStore, pinOpts...)

	led := ledger.New(store, operator,
		ledger.WithPinner(pinner), ledger.WithLogger(logger), ledger.WithAudit(chain))

	// Policy engine, optionally from a profile file.
	var polOpts []policy.Option
	if cfg.PolicyProfile != "" {
		prof, err := policy.LoadProfile(cfg.PolicyProfile)
		if err != nil {
			log.Fatalf("Failed to load policy profile: %v", err)
		}
		polOpts = append(polOpts, policy.WithProfile(prof))
		log.Printf("[drp] policy profile: %s", cfg.PolicyProfile)
	}
	engine, err := policy.New(polOpts...)
	if err != nil {
		log.Fatalf("Failed to init policy engine: %v", err)
	}

	// Reviewer tokens
	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		log.Fatalf("Failed to init keyset: %v", err)
	}
	tokens := identity.NewTokenManager(keySet)

	board := oversight.NewManager(
		oversight.WithStore(store),
		oversight.WithAudit(chain),
		oversight.WithDecisionCheck(func(ctx context.Context, decisionID string) error {
			_, err := led.GetDecision(ctx, decisionID)
			return err
		}),
	)

	// Telemetry is best effort; the core runs dark if the collector is away.
	provider, err := observability.New(ctx, observability.FromEnv(cfg.OTELEndpoint, cfg.Environment))
	if err != nil {
		log.Printf("Telemetry init (non-fatal, degraded mode): %v", err)
		provider = nil
	}

	srv := api.NewServer(api.Deps{
		Quorum:   committee,
		Policy:   engine,
		Ledger:   led,
		Disputes: board,
		Tokens:   tokens,
		Chain:    chain,
		Logger:   logger,
		LiteMode: cfg.LiteMode(),
	})
	limiter := api.NewGlobalRateLimiter(10, 20)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[drp] ready: http://localhost%s", cfg.ListenAddr)
		log.Println("[drp] press ctrl+c to stop")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[drp] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[drp] shutdown: %v", err)
	}
	if provider != nil {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Printf("[drp] telemetry shutdown: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		log.Printf("[drp] store close: %v", err)
	}
}
