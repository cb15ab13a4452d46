// Command trustd runs the trust engine API server and the daily anchoring
// scheduler.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/microai-dao/trustcore/pkg/anchor"
	"github.com/microai-dao/trustcore/pkg/api"
	"github.com/microai-dao/trustcore/pkg/attest"
	"github.com/microai-dao/trustcore/pkg/config"
	"github.com/microai-dao/trustcore/pkg/crypto"
	"github.com/microai-dao/trustcore/pkg/epi"
	"github.com/microai-dao/trustcore/pkg/guardian"
	"github.com/microai-dao/trustcore/pkg/observability"
	"github.com/microai-dao/trustcore/pkg/policy"
	"github.com/microai-dao/trustcore/pkg/store"
	"github.com/microai-dao/trustcore/pkg/trustlog"
	"github.com/microai-dao/trustcore/pkg/verify"
)

func main() {
	if err := run(); err != nil {
		slog.Error("trustd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}
	slog.Info("signing key ready", "key_id", signer.KeyID(), "public_key", signer.PublicKey())

	guardians := guardian.NewSystem(st, signer)
	for _, g := range cfg.File.Guardians {
		if err := guardians.AddGuardian(g); err != nil {
			return fmt.Errorf("load guardian roster: %w", err)
		}
	}

	calculator := epi.NewCalculator(cfg.EPIThreshold)
	logger := trustlog.NewLogger(st, signer, guardians, cfg.PolicyVersion)

	var rules *policy.Engine
	if len(cfg.File.Rules) > 0 {
		rules, err = policy.NewEngine(cfg.File.Rules)
		if err != nil {
			return err
		}
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "trustd",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       cfg.Environment == "development",
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	chains := cfg.File.Chains
	if len(chains) == 0 {
		chains = []string{"devchain"}
	}
	anchors := anchor.NewService(st, anchor.NewDevSubmitter(), chains)
	verifier := verify.NewVerifier(st)

	issuer := cfg.File.Issuer
	if issuer == "" {
		issuer = "trustcore"
	}
	attestor := attest.NewGenerator(signer, issuer)

	server, err := api.NewServer(api.Deps{
		EPI:       calculator,
		Log:       logger,
		Guardians: guardians,
		Anchors:   anchors,
		Verifier:  verifier,
		Attest:    attestor,
		Policy:    rules,
		Obs:       obs,
		Store:     st,
	})
	if err != nil {
		return err
	}

	scheduler := anchor.NewScheduler(anchors, cfg.File.Orgs)
	go scheduler.Run(ctx)

	handler := buildHandler(cfg, server)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("trustd listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// openStore selects the persistence backend: postgres or sqlite when a
// DATABASE_URL is configured, in-memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no DATABASE_URL configured, using in-memory store")
		return store.NewMemStore(), func() {}, nil
	}

	driver := cfg.DatabaseDrv
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}

	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	st := store.NewSQLStore(db)
	if err := st.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init schema: %w", err)
	}
	slog.Info("database ready", "driver", driver)
	return st, func() { _ = db.Close() }, nil
}

// buildSigner derives the org signing key from the configured master seed,
// or generates an ephemeral key for local development.
func buildSigner(cfg *config.Config) (*crypto.Ed25519Signer, error) {
	if cfg.MasterSeedHex == "" {
		slog.Warn("no MASTER_SEED configured, generating ephemeral signing key")
		return crypto.NewEd25519Signer("ephemeral")
	}
	seed, err := hex.DecodeString(cfg.MasterSeedHex)
	if err != nil {
		return nil, fmt.Errorf("decode MASTER_SEED: %w", err)
	}
	org := "platform"
	if len(cfg.File.Orgs) == 1 {
		org = cfg.File.Orgs[0]
	}
	return crypto.DeriveOrgSigner(seed, org)
}

// buildHandler layers middleware onto the API routes: rate limiting on the
// outside, then request ids, then idempotent replay.
func buildHandler(cfg *config.Config, server *api.Server) http.Handler {
	var idem api.IdempotencyStorer
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("invalid REDIS_URL, falling back to in-memory idempotency", "error", err)
			idem = api.NewIdempotencyStore(24 * time.Hour)
		} else {
			idem = api.NewRedisIdempotencyStore(redis.NewClient(opts), 24*time.Hour)
		}
	} else {
		idem = api.NewIdempotencyStore(24 * time.Hour)
	}

	handler := api.IdempotencyMiddleware(idem)(server.Routes())
	handler = api.RequestID(handler)
	handler = api.NewGlobalRateLimiter(100, 200).Middleware(handler)
	return handler
}
