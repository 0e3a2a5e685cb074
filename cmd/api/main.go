package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/llm"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/matching"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/profile"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store/memory"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store/postgres"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

func main() {
	// best-effort: without a .env file the real environment is used
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-identity-go")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}
	defer closeStore()

	semantic, closeSemantic := newSemantic(cfg, sugar)
	defer closeSemantic()

	normalizer := matching.NewNormalizer(cfg.PhoneRegion)
	orchestrator := matching.NewOrchestrator(st, normalizer, semantic, matching.Config{Policy: cfg.Policy}, sugar)

	handler := router.RegisterRoutes(sugar, router.Handlers{
		Profiles:   profile.NewHandler(profile.NewProfileService(st, orchestrator, normalizer, sugar), sugar),
		Candidates: candidate.NewHandler(candidate.NewCandidateService(st, 3, sugar), candidate.NewReviewerAuth(cfg.ReviewerJWTSecret), sugar),
		Matching:   matching.NewHandler(orchestrator, sugar),
	}, cfg.CORSOrigins)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	}
	db, err := database.ConnectX(database.ConfigFromEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	pg := postgres.New(db, logger)
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(schemaCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pg, func() { _ = db.Close() }, nil
}

// newSemantic wires the Ollama scorer, behind the Redis verdict cache when
// REDIS_ADDR is set. It returns nil when the semantic matcher is disabled.
func newSemantic(cfg config.Config, logger *zap.SugaredLogger) (*matching.SemanticMatcher, func()) {
	if !cfg.SemanticEnabled {
		logger.Info("semantic matcher disabled")
		return nil, func() {}
	}
	ollama := llm.NewOllamaScorer(cfg.OllamaURL, cfg.OllamaModel, cfg.SemanticTimeout, logger)
	logger.Infow("semantic matcher enabled", "url", cfg.OllamaURL, "model", ollama.Model())
	var scorer matching.Scorer = ollama
	closeFn := func() {}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		// verdicts of one model must not answer for another
		scorer = llm.NewCachedScorer(scorer, llm.NewRedisCache(rdb, ""), cfg.CacheTTL, ollama.Model(), logger)
		closeFn = func() { _ = rdb.Close() }
		logger.Infow("semantic verdict cache enabled", "redis", cfg.RedisAddr)
	}
	return matching.NewSemanticMatcher(scorer, matching.SemanticConfig{
		Timeout:     cfg.SemanticTimeout,
		Concurrency: cfg.SemanticConcurrency,
	}, cfg.Policy, logger), closeFn
}
