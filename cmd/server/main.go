package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/suPer8Hu/aether/internal/ai"
	"github.com/suPer8Hu/aether/internal/chat"
	"github.com/suPer8Hu/aether/internal/config"
	"github.com/suPer8Hu/aether/internal/db"
	"github.com/suPer8Hu/aether/internal/httpapi"
	"github.com/suPer8Hu/aether/internal/httpapi/handlers"
	"github.com/suPer8Hu/aether/internal/store/rabbitmq"
	"github.com/suPer8Hu/aether/internal/store/redisstore"
	"github.com/suPer8Hu/aether/internal/worker"
)

func newBackendRegistry(cfg config.Config) *ai.Registry {
	sampling := ai.Sampling{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}

	reg := ai.NewRegistry()
	reg.Register("gemini", func(ctx context.Context, model string) (chat.Backend, error) {
		return ai.NewGeminiBackend(ctx, cfg.GeminiAPIKey, model, sampling)
	})
	reg.Register("ollama", func(_ context.Context, model string) (chat.Backend, error) {
		return ai.NewStatelessBackend(ai.NewOllamaProvider(cfg.OllamaBaseURL, model, sampling)), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (chat.Backend, error) {
		return ai.NewStatelessBackend(ai.NewOpenRouterProvider(
			cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName, sampling,
		)), nil
	})
	return reg
}

func modelFor(cfg config.Config) string {
	switch strings.ToLower(cfg.AIProvider) {
	case "ollama":
		return cfg.OllamaModel
	case "openrouter":
		return cfg.OpenRouterModel
	default:
		return cfg.GeminiModel
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackendRegistry(cfg).Get(ctx, cfg.AIProvider, modelFor(cfg))
	if err != nil {
		log.Fatalf("backend: %v", err)
	}

	prefix := chat.DefaultPrefix()
	if cfg.PersonaFile != "" {
		if prefix, err = chat.LoadPrefix(cfg.PersonaFile); err != nil {
			log.Fatalf("persona: %v", err)
		}
	}

	sessions, err := chat.NewRegistry(backend, chat.SessionOptions{
		Prefix: prefix,
		Policy: chat.Policy{
			Kind:       cfg.HistoryPolicy,
			MaxHistory: cfg.MaxHistory,
			Summarizer: backend,
		},
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}
	if _, err := sessions.GetOrCreate(ctx, chat.DefaultSessionID); err != nil {
		log.Fatalf("default session: %v", err)
	}

	h := handlers.NewHandler(sessions)

	idle := make(chan struct{})
	close(idle)
	var poolDone <-chan struct{} = idle
	if cfg.AsyncEnabled() {
		poolDone = startAsync(ctx, cfg, sessions, h)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server listening addr=%s provider=%s policy=%s max_history=%d async=%t",
			cfg.HTTPAddr, cfg.AIProvider, cfg.HistoryPolicy, cfg.MaxHistory, cfg.AsyncEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	<-poolDone
}

// startAsync wires the job table, queue and worker pool. The returned
// channel closes once the pool has drained.
func startAsync(ctx context.Context, cfg config.Config, sessions *chat.Registry, h *handlers.Handler) <-chan struct{} {
	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)
	if err := repo.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("rabbit consumer: %v", err)
	}
	deliveries, err := consumer.Deliveries()
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	var idem handlers.IdempotencyStore
	var rds *redisstore.Store
	if cfg.RedisAddr != "" {
		rds = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IdempotencyTTL)
		if err := rds.Ping(ctx); err != nil {
			log.Fatalf("redis: %v", err)
		}
		idem = rds
	}

	h.WithAsync(repo, pub, idem)

	pool := &worker.Pool{
		Concurrency: cfg.WorkerConcurrency,
		Handle:      worker.NewRunner(repo, sessions).Handle,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("worker pool started, queue=%s concurrency=%d", cfg.RabbitQueue, cfg.WorkerConcurrency)
		pool.Run(ctx, deliveries)
		_ = consumer.Close()
		_ = pub.Close()
		if rds != nil {
			_ = rds.Close()
		}
	}()
	return done
}
