package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/lexiflow/doc-translator/internal/cache"
	"github.com/lexiflow/doc-translator/internal/config"
	"github.com/lexiflow/doc-translator/internal/extract"
	"github.com/lexiflow/doc-translator/internal/httpapi"
	"github.com/lexiflow/doc-translator/internal/jobs"
	"github.com/lexiflow/doc-translator/internal/ledger"
	"github.com/lexiflow/doc-translator/internal/llm"
	"github.com/lexiflow/doc-translator/internal/persistence"
	"github.com/lexiflow/doc-translator/internal/service"
	"github.com/lexiflow/doc-translator/internal/translate"
	"github.com/lexiflow/doc-translator/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Server.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.Server.DBPath)
	if err != nil {
		log.Fatal("Failed to open store: %v", err)
	}
	defer store.Close()

	client, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to build LLM client: %v", err)
	}

	extractor := extract.New(client, cache.New(512), cfg.Translate.CallTimeout, cfg.Translate.CharsPerPage)
	translator := translate.NewExecutor(client, cache.New(2048), cfg.Translate)
	coordinator := ledger.New(store, cfg.Translate.CharsPerPage)

	pool := jobs.NewPool(cfg.Worker.WorkerCount)
	pool.Start()

	svc := service.New(cfg, store, coordinator, extractor, translator, pool)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Worker.PurgeCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		svc.PurgeExpired(ctx)
	}); err != nil {
		log.Fatal("Failed to schedule purge: %v", err)
	}
	scheduler.Start()

	auth := httpapi.TokenAuthenticator(parseAPITokens(os.Getenv("API_TOKENS")))
	server := httpapi.NewServer(svc, auth, httpapi.WithMaxUpload(cfg.Translate.MaxFileSize))

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.Server.HTTPAddr)
		errCh <- server.ListenAndServe(cfg.Server.HTTPAddr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error("Pool shutdown: %v", err)
	}
}

// parseAPITokens reads "token:owner" pairs separated by commas, e.g.
// "s3cret:alice,t0ken:bob".
func parseAPITokens(raw string) map[string]string {
	ret := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, owner, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		token = strings.TrimSpace(token)
		owner = strings.TrimSpace(owner)
		if token != "" && owner != "" {
			ret[token] = owner
		}
	}
	return ret
}
