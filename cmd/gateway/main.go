// Command gateway runs the conversational-commerce HTTP gateway.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/config"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/gatewayhttp"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/llm"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/mcpclient"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/semanticindex"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/sessionactor"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/store"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// idleSessionCutoffMs is how long a session can sit without a new
// message before the background sweep archives and drops it.
const idleSessionCutoffMs = 30 * 60 * 1000

func main() {
	Init(DefaultConfig())

	cfg, err := config.Load()
	if err != nil {
		L_fatal("gateway: config load failed", "error", err)
	}

	archive, err := store.Open(cfg.SessionsDBPath)
	if err != nil {
		L_fatal("gateway: could not open session archive", "error", err)
	}
	defer archive.Close()

	primary := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	fallback := llm.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel)
	adapter := llm.NewAdapter(primary, fallback)

	var index *semanticindex.Index
	if cfg.VectorIndexPath != "" {
		index, err = semanticindex.Open(cfg.VectorIndexPath, adapter, cfg.TopK)
		if err != nil {
			L_warn("gateway: could not open semantic index, policy fallback disabled", "error", err)
		} else {
			defer index.Close()
		}
	}

	mcp := mcpclient.New(cfg.ShopDomain)

	sessions := sessionactor.NewManager(archive, cfg.MaxHistory, sessionactor.RateLimitConfig{
		WindowMs: cfg.RateLimitWindowMs,
		Max:      cfg.RateLimitMax,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", func() {
		sessions.Sweep(context.Background(), idleSessionCutoffMs)
	}); err != nil {
		L_warn("gateway: could not schedule session sweep", "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := gatewayhttp.New(cfg, sessions, mcp, index, adapter, archive)
	mux := http.NewServeMux()
	handler.Routes(mux)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming replies can run long
	}

	go func() {
		L_info("gateway: listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			L_fatal("gateway: server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	SetShuttingDown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		L_warn("gateway: graceful shutdown failed", "error", err)
	}
	L_info("gateway: shut down")
}
