package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/api"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/blob"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/llmgateway"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/logging"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/session"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("rpg runtime starting")

	ctx := context.Background()

	var store kv.Store
	redisStore, err := kv.NewRedisStore(cfg.KV)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	store = redisStore
	log.Info().Str("host", cfg.KV.Host).Msg("redis connected")

	blobStore, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("blob store init failed")
	}

	var gateway *llmgateway.Gateway
	if cfg.LLM.BaseURL != "" {
		gateway = llmgateway.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		log.Info().Str("model", cfg.LLM.Model).Msg("llm gateway configured")
	} else {
		log.Warn().Msg("no llm base url configured — sessions run in offline narration mode")
	}

	manager := session.New(cfg, log, store, blobStore, gateway)
	router := api.NewRouter(log, manager)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	manager.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("stopped gracefully")
	}
}
