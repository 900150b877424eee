// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/chatclient"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/config"
	"github.com/rapidaai/streamgateway/internal/connectors"
	"github.com/rapidaai/streamgateway/internal/gateway"
	"github.com/rapidaai/streamgateway/internal/insight"
	"github.com/rapidaai/streamgateway/internal/protocol"
	"github.com/rapidaai/streamgateway/internal/session"
	"github.com/rapidaai/streamgateway/internal/workerclient"
	"github.com/rapidaai/streamgateway/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := commons.New(commons.Options{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
		FilePath:    cfg.LogFilePath,
	})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisConn, err := connectors.NewRedisConnector(ctx, cfg)
	if err != nil {
		logger.Fatalf("connect redis: %v", err)
	}
	defer redisConn.Close()

	bindingStore := binding.New(redisConn)

	worker := workerclient.New(workerclient.Options{
		Addrs:         cfg.WorkerAddrs(),
		Retries:       cfg.WorkerRetries,
		BackoffBaseMs: cfg.WorkerBackoffBaseMs,
	}, logger)
	worker.SetStore(bindingStore)

	backends := insight.Backends{
		Fast:        chatclient.NewOpenAIBackend(cfg.ChatFastBaseURL, cfg.ChatFastAPIKey, cfg.ChatFastModel, chatclient.BackendFast),
		Balanced:    chatclient.NewOpenAIBackend(cfg.ChatBalancedBaseURL, cfg.ChatBalancedAPIKey, cfg.ChatBalancedModel, chatclient.BackendBalanced),
		HighContext: chatclient.NewAnthropicBackend(cfg.ChatHighContextAPIKey, cfg.ChatHighContextModel),
	}

	registry := session.NewRegistry()

	// onInsight/onError route a process-wide worker pool's results back to
	// whichever session is still live; a registry miss just means the
	// session already closed and drained, so the result is silently
	// dropped rather than delivered nowhere.
	onInsight := func(sessionID string, out *chatclient.InsightOutput, model string) {
		s, ok := registry.Get(sessionID)
		if !ok {
			return
		}
		s.Emit(protocol.NewInsightEvent(out.Type, out.Text, out.Confidence, model, utils.NowUTC().Format(time.RFC3339)))
	}
	onError := func(sessionID string, code, message string) {
		s, ok := registry.Get(sessionID)
		if !ok {
			return
		}
		s.Emit(protocol.NewErrorEvent(code, message))
	}

	insightMgr := insight.New(insight.Config{
		MinTokens:         cfg.InsightMinTokens,
		MinInterval:       cfg.InsightMinInterval(),
		RetainTokens:      cfg.InsightRetainTokens,
		WorkerConcurrency: cfg.InsightWorkerConcurrency,
		QueueMaxSize:      cfg.InsightQueueMaxSize,
		PerTenantMax:      int64(cfg.InsightPerTenantMax),
		FlushTimeout:      cfg.InsightFlushTimeout(),
		Thresholds: chatclient.Thresholds{
			FastMaxTokens:     cfg.LLMRouteFastMaxTokens,
			BalancedMaxTokens: cfg.LLMRouteBalancedMaxTokens,
			RejectTokens:      cfg.LLMRouteRejectTokens,
		},
	}, backends, logger, onInsight, onError)
	insightMgr.Start(ctx)

	srv := gateway.NewServer(gateway.Collaborators{
		Cfg:      cfg,
		Logger:   logger,
		Worker:   worker,
		Insight:  insightMgr,
		Binding:  bindingStore,
		Registry: registry,
		Redis:    redisConn,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, draining")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("http server shutdown", "err", err)
		}
	}()

	logger.Infow("streamgateway listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}
