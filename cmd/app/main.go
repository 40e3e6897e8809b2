package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aichat/internal/config"
	"aichat/internal/httpserver"
	"aichat/internal/llm"
	"aichat/internal/preset"
	"aichat/internal/stats"
	"aichat/internal/transport"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := transport.NewHTTPClient(cfg.HTTPClientTimeout)
	normalizer := llm.NewNormalizer(cfg.TokenExpiredPatterns)
	dispatcher := llm.NewDispatcher(httpClient, normalizer, cfg.ChatTimeout, logger)

	registry := llm.NewRegistry()
	fileStore, err := llm.NewFileStore(cfg.ConfigStorePath, logger)
	if err != nil {
		log.Fatalf("failed to init config store: %v", err)
	}
	snap, found, err := fileStore.Load()
	if err != nil {
		log.Fatalf("failed to load provider config: %v", err)
	}
	if !found {
		snap = llm.BuiltinSnapshot()
		if err := fileStore.Save(snap); err != nil {
			logger.Warn("seed provider config failed", slog.String("error", err.Error()))
		}
	}
	if err := registry.LoadSnapshot(snap); err != nil {
		log.Fatalf("failed to apply provider config: %v", err)
	}

	// Мутации через API уходят в файл, а внешние правки файла — обратно
	// в реестр. Цикла нет: LoadSnapshot наблюдателей не зовёт.
	registry.OnChange(func(snap llm.Snapshot) {
		if err := fileStore.Save(snap); err != nil {
			logger.Error("persist provider config failed", slog.String("error", err.Error()))
		}
	})
	if err := fileStore.Watch(ctx, 500*time.Millisecond, func(snap llm.Snapshot) {
		if err := registry.LoadSnapshot(snap); err != nil {
			logger.Warn("reload provider config failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("provider config reloaded", slog.String("active", snap.Active))
	}); err != nil {
		logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	}

	sessions := llm.NewSessionStore(cfg.SessionTTL, func() *llm.Conversation {
		return llm.NewConversation(dispatcher, registry, logger)
	})
	go janitor(ctx, sessions, logger)

	presets, err := preset.NewManager(cfg.PresetsDir)
	if err != nil {
		log.Fatalf("failed to init presets: %v", err)
	}

	statsStore, err := stats.Open(cfg.StatsDBPath)
	if err != nil {
		log.Fatalf("failed to open stats db: %v", err)
	}
	defer statsStore.Close()

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Logger: logger,
		API: &httpserver.ChatAPI{
			Sessions: sessions,
			Registry: registry,
			Presets:  presets,
			Stats:    statsStore,
			Logger:   logger,
			Persist:  fileStore.Save,
		},
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// janitor периодически зачищает истёкшие сессии.
func janitor(ctx context.Context, sessions *llm.SessionStore, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sessions.ClearExpired(now); n > 0 {
				logger.Info("expired sessions cleared", slog.Int("count", n))
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
