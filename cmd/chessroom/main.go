package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/bot"
	appcfg "github.com/blunderdome/chessroom/internal/config"
	"github.com/blunderdome/chessroom/internal/hub"
	"github.com/blunderdome/chessroom/internal/obslog"
	"github.com/blunderdome/chessroom/internal/ws"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	presets := bot.DefaultPresets()
	if cfg.BotPresetsDir != "" {
		if err := presets.ApplyDir(cfg.BotPresetsDir); err != nil {
			obslog.L().Fatal("presets_load_error", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			obslog.L().Fatal("redis_url_error", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			obslog.L().Warn("redis_unreachable", zap.Error(err))
		}
		cancel()
	}

	var remote *bot.RemoteOracle
	if cfg.OracleURL != "" {
		remote = bot.NewRemoteOracle(cfg.OracleURL, cfg.OracleTimeout, rdb)
		obslog.L().Info("move_oracle_enabled", zap.String("url", cfg.OracleURL))
	}
	engine := bot.NewEngine(presets, remote)

	h := hub.New(hub.Options{
		Engine:            engine,
		DefaultDifficulty: bot.ParseDifficulty(cfg.BotDifficulty),
		Grace:             cfg.DisconnectGrace,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(h))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("listen_error", zap.Error(err))
		}
	}()
	obslog.L().Info("server_listening", zap.String("addr", cfg.ListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(sctx)
	if rdb != nil {
		_ = rdb.Close()
	}
	obslog.L().Info("server_stopped")
}
