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

	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/dispatch"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/rabbitmq"
	"github.com/AVVKavvk/livekit-caller/redisClient"
	"go.uber.org/zap"
)

const usage = "usage: livekit-caller [server|agent]"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Development); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "server"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "server":
		err = runServer(ctx, cfg)
	case "agent":
		err = runAgent(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Base().Error("exiting", zap.String("command", cmd), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log := logger.Base()

	rc, err := redisClient.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rc.Close()

	broker, err := rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer broker.Close()
	if broker != nil && rc.Enabled() {
		go func() {
			if err := rabbitmq.Consume(ctx, broker, rc); err != nil && ctx.Err() == nil {
				log.Error("live transcript consumer stopped", zap.Error(err))
			}
		}()
	}

	if !cfg.HasLiveKitCredentials() {
		log.Warn("LiveKit credentials missing, calls will fail until they are set")
	}
	s := newServer(cfg, dispatch.NewFromConfig(cfg), rc)
	e := s.routes()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ServerAddr))
		errCh <- e.Start(cfg.ServerAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down http server")
	return e.Shutdown(shutdownCtx)
}
