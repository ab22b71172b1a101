package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/db"
	"github.com/juanvelozo/gaston-server/internal/events"
	"github.com/juanvelozo/gaston-server/internal/hash"
	"github.com/juanvelozo/gaston-server/internal/httpserver"
	"github.com/juanvelozo/gaston-server/internal/metrics"
	"github.com/juanvelozo/gaston-server/internal/ratelimit"
	"github.com/juanvelozo/gaston-server/internal/repo"
	"github.com/juanvelozo/gaston-server/internal/service"
	"github.com/juanvelozo/gaston-server/internal/transport"
	"github.com/juanvelozo/gaston-server/pkg/tokens"
)

// app is the wired server plus whatever must be closed on shutdown.
type app struct {
	echo    *echo.Echo
	svc     *service.AuthService
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close resource", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	gdb, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	a.closers = append(a.closers, func() error { return db.Close(gdb) })
	if migrate {
		if err := db.Migrate(ctx, gdb); err != nil {
			return nil, err
		}
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}

	signer, err := tokens.NewSigner(cfg.JWTSecret, cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	svc := service.New(cfg, repo.New(gdb), signer, hash.New(cfg.BcryptCost, cfg.TokenHashKey))
	svc.Metrics = m

	pub, err := publishers(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc.Events = pub
	a.closers = append(a.closers, pub.Close)

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, signin throttling degraded", "addr", cfg.RedisAddr, "error", err)
		}
		svc.Limiter = ratelimit.NewRedisLimiter(client, cfg.LoginMaxAttempts, cfg.LoginCooldown)
	}

	a.svc = svc
	a.echo = httpserver.New(&httpserver.Deps{
		Config:      cfg,
		AuthHandler: &httpserver.AuthHTTP{Svc: svc, Transport: transport.New(cfg)},
		Verifier:    signer,
		Metrics:     m,
		DB:          sqlDB,
		Logger:      logger,
	})
	return a, nil
}

// publishers wires the configured event sinks. With none configured events
// are dropped.
func publishers(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	var sinks events.Multi
	if len(cfg.KafkaBrokers) > 0 {
		w := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, events.NewKafkaPublisher(w))
		logger.Info("auth events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.ESURL != "" {
		client, err := events.NewESClient(cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.NewESPublisher(client, cfg.ESIndex))
		logger.Info("auth events to elasticsearch", "index", cfg.ESIndex)
	}
	if len(sinks) == 0 {
		return events.Nop(), nil
	}
	return sinks, nil
}
