package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/adapters/auth"
	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/meeting"
	wssignal "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/logging"
	"github.com/dkeye/Meet/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the configured one is installed.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logs, err := logging.Setup(cfg.Log, cfg.Mode)
	if err != nil {
		log.Warn().Err(err).Msg("logging setup")
	}
	defer logs.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	meetings, ready, closeMeetings, err := openMeetings(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open meetings backend")
	}
	defer closeMeetings()

	var authn auth.Authenticator
	if cfg.Auth.JWTSecret != "" {
		authn = auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	}

	r := orch.NewRouter(app.SimplePolicy{}, metrics.New(reg), cfg.EventBuffer)
	go r.Run(ctx)

	ctl := wssignal.NewSignalWSController(r, meetings, wssignal.NewRoomRateLimiter(cfg.JoinRate.Limit, cfg.JoinRate.Interval), wssignal.Options{
		ReadLimit:       cfg.ReadLimit,
		PingPeriod:      cfg.PingPeriod,
		PongWait:        cfg.PongWait,
		WriteWait:       cfg.WriteWait,
		SendBuffer:      cfg.SendBuffer,
		ValidateTimeout: cfg.Meetings.Timeout,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	engine := router.SetupRouter(ctx, cfg, router.Deps{
		Router:   r,
		Signal:   ctl,
		Auth:     authn,
		Gatherer: reg,
		Ready:    ready,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Meet signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openMeetings(cfg *config.Config) (meeting.Validator, func(context.Context) error, func(), error) {
	switch cfg.Meetings.Backend {
	case "sql":
		db, err := meeting.OpenDB(cfg.Meetings.Driver, cfg.Meetings.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := sqlDB.Close(); err != nil {
				log.Warn().Err(err).Msg("close meetings db")
			}
		}
		return meeting.NewSQLValidator(db), sqlDB.PingContext, closeFn, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis")
			}
		}
		ready := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return meeting.NewRedisValidator(rdb), ready, closeFn, nil
	default:
		return meeting.AllowAll{}, nil, func() {}, nil
	}
}
