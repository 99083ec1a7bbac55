package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"ticketing/cmd/buildCFG"
	"ticketing/internal/api/api"
	"ticketing/internal/auth"
	"ticketing/internal/clock"
	rabbitReader "ticketing/internal/consumerWorker"
	"ticketing/internal/payment"
	"ticketing/internal/rabbit"
	"ticketing/internal/repo"
	"ticketing/internal/scheduler"
	"ticketing/internal/service"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the configuration file")
	migrateDown := pflag.Bool("migrate-down", false, "roll back all migrations and exit")
	pflag.Parse()

	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load(*configPath, "", ""); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	if level, err := zerolog.ParseLevel(serverCfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", serverCfg.LogLevel).Msg("unknown log level, keeping default")
	}

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}

	if *migrateDown {
		if err := repository.MigrateDown(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back migrations")
		}
		return
	}
	if err := repository.MigrateUp(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	authCfg, err := buildCFG.BuildAuthConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load auth config")
	}
	tokens, err := auth.NewTokens(authCfg.JWTSecret, authCfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tokens")
	}

	stripeCfg, err := buildCFG.BuildStripeConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load Stripe config")
	}
	payments := payment.NewStripe(stripeCfg, &log)

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	rmq, err := rabbit.NewRabbit(rabbitCfg)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	svc := service.NewService(
		repository,
		payments,
		rmq,
		tokens,
		clock.NewSystem(),
		&log,
		buildCFG.BuildBookingOptions(cfg, &log),
	)
	if authCfg.AdminEmail != "" {
		if err := svc.EnsureAdmin(context.Background(), authCfg.AdminName, authCfg.AdminEmail, authCfg.AdminPassword); err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap admin")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := rabbitReader.NewReader(rmq, svc, &log)
	reader.Start(ctx)

	sweeper := scheduler.New(svc, buildCFG.BuildSchedulerConfig(cfg, &log).Interval, &log)

	app := api.NewRouters(&api.Routers{
		Service:     svc,
		Tokens:      tokens,
		Log:         &log,
		Mode:        serverCfg.Mode,
		CORSOrigins: serverCfg.CORSOrigins,
	})
	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      app,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Initiating shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	reader.Stop()
	if err := db.Master.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
	log.Info().Msg("Shutdown complete")
}
