package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/drivescore-backend-go/internal/api"
	"github.com/jengzang/drivescore-backend-go/internal/config"
	"github.com/jengzang/drivescore-backend-go/internal/database"
	"github.com/jengzang/drivescore-backend-go/internal/handler"
	"github.com/jengzang/drivescore-backend-go/internal/logging"
	"github.com/jengzang/drivescore-backend-go/internal/middleware"
	"github.com/jengzang/drivescore-backend-go/internal/repository"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/service"
	"github.com/jengzang/drivescore-backend-go/internal/submission"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogFormat, cfg.Debug)

	app := &cli.App{
		Name:        "drivescore",
		Description: "Tracks trips from live location samples and submits driving scores",

		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the trip tracking API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: cfg.Port,
						Usage: "listen target for the web server",
					},
				},
				Action: func(c *cli.Context) error {
					cfg.Port = c.String("listen")
					return serve(c.Context, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Action: func(c *cli.Context) error {
					if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
						return err
					}
					return database.Close()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	policy, err := scoring.ParsePolicy(cfg.ScoringPolicy)
	if err != nil {
		return err
	}

	if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
		return err
	}
	defer database.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	svc := service.NewTripService(
		repository.NewTripRepository(database.GetDB()),
		submission.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.SubmitTimeout),
		service.WithPolicy(policy),
		service.WithMinTripDuration(cfg.MinTripDuration),
	)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	defer limiter.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go svc.RunJanitor(ctx, time.Minute, cfg.SessionIdleTimeout)

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: api.SetupRouter(cfg, handler.NewTripHandler(svc), limiter),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Port).Str("policy", policy.String()).Msg("Server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Int("active_trips", svc.ActiveTrips()).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
