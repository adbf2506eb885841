package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/blurchat/internal/config"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/infra/database"
	"github.com/totegamma/blurchat/internal/infra/repository"
	"github.com/totegamma/blurchat/internal/infra/tracing"
	"github.com/totegamma/blurchat/internal/present/rest"
	rmw "github.com/totegamma/blurchat/internal/present/rest/middleware"
	"github.com/totegamma/blurchat/internal/service"
	"github.com/totegamma/blurchat/internal/usecase"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "directory",
	Short:   "blurchat handle directory",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the directory over http",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return serve(cmd.Context(), path)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is $"+config.EnvConfigPath+")")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("directory exited")
		os.Exit(1)
	}
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if cfg.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, "blurchat-directory", version, cfg.Server.TraceEndpoint)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	db, err := database.NewPostgres(cfg.Server.PostgresDsn)
	if err != nil {
		return err
	}
	if err := database.MigratePostgres(db); err != nil {
		return err
	}

	conf := domain.Config{FQDN: cfg.Server.FQDN, Version: version}

	directory := usecase.NewDirectoryUsecase(repository.NewDirectoryRepository(db), conf)
	auth := rmw.NewAuthMiddleware(service.NewAuthService(conf))
	limiter := rmw.NewRateLimiter(cfg.Server.PublishRate, cfg.Server.PublishBurst)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(otelecho.Middleware("blurchat-directory"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	rest.NewHandler(conf, directory, auth, limiter).RegisterRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info().Str("listen", cfg.Server.Listen).Str("fqdn", conf.FQDN).Msg("directory started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
