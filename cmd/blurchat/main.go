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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/client"
	"github.com/totegamma/blurchat/internal/config"
	"github.com/totegamma/blurchat/internal/infra/content"
	"github.com/totegamma/blurchat/internal/infra/database"
	"github.com/totegamma/blurchat/internal/infra/gateway"
	"github.com/totegamma/blurchat/internal/infra/kv"
	"github.com/totegamma/blurchat/internal/infra/sealing"
	"github.com/totegamma/blurchat/internal/infra/tracing"
	"github.com/totegamma/blurchat/internal/infra/transport"
	"github.com/totegamma/blurchat/internal/present/rest"
	"github.com/totegamma/blurchat/internal/usecase"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "blurchat",
	Short:   "blurchat client node",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start a session and serve the observer api",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return serve(cmd.Context(), path)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate a private key and print its identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := blurchat.GenerateKey()
		if err != nil {
			return err
		}
		identity, err := blurchat.PrivKeyToAddr(key, blurchat.IdentityPrefix)
		if err != nil {
			return err
		}
		fmt.Printf("privatekey: %s\nidentity:   %s\n", key, identity)
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	}
	rootCmd.AddCommand(serveCmd, keygenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("blurchat exited")
		os.Exit(1)
	}
}

// sessionTransport is a transport the process owns and must close.
type sessionTransport interface {
	usecase.Transport
	Close()
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if cfg.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, "blurchat", version, cfg.Server.TraceEndpoint)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	privateKey := cfg.Session.PrivateKey
	if privateKey == "" {
		privateKey, err = blurchat.GenerateKey()
		if err != nil {
			return err
		}
		log.Warn().Msg("no private key configured; using an ephemeral identity")
	}

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	tr, err := openTransport(ctx, cfg.Transport, privateKey)
	if err != nil {
		return err
	}
	defer tr.Close()

	vault, err := content.NewVault()
	if err != nil {
		return err
	}

	deps := usecase.SessionDeps{
		Store:     store,
		Transport: tr,
		Vault:     vault,
		Timing:    cfg.DomainTiming(),
	}
	if cfg.Directory.Endpoint != "" {
		gw := gateway.NewDirectoryGateway(client.New(cfg.Directory.Endpoint), privateKey)
		deps.Directory = gw
		deps.Publisher = gw
	}

	session := usecase.NewSession(deps)
	if err := session.Start(ctx, cfg.Session.Handle); err != nil {
		return err
	}
	defer session.Logout(context.Background())

	if cfg.Session.Handle == "" && cfg.Session.Label != "" {
		handle, err := session.Registry.GenerateAvailableHandle()
		if err != nil {
			return err
		}
		if _, err := session.Register(ctx, handle, cfg.Session.Label); err != nil {
			return err
		}
	}
	log.Info().Str("identity", session.Identity()).Str("handle", session.Handle()).Msg("session ready")

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("blurchat"))
	rest.NewObserverHandler(session, cfg.DomainTiming()).RegisterRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Observer.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openStore(cfg config.Store) (usecase.KeyValueStore, func(), error) {
	var (
		store     usecase.KeyValueStore
		closeFunc = func() {}
	)

	switch cfg.Driver {
	case "pebble":
		db, err := kv.OpenPebble(cfg.Path, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		store = db
		closeFunc = func() {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close pebble")
			}
		}
	case "redis":
		rdb, err := database.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		store = kv.NewRedis(rdb, cfg.Namespace)
		closeFunc = func() { rdb.Close() }
	case "memcached":
		store = kv.NewMemcache(database.NewMemcached(cfg.MemcachedAddr), cfg.Namespace)
	case "memory", "":
		store = kv.NewMemory()
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.SealSecret != "" {
		sealer, err := sealing.NewSealer([]byte(cfg.SealSecret), "blurchat/kv")
		if err != nil {
			closeFunc()
			return nil, nil, err
		}
		store = kv.NewSealed(store, sealer)
	}
	return store, closeFunc, nil
}

func openTransport(ctx context.Context, cfg config.Transport, privateKey string) (sessionTransport, error) {
	switch cfg.Driver {
	case "nats":
		return transport.NewNATS(transport.NATSConfig{
			URL:             cfg.NatsURL,
			CredentialsFile: cfg.NatsCredentials,
			ReconnectWait:   cfg.ReconnectWait.Std(),
			MaxReconnects:   cfg.MaxReconnects,
		}, privateKey)
	case "redis":
		rdb, err := database.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return transport.NewRedis(ctx, rdb, privateKey)
	case "loopback", "":
		return transport.NewHub().Connect(privateKey)
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.Driver)
	}
}
