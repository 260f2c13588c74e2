package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibedeck/vibedeck/internal/backend"
	"github.com/vibedeck/vibedeck/internal/config"
	"github.com/vibedeck/vibedeck/internal/dispatch"
	"github.com/vibedeck/vibedeck/internal/events"
	"github.com/vibedeck/vibedeck/internal/server"
	"github.com/vibedeck/vibedeck/internal/session"
)

func main() {
	var (
		configPath     = flag.String("config", "", "path to config file (VIBEDECK_CONFIG; default $HOME/.vibedeck/config.yaml)")
		listenAddr     = flag.String("listen", "", "HTTP listen address (overrides config)")
		usersDir       = flag.String("users-dir", "", "base directory of per-user subtrees (VIBEDECK_USERS_DIR)")
		identityHeader = flag.String("identity-header", "", "trusted header carrying the caller identity (overrides config)")
		logJSON        = flag.Bool("log-json", false, "emit logs as JSON")
		natsURL        = flag.String("nats-url", "", "mirror events to NATS JetStream at this URL (VIBEDECK_NATS_URL)")
		natsUser       = flag.String("nats-user", "", "NATS username (VIBEDECK_NATS_USER)")
		natsPass       = flag.String("nats-pass", "", "NATS password (VIBEDECK_NATS_PASS)")
	)

	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage:\n  %s [flags]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyEnvFallback(configPath, "VIBEDECK_CONFIG")
	applyEnvFallback(usersDir, "VIBEDECK_USERS_DIR")
	applyEnvFallback(natsURL, "VIBEDECK_NATS_URL")
	applyEnvFallback(natsUser, "VIBEDECK_NATS_USER")
	applyEnvFallback(natsPass, "VIBEDECK_NATS_PASS")

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("config load", "path", path, "err", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if *identityHeader != "" {
		cfg.Server.IdentityHeader = *identityHeader
	}
	if *usersDir != "" {
		cfg.Isolation.UsersDir = *usersDir
	}
	if *natsURL != "" {
		if cfg.Events.JetStream == nil {
			cfg.Events.JetStream = &events.JetStreamOptions{}
		}
		cfg.Events.JetStream.URL = *natsURL
		cfg.Events.JetStream.User = *natsUser
		cfg.Events.JetStream.Password = *natsPass
	}

	// No users directory means no isolation backend: the service still
	// starts, serving empty listings and refusing dispatch.
	var be *backend.Isolation
	if cfg.Isolation.UsersDir != "" {
		be, err = backend.NewIsolation(cfg.Isolation, nil, logger)
		if err != nil {
			logger.Error("isolation backend init", "err", err)
			os.Exit(1)
		}
		logger.Info("isolation backend ready",
			"usersDir", cfg.Isolation.UsersDir, "image", cfg.Isolation.DockerImage)
	} else {
		logger.Warn("no users directory configured; serving without a backend")
	}

	var mirror *events.JetStreamMirror
	if cfg.Events.JetStream != nil && cfg.Events.JetStream.URL != "" {
		mirror, err = events.NewJetStreamMirror(cfg.Events.JetStream, logger)
		if err != nil {
			logger.Error("jetstream mirror init", "err", err)
			os.Exit(1)
		}
		logger.Info("event mirror connected", "url", cfg.Events.JetStream.URL)
	}

	registry := session.NewRegistry()
	// The event routing filter only applies when requests carry an
	// identity; with auth disabled every subscriber sees every event.
	var lookup events.PathLookup
	var owner events.OwnerFunc
	if cfg.Server.IdentityHeader != "" && be != nil {
		lookup = registry.Path
		owner = be.SessionOwner
	}
	bus := events.NewBus(lookup, owner, mirror, logger)

	srv := server.New(server.Options{
		Config:    cfg.Server,
		Discovery: cfg.Discovery,
		Backend:   be,
		Registry:  registry,
		Bus:       bus,
		Exec:      dispatch.NewRunner(logger),
		Logger:    logger,
	})
	go srv.RunDiscovery(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
		}
		bus.Close()
	}()

	logger.Info("vibedeckd listening", "addr", cfg.Server.Listen, "auth", cfg.Server.IdentityHeader != "")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
}

func applyEnvFallback(value *string, envKey string) {
	if *value != "" {
		return
	}
	if env := os.Getenv(envKey); env != "" {
		*value = env
	}
}
