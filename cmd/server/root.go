package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/zentra/internal/cooldown"
	"github.com/Tyrowin/zentra/internal/server"
)

var (
	port              string
	allowedOrigins    []string
	logLevel          string
	logFormat         string
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	redisURL          string
	trustProxyHeaders bool
)

var rootCmd = &cobra.Command{
	Use:   "zentra",
	Short: "Zentra real-time chat relay",
	Long: `A chat relay that streams messages to websocket clients, checks their
liveness with an application-level heartbeat and accepts authenticated
messages over HTTP.

Configuration is read from the environment (and a .env file when present).
Flags override the environment.

Examples:
  # Start on the default port
  zentra

  # Start with a faster heartbeat and JSON logs
  zentra --port=:9000 --heartbeat-interval=2s --log-format=json`,
	SilenceUsage: true,
	RunE:         runServer,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&port, "port", "p", "", "Address to listen on, e.g. :8080")
	rootCmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origins", nil, "Allowed websocket and CORS origins (comma-separated, * for any)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format (console or json)")
	rootCmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 0, "Delay between heartbeat challenges")
	rootCmd.Flags().DurationVar(&heartbeatTimeout, "heartbeat-timeout", 0, "Time a client has to answer a heartbeat")
	rootCmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL for shared rate-limit counters")
	rootCmd.Flags().BoolVar(&trustProxyHeaders, "trust-proxy-headers", false, "Take client addresses from X-Forwarded-For / X-Real-IP")
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *server.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = allowedOrigins
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("heartbeat-interval") {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	if flags.Changed("heartbeat-timeout") {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = redisURL
	}
	if flags.Changed("trust-proxy-headers") {
		cfg.TrustProxyHeaders = trustProxyHeaders
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	logger := server.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info().Msg("starting Zentra server")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limits, closeLimits, err := limiterStore(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer closeLimits()

	gateway, err := server.NewGateway(*cfg, logger, limits)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	httpServer := server.CreateServer(cfg.Port, gateway.Handler())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = gateway.Shutdown()
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	var shutdownErr error
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := gateway.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
		shutdownErr = errors.Join(shutdownErr, err)
	}

	logger.Info().Msg("server stopped")
	return shutdownErr
}

// limiterStore returns the Redis counter store when url is set and nil
// otherwise, in which case the gateway keeps counters in memory.
func limiterStore(ctx context.Context, url string, logger zerolog.Logger) (cooldown.Store, func(), error) {
	if url == "" {
		return nil, func() {}, nil
	}

	redisStore, err := cooldown.NewRedisStoreFromURL(ctx, url, "zentra:cooldown:")
	if err != nil {
		return nil, nil, fmt.Errorf("connect rate limit store: %w", err)
	}
	logger.Info().Msg("rate limit counters shared through redis")

	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis store")
		}
	}, nil
}
