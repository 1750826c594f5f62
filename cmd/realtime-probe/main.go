// Command realtime-probe connects to a realtime backend with a fixed token,
// logs every message it receives and serves the status routes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/providers"
	"github.com/orchestra-mcp/realtime/src/client"
	"github.com/orchestra-mcp/realtime/src/devserver"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// staticStore serves a fixed token. Refresh only records that the backend
// asked for one.
type staticStore struct {
	token  string
	logger zerolog.Logger
}

func (s *staticStore) AccessToken() string { return s.token }

func (s *staticStore) Refresh(context.Context) error {
	s.logger.Info().Msg("session refresh requested")
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fatal(err)
	}
	token := flag.String("token", os.Getenv("REALTIME_TOKEN"), "access token sent in the handshake")
	dev := flag.Bool("dev", false, "start a local development backend and connect to it")
	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "base URL of the backend")
	flag.StringVar(&cfg.StatusAddr, "status", cfg.StatusAddr, "listen address for status routes")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *dev {
		if *token == "" {
			*token = "dev"
		}
		srv := devserver.New(cfg.WSPath, logger, *token)
		endpoint, err := srv.Listen("127.0.0.1:0")
		if err != nil {
			fatal(err)
		}
		defer srv.Close() //nolint:errcheck
		cfg.Endpoint = endpoint
	}

	store := &staticStore{token: *token, logger: logger}
	p := providers.NewRealtimeProvider(cfg, service.Deps{Store: store}, logger)
	if err := p.Activate(ctx); err != nil {
		fatal(err)
	}
	defer p.Deactivate() //nolint:errcheck

	svc := p.Service()
	svc.Subscribe(func(m types.Message) {
		ev := logger.Info().Str("type", m.Type)
		if m.Envelope != "" {
			ev = ev.Str("envelope", m.Envelope)
		}
		ev.RawJSON("raw", m.Raw).Msg("message")
	})
	svc.Manager().OnStateChange(func(s client.State) {
		logger.Info().Stringer("state", s).Int("attempts", svc.Manager().Attempts()).Msg("connection state")
	})

	app := fiber.New()
	p.RegisterRoutes(app)
	go func() {
		if err := app.Listen(cfg.StatusAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	logger.Info().Str("endpoint", cfg.Endpoint).Str("status", cfg.StatusAddr).Msg("probe running")

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("status server shutdown")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "realtime-probe: %v\n", err)
	os.Exit(1)
}
