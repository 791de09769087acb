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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pushauth/adapters/events"
	"github.com/layer-3/pushauth/adapters/push"
	"github.com/layer-3/pushauth/adapters/store"
	"github.com/layer-3/pushauth/adapters/tokenizer"
	"github.com/layer-3/pushauth/internal/config"
	"github.com/layer-3/pushauth/internal/logging"
	"github.com/layer-3/pushauth/ports"
	"github.com/layer-3/pushauth/service"
	transport "github.com/layer-3/pushauth/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	consumerGroup   = "pushauth-dispatcher"
	shutdownTimeout = 10 * time.Second
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and push dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":9000", EnvVars: []string{config.EnvAddr}},
			&cli.StringFlag{Name: "store", Value: config.StoreMemory, EnvVars: []string{config.EnvStore}, Usage: "memory, redis or sqlite"},
			&cli.StringFlag{Name: "redis-url", Value: "redis://localhost:6379/0", EnvVars: []string{config.EnvRedisURL}},
			&cli.StringFlag{Name: "sqlite-path", Value: "pushauth.db", EnvVars: []string{config.EnvSQLitePath}},
			&cli.StringFlag{Name: "signing-key", EnvVars: []string{config.EnvSigningKey}, Usage: "PEM P-256 key signing owner tokens"},
			&cli.BoolFlag{Name: "dev-ephemeral-key", EnvVars: []string{config.EnvDevEphemeralKey}},
			&cli.StringFlag{Name: "register-uri", Value: service.DefaultRegisterURI, EnvVars: []string{config.EnvRegisterURI}},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{config.EnvLogLevel}},
			&cli.BoolFlag{Name: "log-pretty"},
			&cli.StringFlag{Name: "gin-mode", Value: gin.ReleaseMode},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg := config.Config{
		Addr:            c.String("addr"),
		Store:           c.String("store"),
		RedisURL:        c.String("redis-url"),
		SQLitePath:      c.String("sqlite-path"),
		SigningKeyPath:  c.String("signing-key"),
		DevEphemeralKey: c.Bool("dev-ephemeral-key"),
		RegisterURI:     c.String("register-uri"),
		LogLevel:        c.String("log-level"),
		LogPretty:       c.Bool("log-pretty"),
		GinMode:         c.String("gin-mode"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	signKey, err := config.LoadSigningKey(cfg)
	if err != nil {
		return err
	}
	if cfg.DevEphemeralKey {
		log.Warn().Msg("using an ephemeral signing key, owner tokens will not survive a restart")
	}

	wmLogger := logging.NewWatermillLogger(log)
	b, err := openBackend(cfg, wmLogger)
	if err != nil {
		return err
	}
	defer b.close(log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: shutdownTimeout}, wmLogger)
	if err != nil {
		return fmt.Errorf("failed to create message router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	push.NewDispatcher(push.NewLogSender(log), log).AddTo(router, events.NotificationTopic, b.subscriber)

	routerErr, err := startRouter(ctx, router)
	if err != nil {
		_ = router.Close()
		return err
	}

	svc := service.NewPushAuthService(b.store, events.NewWatermillNotifier(b.publisher), log,
		service.WithRegisterURI(cfg.RegisterURI))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.SetupRouter(svc, tokenizer.NewJWTTokenizer(signKey), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("pushauth listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		stop()
		return fmt.Errorf("http server failed: %w", err)
	case err := <-routerErr:
		if ctx.Err() != nil {
			break
		}
		stop()
		_ = srv.Close()
		return fmt.Errorf("message router stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := router.Close(); err != nil {
		log.Error().Err(err).Msg("message router shutdown failed")
	}
	return nil
}

// startRouter runs router in the background and returns once every handler
// has subscribed. The returned channel receives the result of Run.
func startRouter(ctx context.Context, router *message.Router) (<-chan error, error) {
	routerErr := make(chan error, 1)
	go func() { routerErr <- router.Run(ctx) }()

	select {
	case <-router.Running():
		return routerErr, nil
	case err := <-routerErr:
		if err == nil {
			err = errors.New("router exited")
		}
		return nil, fmt.Errorf("message router failed to start: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type backend struct {
	store      ports.Store
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
}

func (b *backend) close(log zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// openBackend builds the store and the notification pubsub. Redis
// deployments queue notifications on a redis stream so any instance can
// dispatch them; the others use an in-process channel.
func openBackend(cfg config.Config, logger watermill.LoggerAdapter) (*backend, error) {
	b := &backend{}
	fail := func(err error) (*backend, error) {
		for i := len(b.closers) - 1; i >= 0; i-- {
			_ = b.closers[i]()
		}
		return nil, err
	}

	switch cfg.Store {
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		b.closers = append(b.closers, client.Close)
		b.store = store.NewRedisStore(client)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create redis publisher: %w", err))
		}
		b.closers = append(b.closers, publisher.Close)
		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: consumerGroup,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create redis subscriber: %w", err))
		}
		b.publisher, b.subscriber = publisher, subscriber
		b.closers = append(b.closers, subscriber.Close)
		return b, nil

	case config.StoreSQLite:
		st, err := store.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.store = st
		b.closers = append(b.closers, st.Close)

	default:
		b.store = store.NewMemoryStore()
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	b.publisher, b.subscriber = pubSub, pubSub
	b.closers = append(b.closers, pubSub.Close)
	return b, nil
}
