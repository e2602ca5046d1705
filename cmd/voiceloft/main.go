// Command voiceloft runs the private voice room manager: it provisions rooms
// from lobby triggers, applies owner moderation, and reclaims idle rooms.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voiceloft/internal/configstore"
	"voiceloft/internal/gateway"
	"voiceloft/internal/observability/logging"
	"voiceloft/internal/observability/metrics"
	"voiceloft/internal/ops"
	"voiceloft/internal/platform"
	"voiceloft/internal/rooms"
)

func main() {
	addr := flag.String("addr", "", "ops HTTP listen address")
	opsTokenHash := flag.String("ops-token-hash", "", "pbkdf2 hash protecting the ops API")
	platformBaseURL := flag.String("platform-base-url", "", "platform REST API base URL")
	platformToken := flag.String("platform-token", "", "platform API token")
	platformTimeout := flag.Duration("platform-timeout", 0, "timeout for platform API requests")
	gatewayURL := flag.String("gateway-url", "", "platform gateway websocket URL (empty disables event streaming)")
	gatewayToken := flag.String("gateway-token", "", "platform gateway token (defaults to the API token)")
	groupsFlag := flag.String("groups", "", "JSON array or path (JSON or YAML) describing room groups")
	storeDriver := flag.String("store-driver", "", "config store driver (memory, redis, or postgres)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the config store")
	redisAddrs := flag.String("redis-addrs", "", "comma separated Redis addresses for the config store")
	redisUsername := flag.String("redis-username", "", "Redis username for the config store")
	redisPassword := flag.String("redis-password", "", "Redis password for the config store")
	redisMasterName := flag.String("redis-master-name", "", "Redis sentinel master name for the config store")
	redisKeyPrefix := flag.String("redis-key-prefix", "", "key prefix for config store entries")
	redisPoolSize := flag.Int("redis-pool-size", 0, "maximum Redis connections for the config store")
	redisTLSCA := flag.String("redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("redis-tls-skip-verify", false, "skip Redis TLS verification")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the config store")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection")
	tickInterval := flag.Duration("tick-interval", 0, "interval between reconcile passes")
	editTimeout := flag.Duration("edit-timeout", 0, "deadline for channel edits during ownership transfer")
	queueSize := flag.Int("queue-size", 0, "gateway event queue capacity")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VOICELOFT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VOICELOFT_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	baseURL := firstNonEmpty(*platformBaseURL, os.Getenv("VOICELOFT_PLATFORM_BASE_URL"))
	token := firstNonEmpty(*platformToken, os.Getenv("VOICELOFT_PLATFORM_TOKEN"))
	client, err := platform.NewHTTPClient(platform.HTTPClientConfig{
		BaseURL: baseURL,
		Token:   token,
		Timeout: resolveDuration(*platformTimeout, "VOICELOFT_PLATFORM_TIMEOUT", 15*time.Second),
	})
	if err != nil {
		logger.Error("failed to configure platform client", "error", err)
		os.Exit(1)
	}

	groupsSource := firstNonEmpty(*groupsFlag, os.Getenv("VOICELOFT_GROUPS"))
	groupDefs, err := rooms.LoadGroupDefs(groupsSource)
	if err != nil {
		logger.Error("failed to load group definitions", "error", err)
		os.Exit(1)
	}

	driver := strings.ToLower(firstNonEmpty(*storeDriver, os.Getenv("VOICELOFT_STORE_DRIVER"), "memory"))
	store, storeCloser, storePinger, err := openStore(driver, storeOptions{
		redis: configstore.RedisConfig{
			Addr:       firstNonEmpty(*redisAddr, os.Getenv("VOICELOFT_REDIS_ADDR")),
			Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("VOICELOFT_REDIS_ADDRS"))),
			Username:   firstNonEmpty(*redisUsername, os.Getenv("VOICELOFT_REDIS_USERNAME")),
			Password:   firstNonEmpty(*redisPassword, os.Getenv("VOICELOFT_REDIS_PASSWORD")),
			MasterName: firstNonEmpty(*redisMasterName, os.Getenv("VOICELOFT_REDIS_MASTER_NAME")),
			KeyPrefix:  firstNonEmpty(*redisKeyPrefix, os.Getenv("VOICELOFT_REDIS_KEY_PREFIX")),
			PoolSize:   resolveInt(*redisPoolSize, "VOICELOFT_REDIS_POOL_SIZE"),
			TLS: configstore.RedisTLSConfig{
				CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("VOICELOFT_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("VOICELOFT_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("VOICELOFT_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("VOICELOFT_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "VOICELOFT_REDIS_TLS_SKIP_VERIFY"),
			},
		},
		postgres: configstore.PostgresConfig{
			DSN:            firstNonEmpty(*postgresDSN, os.Getenv("VOICELOFT_POSTGRES_DSN")),
			MaxConns:       int32(resolveInt(*postgresMaxConns, "VOICELOFT_POSTGRES_MAX_CONNS")),
			MinConns:       int32(resolveInt(*postgresMinConns, "VOICELOFT_POSTGRES_MIN_CONNS")),
			AcquireTimeout: resolveDuration(*postgresAcquireTimeout, "VOICELOFT_POSTGRES_ACQUIRE_TIMEOUT", 0),
		},
	})
	if err != nil {
		logger.Error("failed to open config store", "driver", driver, "error", err)
		os.Exit(1)
	}
	defer storeCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := rooms.NewManager(ctx, rooms.ManagerConfig{
		Client:      client,
		Store:       store,
		Logger:      logging.WithComponent(logger, "rooms"),
		Metrics:     recorder,
		Groups:      groupDefs,
		EditTimeout: resolveDuration(*editTimeout, "VOICELOFT_EDIT_TIMEOUT", 0),
		QueueSize:   resolveInt(*queueSize, "VOICELOFT_QUEUE_SIZE"),
	})
	if err != nil {
		logger.Error("failed to start room manager", "error", err)
		os.Exit(1)
	}

	opsServer := ops.New(ops.Config{
		Addr:      firstNonEmpty(*addr, os.Getenv("VOICELOFT_ADDR"), ":8080"),
		TokenHash: firstNonEmpty(*opsTokenHash, os.Getenv("VOICELOFT_OPS_TOKEN_HASH")),
		Logger:    logger,
		Metrics:   recorder,
		Rooms:     manager,
		Platform:  client,
		Store:     storePinger,
	})

	interval := resolveDuration(*tickInterval, "VOICELOFT_TICK_INTERVAL", 2*time.Second)
	stopWorker := startReconcileWorker(ctx, logging.WithComponent(logger, "reconcile"), manager, interval)
	defer stopWorker()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return opsServer.Start()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	gwURL := firstNonEmpty(*gatewayURL, os.Getenv("VOICELOFT_GATEWAY_URL"))
	if gwURL != "" {
		gwToken := firstNonEmpty(*gatewayToken, os.Getenv("VOICELOFT_GATEWAY_TOKEN"), token)
		group.Go(func() error {
			return runGateway(groupCtx, logger, manager, gateway.Config{
				URL:    gwURL,
				Token:  gwToken,
				Logger: logging.WithComponent(logger, "gateway"),
			})
		})
	} else {
		logger.Warn("gateway disabled, relying on reconcile polling only")
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// runGateway keeps a gateway subscription alive, reconnecting with a fixed
// backoff until the context ends, and pumps events into the manager.
func runGateway(ctx context.Context, logger *slog.Logger, manager *rooms.Manager, cfg gateway.Config) error {
	const reconnectDelay = 5 * time.Second
	for {
		conn, err := gateway.Dial(ctx, cfg)
		if err != nil {
			logger.Warn("gateway dial failed", "error", err)
		} else {
			for event := range conn.Events(ctx) {
				dispatch(manager, event)
			}
			conn.Close()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func dispatch(manager *rooms.Manager, event gateway.Event) {
	switch event.Type {
	case gateway.EventMessage:
		manager.HandleMessage(event.Message.ChannelID, event.Message.AuthorID, event.Message.Content)
	case gateway.EventChannelDeleted:
		manager.HandleChannelDeleted(event.Channel.Channel.ID)
	case gateway.EventChannelUpdated:
		manager.HandleChannelUpdated(event.Channel.Channel)
	case gateway.EventMemberJoined:
		manager.HandleMemberJoined(event.Member.CommunityID, event.Member.Member)
	}
}

type storeOptions struct {
	redis    configstore.RedisConfig
	postgres configstore.PostgresConfig
}

func openStore(driver string, opts storeOptions) (configstore.Store, func(), ops.Pinger, error) {
	switch driver {
	case "memory":
		return configstore.NewMemoryStore(), func() {}, nil, nil
	case "redis":
		store, err := configstore.NewRedisStore(opts.redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, func() { _ = store.Close() }, store, nil
	case "postgres":
		openCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		store, err := configstore.NewPostgresStore(openCtx, opts.postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store.Close, store, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
