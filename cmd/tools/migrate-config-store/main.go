// Command migrate-config-store copies every room config from one store
// backend to another, typically when promoting a Redis deployment to Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"voiceloft/internal/configstore"
)

type listingStore interface {
	configstore.Store
	Keys(ctx context.Context) ([]configstore.Key, error)
}

func main() {
	var (
		fromDriver  string
		toDriver    string
		redisAddr   string
		postgresDSN string
		dryRun      bool
	)

	flag.StringVar(&fromDriver, "from", "", "source driver (redis or postgres)")
	flag.StringVar(&toDriver, "to", "", "destination driver (redis or postgres)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.BoolVar(&dryRun, "dry-run", false, "list configs without writing them")
	flag.Parse()

	if fromDriver == "" || toDriver == "" {
		fatalf("both --from and --to are required")
	}
	if fromDriver == toDriver {
		fatalf("--from and --to must name different drivers")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	source, err := openStore(ctx, fromDriver, redisAddr, postgresDSN)
	if err != nil {
		fatalf("open source store: %v", err)
	}
	destination, err := openStore(ctx, toDriver, redisAddr, postgresDSN)
	if err != nil {
		fatalf("open destination store: %v", err)
	}

	keys, err := source.Keys(ctx)
	if err != nil {
		fatalf("list source configs: %v", err)
	}

	migrated := 0
	for _, key := range keys {
		config, found, err := source.Get(ctx, key)
		if err != nil {
			fatalf("read config %s: %v", key, err)
		}
		if !found {
			continue
		}
		if dryRun {
			fmt.Printf("would migrate %s\n", key)
			continue
		}
		if err := destination.Put(ctx, key, config); err != nil {
			fatalf("write config %s: %v", key, err)
		}
		migrated++
	}

	if dryRun {
		fmt.Printf("%d configs found.\n", len(keys))
		return
	}
	fmt.Printf("Migrated %d configs.\n", migrated)
}

func openStore(ctx context.Context, driver, redisAddr, postgresDSN string) (listingStore, error) {
	switch driver {
	case "redis":
		if redisAddr == "" {
			return nil, fmt.Errorf("--redis-addr is required for the redis driver")
		}
		return configstore.NewRedisStore(configstore.RedisConfig{Addr: redisAddr})
	case "postgres":
		if postgresDSN == "" {
			return nil, fmt.Errorf("--postgres-dsn is required for the postgres driver")
		}
		return configstore.NewPostgresStore(ctx, configstore.PostgresConfig{DSN: postgresDSN})
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
