package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"comanda/internal/api"
	"comanda/internal/common/config"
	"comanda/internal/common/db"
	"comanda/internal/common/httpx"
	"comanda/internal/common/logger"
	"comanda/internal/common/mq"
	"comanda/internal/coordinator"
	"comanda/internal/domain"
	"comanda/internal/kitchen"
	"comanda/internal/notifier"
	"comanda/internal/settlement"
	"comanda/internal/shifts"
	"comanda/internal/store"
)

func main() {
	mode := flag.String("mode", "api", "api | notifier")
	port := flag.Int("port", 3000, "api: http port")
	cfgPath := flag.String("config", "", "path to config.yaml (api defaults to in-memory store when absent)")
	consumer := flag.String("consumer", "", "notifier: unique consumer name")
	flag.Parse()

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch *mode {
	case "api":
		err = runAPI(ctx, lg, *cfgPath, *port)
	case "notifier":
		err = runNotifier(ctx, lg, *cfgPath, *consumer)
	default:
		fmt.Fprintln(os.Stderr, "--mode must be api or notifier")
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("fatal", err, nil)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, lg *logger.Logger, cfgPath string, port int) error {
	clk := clock.WallClock
	seed := config.Tables{Count: 12, Prefix: "Mesa"}

	var (
		base     store.Store
		mqClient *mq.Client
	)
	if cfgPath == "" {
		if found, err := config.Find(); err == nil {
			cfgPath = found
		}
	}
	if cfgPath == "" {
		lg.Warn("no_config", map[string]any{"detail": "running with in-memory store, state is lost on exit"})
		base = store.NewMemory(clk)
	} else {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		seed = cfg.Tables

		pool, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		mqClient, err = mq.Dial(cfg.Rabbit)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer mqClient.Close()
		if err := mqClient.DeclareAll(); err != nil {
			return fmt.Errorf("declare topology: %w", err)
		}

		pg := store.NewPostgres(pool, clk, mqClient)
		pg.OnBridgeError(func(ev domain.Event, err error) {
			lg.Error("event_publish_failed", err, map[string]any{"collection": ev.Collection, "id": ev.ID})
		})
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		base = pg
	}

	for i := 1; i <= seed.Count; i++ {
		t := domain.NewTable(fmt.Sprintf("t-%02d", i), fmt.Sprintf("%s %d", seed.Prefix, i))
		if err := base.EnsureTable(ctx, t); err != nil {
			return fmt.Errorf("seed table %s: %w", t.ID, err)
		}
	}

	st := store.WithRetry(base, clk)
	coord := coordinator.New(st, clk, logger.New("coordinator"))
	router := kitchen.New(st, clk, logger.New("kitchen"))
	engine := settlement.New(st, coord, clk, logger.New("settlement"))
	shiftSvc := shifts.New(st, clk, logger.New("shifts"))
	handler := api.New(coord, router, engine, shiftSvc, st, clk, logger.New("api"))

	srv := httpx.New(fmt.Sprintf(":%d", port), handler.Routes())
	lg.Info("service_started", map[string]any{"service": "api", "port": port, "tables": seed.Count})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if mqClient == nil {
		// Without a broker the announcements come straight off the
		// in-process feed.
		g.Go(func() error { return notifier.New(logger.New("notifier")).RunLocal(gctx, st) })
	}
	return g.Wait()
}

func runNotifier(ctx context.Context, lg *logger.Logger, cfgPath, consumer string) error {
	if cfgPath == "" {
		found, err := config.Find()
		if err != nil {
			return fmt.Errorf("notifier needs a config file with rabbitmq settings")
		}
		cfgPath = found
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = "notifier-" + host
	}

	client, err := mq.Dial(cfg.Rabbit)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer client.Close()
	if err := client.DeclareAll(); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	lg.Info("service_started", map[string]any{"service": "notifier", "consumer": consumer})
	return notifier.New(logger.New("notifier")).Run(ctx, client, consumer)
}
