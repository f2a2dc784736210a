package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ispctl/internal/api"
	"ispctl/internal/billing"
	"ispctl/internal/bus"
	"ispctl/internal/config"
	"ispctl/internal/dashboard"
	"ispctl/internal/fleet"
	"ispctl/internal/logging"
	"ispctl/internal/metrics"
	"ispctl/internal/probe"
	"ispctl/internal/store"
	"ispctl/internal/suspension"
	"ispctl/internal/telemetry"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen, dataDir, inventory, natsURL, upstream string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g.configPath)
			if err != nil {
				return err
			}
			overrideServer(&cfg.Server, listen, dataDir, inventory)
			overrideTelemetry(&cfg.Telemetry, natsURL, upstream)
			overrideLog(&cfg.Log, g.logLevel, g.logFormat)
			config.ApplyDefaults(&cfg)
			if err := config.Validate(cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, g.trace)
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", "", "listen address")
	f.StringVar(&dataDir, "data-dir", "", "data directory")
	f.StringVar(&inventory, "inventory", "", "YAML inventory imported at startup")
	f.StringVar(&natsURL, "nats", "", "NATS url for telemetry ingest and enforcement")
	f.StringVar(&upstream, "upstream", "", "websocket url of an upstream telemetry feed")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, trace bool) error {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if trace {
		shutdown, err := setupTracing(os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
		return err
	}
	s, err := store.Open(filepath.Join(cfg.Server.DataDir, "badger"))
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Server.Inventory != "" {
		if err := importInventory(ctx, s, cfg.Server.Inventory, log); err != nil {
			return err
		}
	}

	m := metrics.New()
	hub := telemetry.NewHub(log, m)
	ledger := billing.NewLedger(s)

	var enforcer suspension.Enforcer = suspension.LogEnforcer{Log: log.Named("enforcer")}
	if cfg.Telemetry.NATSURL != "" {
		nc, err := bus.Connect(cfg.Telemetry.NATSURL, "ispctl", log.Named("nats"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer bus.Close(nc)

		ingest := telemetry.NewNATSIngest(hub, log, m)
		if err := ingest.Subscribe(nc, cfg.Telemetry.Subject); err != nil {
			return err
		}
		defer func() { _ = ingest.Close() }()
		enforcer = suspension.NewNATSEnforcer(nc, cfg.Billing.EnforceSubject)
		log.Info("nats wired",
			zap.String("url", cfg.Telemetry.NATSURL),
			zap.String("telemetry_subject", cfg.Telemetry.Subject),
			zap.String("enforce_subject", cfg.Billing.EnforceSubject),
			zap.Bool("connected", nc.Status() == nats.CONNECTED),
		)
	}

	prober := probe.New(nil, cfg.Poller.ProbeTimeout())
	poller := fleet.New(s, prober, fleet.Options{
		MaxConcurrent: cfg.Poller.MaxConcurrent,
		Logger:        log,
		Metrics:       m,
	})
	eval := suspension.NewEvaluator(s, ledger, enforcer, suspension.Options{Logger: log, Metrics: m})
	sched := suspension.NewScheduler(eval, cfg.Billing.CheckInterval())

	if cfg.Telemetry.UpstreamURL != "" {
		obs := telemetry.NewObserver(&telemetry.WebsocketDialer{URL: cfg.Telemetry.UpstreamURL}, hub.Publish, telemetry.ObserverOptions{
			ReconnectDelay: cfg.Telemetry.ReconnectDelay(),
			Logger:         log,
			Metrics:        m,
		})
		obs.Open(ctx)
		defer obs.Close()
	}

	routers, err := s.ListRouters(ctx)
	if err != nil {
		return fmt.Errorf("list routers: %w", err)
	}
	for _, r := range routers {
		poller.Register(r)
	}
	poller.Start(ctx, cfg.Poller.Interval())
	defer poller.Stop()
	sched.Start(ctx)
	defer sched.Stop()

	srv := api.NewServer(cfg, api.Deps{
		Store:     s,
		Poller:    poller,
		Hub:       hub,
		Ledger:    ledger,
		Evaluator: eval,
		Dashboard: dashboard.New(poller, hub, s, eval),
		Metrics:   m,
		Logger:    log,
	})
	err = srv.ListenAndServe(ctx)
	log.Info("shutdown complete")
	return err
}

func importInventory(ctx context.Context, s *store.Store, path string, log *zap.Logger) error {
	inv, err := store.LoadInventory(path)
	if err != nil {
		return err
	}
	res, err := s.Import(ctx, inv)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	log.Info("inventory imported",
		zap.String("path", path),
		zap.Int("routers", res.Routers),
		zap.Int("clients", res.Clients),
	)
	return nil
}
