package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/giftmap/internal/config"
	"github.com/efebarandurmaz/giftmap/internal/dashboard"
	"github.com/efebarandurmaz/giftmap/internal/graph"
	graphneo4j "github.com/efebarandurmaz/giftmap/internal/graph/neo4j"
	"github.com/efebarandurmaz/giftmap/internal/layout"
	"github.com/efebarandurmaz/giftmap/internal/observability"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
	"github.com/efebarandurmaz/giftmap/internal/secrets"
	"github.com/efebarandurmaz/giftmap/internal/server"
	"github.com/efebarandurmaz/giftmap/internal/session"
	"github.com/efebarandurmaz/giftmap/internal/source"
)

func runServe(configPath string, extraTargets []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "giftmap",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	audit, err := newAudit(cfg)
	if err != nil {
		return err
	}
	metrics := observability.NewEngineMetrics(nil)

	mem, err := openLayout(cfg.Layout, logger)
	if err != nil {
		return err
	}

	var repo graph.Repository
	if cfg.Graph.Enabled() {
		r, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		repo = r
	}

	src, err := openSource(cfg.Source, logger)
	if err != nil {
		return err
	}

	store := dashboard.NewStore()
	hub := dashboard.NewHub()
	emitter := dashboard.NewEmitter(store, hub)

	sess, err := session.New(session.Options{
		Source: src,
		Config: session.Config{
			SettleDelay:    cfg.Scan.SettleDelay,
			Autostart:      cfg.Scan.Autostart,
			DeriveBioLinks: cfg.Scan.DeriveBioLinks,
		},
		Layout:   mem,
		Observer: emitter,
		Metrics:  metrics,
		Audit:    audit,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	lc := server.NewLifecycle(version, cfg.Server.ShutdownTimeout, logger)
	lc.Health.Register("layout", server.LayoutCheck(mem))
	lc.Health.Register("scan_queue", server.ScanQueueCheck(sess.Status))
	if repo != nil {
		lc.Health.Register("graph_database", server.GraphDatabaseCheck(repo.Ping))
	}

	srv := dashboard.NewServer(&dashboard.Config{
		ListenAddr: cfg.Server.Addr,
		KeepAlive:  cfg.Server.KeepAlive,
	}, dashboard.Deps{
		Engine:     sess,
		Store:      store,
		Hub:        hub,
		Repository: repo,
		Metrics:    metrics,
		Audit:      audit,
		Health:     lc.Health.Handler(),
		Logger:     logger,
	})

	lc.Add(server.HTTPHook("dashboard", srv.Stop))
	lc.Add(server.ScanQueueHook(sess.Stop))
	lc.Add(server.TracingHook(tp.Shutdown))
	if repo != nil {
		lc.Add(server.GraphDatabaseHook(repo.Close))
	}
	lc.Add(server.LayoutStoreHook(mem.Close))
	lc.Add(server.AuditLogHook(audit.Close))

	lc.Start()

	var g errgroup.Group
	g.Go(func() error {
		if err := srv.Start(); err != nil {
			lc.Stop()
			return err
		}
		return nil
	})
	g.Go(lc.Wait)

	targets := append(append([]string{}, cfg.Scan.Targets...), extraTargets...)
	if len(targets) > 0 {
		logger.Info("queueing startup targets", "targets", targets)
		sess.Enqueue(targets...)
	}

	return g.Wait()
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, nil)
	slog.SetDefault(logger)
	return logger
}

func newAudit(cfg *config.Config) (*observability.AuditLogger, error) {
	audit, err := observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return audit, nil
}

// openRepository connects to Neo4j, filling unset credentials from the
// configured secrets provider.
func openRepository(ctx context.Context, cfg *config.Config) (*graphneo4j.Neo4jRepository, error) {
	sm, err := secrets.NewManager(&secrets.Config{
		Provider: cfg.Secrets.Provider,
		Dir:      cfg.Secrets.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	username := sm.Resolve(ctx, secrets.GraphUsername, cfg.Graph.Username)
	password := sm.Resolve(ctx, secrets.GraphPassword, cfg.Graph.Password)

	repo, err := graphneo4j.NewNeo4j(ctx, cfg.Graph.URI, username, password, cfg.Graph.Database)
	if err != nil {
		return nil, fmt.Errorf("graph database: %w", err)
	}
	return repo, nil
}

func openLayout(cfg config.LayoutConfig, logger *slog.Logger) (layout.Memory, error) {
	if cfg.Backend != config.LayoutBadger {
		return layout.NewMapMemory(), nil
	}
	mem, err := layout.OpenBadger(layout.BadgerConfig{
		Path:       cfg.Path,
		SyncWrites: cfg.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("layout store: %w", err)
	}
	return mem, nil
}

func openSource(cfg config.SourceConfig, logger *slog.Logger) (scanqueue.Source, error) {
	switch cfg.Kind {
	case config.SourceJSONL:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("jsonl source requires source.dir")
		}
		return source.NewJSONL(cfg.Dir), nil
	case config.SourceWS, "":
		ws := source.DefaultWSConfig()
		if cfg.URL != "" {
			ws.URL = cfg.URL
		}
		ws.Depth = cfg.Depth
		ws.Delay = cfg.Delay
		ws.Recursive = cfg.Recursive
		if cfg.HandshakeTimeout > 0 {
			ws.HandshakeTimeout = cfg.HandshakeTimeout
		}
		ws.Logger = logger
		return source.NewWS(ws), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}
