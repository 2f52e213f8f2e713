package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efebarandurmaz/giftmap/internal/config"
	"github.com/efebarandurmaz/giftmap/internal/export"
	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/observability"
	"github.com/efebarandurmaz/giftmap/internal/report"
	"github.com/efebarandurmaz/giftmap/internal/session"
	"github.com/efebarandurmaz/giftmap/internal/source"
)

type replayOptions struct {
	dir            string
	targets        []string
	deriveBioLinks bool
	jsonReport     bool
	recordsPath    string
}

type exportOptions struct {
	dir            string
	targets        []string
	format         string
	output         string
	deriveBioLinks bool
}

// replay runs targets from recordings through a fresh session until the
// queue drains or the process is interrupted.
func replay(dir string, targets []string, deriveBioLinks bool, observer session.Observer, logger *slog.Logger) (*session.Session, error) {
	sess, err := session.New(session.Options{
		Source: source.NewJSONL(dir),
		Config: session.Config{
			Autostart:      true,
			DeriveBioLinks: deriveBioLinks,
		},
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(targets...); err != nil {
		return nil, err
	}
	if err := sess.Wait(ctx); err != nil {
		sess.Stop()
		return sess, fmt.Errorf("replay interrupted: %w", err)
	}
	return sess, nil
}

func runReplay(configPath string, opts replayOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	rec := report.New("jsonl:" + opts.dir)
	sess, err := replay(opts.dir, opts.targets, opts.deriveBioLinks || cfg.Scan.DeriveBioLinks, rec, logger)
	if sess == nil {
		return err
	}
	rep := rec.Finish(sess.Snapshot())

	if opts.recordsPath != "" {
		data, merr := json.MarshalIndent(sess.Records(), "", "  ")
		if merr != nil {
			return fmt.Errorf("encoding records: %w", merr)
		}
		if werr := os.WriteFile(opts.recordsPath, data, 0644); werr != nil {
			return fmt.Errorf("writing records: %w", werr)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d records to %s\n", len(sess.Records()), opts.recordsPath)
	}

	if opts.jsonReport {
		data, jerr := rep.JSON()
		if jerr != nil {
			return jerr
		}
		fmt.Println(string(data))
	} else {
		rep.PrintSummary(os.Stdout)
	}
	return err
}

func runExport(configPath string, opts exportOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sess, err := replay(opts.dir, opts.targets, opts.deriveBioLinks || cfg.Scan.DeriveBioLinks, nil, logger)
	if err != nil {
		return err
	}
	snap := sess.Snapshot()

	if opts.format == "neo4j" {
		return exportNeo4j(cfg, sess.ID(), snap, logger)
	}

	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	start := time.Now()
	data, err := export.Render(snap, format)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", format, err)
	}

	if opts.output == "" {
		fmt.Println(string(data))
	} else {
		if err := os.WriteFile(opts.output, data, 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s export to %s\n", format, opts.output)
	}
	logger.Info("export complete", "format", format, "nodes", len(snap.Nodes), "edges", len(snap.Edges), "duration", time.Since(start))
	fmt.Fprint(os.Stderr, export.FormatStats(export.Build(snap).Stats))
	return nil
}

func exportNeo4j(cfg *config.Config, sessionID string, snap graph.Snapshot, logger *slog.Logger) error {
	if !cfg.Graph.Enabled() {
		return errors.New("neo4j export requires graph.uri to be configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close(context.Background())

	ctx, span := observability.StartExportSpan(ctx, "neo4j")
	defer span.End()

	if err := repo.StoreSnapshot(ctx, sessionID, snap); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("storing snapshot: %w", err)
	}
	nodes, rels, err := repo.CountSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("counting session: %w", err)
	}
	logger.Info("neo4j export complete", "session", sessionID, "nodes", nodes, "relationships", rels)
	fmt.Printf("Stored session %s: %d nodes, %d relationships\n", sessionID, nodes, rels)
	return nil
}
