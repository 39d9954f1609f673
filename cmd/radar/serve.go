package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/radarlab/radar/internal/antispam"
	"github.com/radarlab/radar/internal/broker"
	"github.com/radarlab/radar/internal/ceg"
	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/enrich"
	"github.com/radarlab/radar/internal/events"
	"github.com/radarlab/radar/internal/graph"
	"github.com/radarlab/radar/internal/httpapi"
	"github.com/radarlab/radar/internal/images"
	"github.com/radarlab/radar/internal/linker"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/outbox"
	"github.com/radarlab/radar/internal/persistence"
	"github.com/radarlab/radar/internal/persistence/postgres"
	"github.com/radarlab/radar/internal/refdata"
	"github.com/radarlab/radar/internal/sources"
	"github.com/radarlab/radar/internal/study"
)

// app holds everything a subcommand can wire together.
type app struct {
	cfg  *config.Config
	db   *sqlx.DB
	repo *persistence.Repository
	rdb  *redis.Client

	// set by startEnrichment when the corresponding stage is up
	chains  httpapi.ChainService
	sectors httpapi.SectorIndex
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fail(exitConfig, err)
	}

	db, err := postgres.Connect(cfg.Storage)
	if err != nil {
		return nil, fail(exitStorage, err)
	}

	return &app{
		cfg:  cfg,
		db:   db,
		repo: postgres.NewRepository(db, cfg.Storage),
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("db close failed")
	}
	if err := a.rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close failed")
	}
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// waitClean treats context cancellation as a normal shutdown.
func waitClean(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	pub, err := broker.Connect(a.cfg.Broker)
	if err != nil {
		return fail(exitBroker, err)
	}
	defer pub.Close()

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startPollers(ctx, g); err != nil {
		return err
	}
	if err := a.startEnrichment(ctx, g); err != nil {
		return err
	}
	g.Go(func() error { return outbox.NewRelay(a.repo.Outbox, pub, a.cfg.Outbox).Run(ctx) })
	a.startOps(ctx, g)

	log.Info().Str("version", version).Msg("radar started")
	return waitClean(g)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startPollers(ctx, g); err != nil {
		return err
	}
	a.startOps(ctx, g)
	return waitClean(g)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEnrichment(ctx, g); err != nil {
		return err
	}
	a.startOps(ctx, g)
	return waitClean(g)
}

func runRelay(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	pub, err := broker.Connect(a.cfg.Broker)
	if err != nil {
		return fail(exitBroker, err)
	}
	defer pub.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return outbox.NewRelay(a.repo.Outbox, pub, a.cfg.Outbox).Run(ctx) })
	a.startOps(ctx, g)
	return waitClean(g)
}

// boundSource is one registered source with its adapter and poll cadence.
type boundSource struct {
	src      domain.Source
	adapter  sources.Adapter
	interval time.Duration
}

// bindSources registers the configured sources and builds an adapter for
// each. Sources without a usable adapter are skipped with a warning.
func (a *app) bindSources(ctx context.Context) ([]boundSource, error) {
	entries, err := config.LoadSources(sourcesPath)
	if err != nil {
		return nil, fail(exitConfig, err)
	}

	var bound []boundSource
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		src, err := a.repo.Sources.Upsert(ctx, domain.Source{
			Code:        entry.Code,
			Kind:        domain.SourceKind(entry.Kind),
			Name:        entry.Name,
			BaseLocator: entry.Locator,
			TrustLevel:  entry.TrustLevel,
			Enabled:     entry.Enabled,
			Config:      entry.Config,
		})
		if err != nil {
			return nil, fail(exitStorage, fmt.Errorf("failed to register source %s: %w", entry.Code, err))
		}

		adapter, err := sources.NewAdapter(*src, nil)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Code).Msg("source skipped, no usable adapter")
			continue
		}
		bound = append(bound, boundSource{src: *src, adapter: adapter, interval: entry.PollInterval})
	}
	return bound, nil
}

func (a *app) newIngestor() *sources.Ingestor {
	detector := antispam.NewDetector(a.cfg.Antispam)
	imgSvc := images.NewService(30 * time.Second)
	return sources.NewIngestor(detector, a.repo.News, imgSvc)
}

// startPollers registers configured sources and launches one poller each.
// A poller that gives up on a dead source is logged, not fatal.
func (a *app) startPollers(ctx context.Context, g *errgroup.Group) error {
	bound, err := a.bindSources(ctx)
	if err != nil {
		return err
	}
	ingestor := a.newIngestor()

	backlog := func(ctx context.Context) (int64, error) {
		counts, err := a.repo.News.CountByStatus(ctx)
		if err != nil {
			return 0, err
		}
		return counts[domain.EnrichmentPending], nil
	}

	for _, b := range bound {
		poller := sources.NewPoller(b.src, b.adapter, a.repo.Sources, ingestor, backlog, b.interval, a.cfg.Ingest)
		g.Go(func() error {
			if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("poller stopped")
			}
			return nil
		})
	}
	log.Info().Int("pollers", len(bound)).Msg("ingestion started")
	return nil
}

// runBackfill drains each enabled source's history into the store, oldest
// surviving item first per page, then marks the source's backfill complete.
// An interrupt leaves the flag unset so the next run resumes.
func runBackfill(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	bound, err := a.bindSources(ctx)
	if err != nil {
		return err
	}
	ingestor := a.newIngestor()

	for _, b := range bound {
		st, err := a.repo.Sources.GetParserState(ctx, b.src.ID)
		if err != nil {
			return fail(exitStorage, err)
		}
		if st.BackfillCompleted {
			log.Info().Str("source", b.src.Code).Msg("backfill already complete")
			continue
		}

		stream, err := b.adapter.Backfill(ctx, b.src, a.cfg.Ingest.MaxBackfillDays)
		if err != nil {
			log.Error().Err(err).Str("source", b.src.Code).Msg("backfill failed to start")
			continue
		}

		stored := 0
		for raw := range stream {
			if err := ingestor.Ingest(ctx, b.src, raw); err != nil {
				log.Warn().Err(err).Str("source", b.src.Code).Msg("backfill item rejected")
				continue
			}
			stored++
		}
		if ctx.Err() != nil {
			log.Warn().Str("source", b.src.Code).Msg("backfill interrupted")
			return nil
		}

		st.BackfillCompleted = true
		if err := a.repo.Sources.SaveParserState(ctx, *st); err != nil {
			return fail(exitStorage, err)
		}
		log.Info().Str("source", b.src.Code).Int("stored", stored).Msg("backfill finished")
	}
	return nil
}

// startEnrichment wires the full enrichment stack: linker, extractor, event
// extraction, causal engine, market analyser, and the graph mirror. A graph
// store that is down degrades the process instead of stopping it: causal
// linking and mirroring are skipped until restart.
func (a *app) startEnrichment(ctx context.Context, g *errgroup.Group) error {
	secClient := refdata.WithCache(
		refdata.NewSecuritiesClient(a.cfg.SecMaster),
		a.rdb,
		time.Duration(a.cfg.SecMaster.CacheTTL)*time.Second,
	)
	refSvc := refdata.NewService(secClient, a.repo.Issuers)
	a.sectors = refSvc

	aliasCache := linker.NewAliasCache(a.repo.Aliases, a.rdb)
	if err := aliasCache.Load(ctx); err != nil {
		return fail(exitStorage, fmt.Errorf("failed to load alias cache: %w", err))
	}
	g.Go(func() error { return aliasCache.Run(ctx) })
	lk := linker.New(aliasCache, refSvc)

	analyser := study.NewAnalyser(study.NewPriceClient(a.cfg.PriceAPI), a.cfg.EventStudy)

	var (
		engine *ceg.Engine
		sink   enrich.GraphSink
	)
	writer, err := graph.NewWriter(a.cfg.Graph)
	if err != nil {
		log.Warn().Err(err).Msg("graph store unavailable, causal linking disabled")
	} else {
		if err := writer.EnsureConstraints(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to ensure graph constraints")
		}
		engine = ceg.NewEngine(a.cfg.CEG, a.repo.Events, a.repo.News, writer, analyser)
		sink = writer
		a.chains = engine
		g.Go(func() error {
			<-ctx.Done()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("graph close failed")
			}
			return ctx.Err()
		})
	}

	pipeline := enrich.NewPipeline(
		*a.repo,
		enrich.NewExtractor(a.cfg.Extractor),
		lk,
		events.NewExtractor(a.cfg.CEG.AnchorTypes, a.cfg.CEG.MaxEventsPerNews),
		engine,
		analyser,
		sink,
		a.cfg.Enrichment,
	)
	g.Go(func() error { return pipeline.Run(ctx) })

	log.Info().Int("workers", a.cfg.Enrichment.Workers).Bool("graph", sink != nil).Msg("enrichment started")
	return nil
}

// startOps launches the HTTP surface and the queue-depth sampler.
func (a *app) startOps(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return httpapi.NewServer(a.cfg.HTTP.Addr, *a.repo, a.chains, a.sectors).Run(ctx) })
	g.Go(func() error { return metrics.NewSampler(*a.repo, 15*time.Second).Run(ctx) })
}
