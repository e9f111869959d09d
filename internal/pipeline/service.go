package pipeline

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/smallbiznis/booksight/internal/analytics"
	"github.com/smallbiznis/booksight/internal/clock"
	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/identity"
	"github.com/smallbiznis/booksight/internal/ingest"
	"github.com/smallbiznis/booksight/internal/linker"
	"github.com/smallbiznis/booksight/internal/normalize"
	"github.com/smallbiznis/booksight/internal/observability/metrics"
	"github.com/smallbiznis/booksight/internal/source"
	storedomain "github.com/smallbiznis/booksight/internal/store/domain"
)

// Run outcomes as counted by the recorder.
const (
	outcomeCompleted = "completed"
	outcomeCached    = "cached"
	outcomeFailed    = "failed"
)

// Summary reports the recoverable damage of one run.
type Summary struct {
	Fingerprint         string
	RowsSkipped         int
	NormalizationErrors int
	UnresolvedLinks     int
	Cached              bool
}

// Result is what a trigger receives: the metrics plus the run summary.
type Result struct {
	Report  analytics.Report
	Summary Summary
}

type Params struct {
	fx.In

	Config   config.Config
	Matching *config.MatchingHolder
	Loaders  ingest.Set
	Gateway  storedomain.Gateway
	Log      *zap.Logger
	Clock    clock.Clock
	Recorder *metrics.Recorder
	GenID    *snowflake.Node
}

// Coordinator runs the whole pipeline as one batch: fork-join load and
// normalize per source, then resolve, link, aggregate and persist.
// Concurrent triggers for the same input fingerprint share one run.
type Coordinator struct {
	cfg      config.Config
	matching *config.MatchingHolder
	loaders  ingest.Set
	gateway  storedomain.Gateway
	log      *zap.Logger
	clock    clock.Clock
	recorder *metrics.Recorder
	genID    *snowflake.Node

	normalizer *normalize.Normalizer
	resolver   *identity.Resolver
	linker     *linker.Linker
	aggregator *analytics.Aggregator

	flight singleflight.Group
}

func New(p Params) *Coordinator {
	return &Coordinator{
		cfg:        p.Config,
		matching:   p.Matching,
		loaders:    p.Loaders,
		gateway:    p.Gateway,
		log:        p.Log.Named("pipeline.service"),
		clock:      p.Clock,
		recorder:   p.Recorder,
		genID:      p.GenID,
		normalizer: normalize.New(p.Matching),
		resolver:   identity.NewResolver(p.Matching, p.Log),
		linker:     linker.New(p.Log),
		aggregator: analytics.New(p.Log),
	}
}

var Module = fx.Module("pipeline",
	fx.Provide(New),
)

// Run triggers one pipeline run. An unchanged fingerprint returns the
// published metrics without touching the loaders; concurrent triggers
// wait for and share the in-flight run.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	fingerprint, err := Fingerprint(c.cfg.SourceDirs())
	if err != nil {
		c.recorder.RunOutcome(outcomeFailed)
		return nil, err
	}

	stored, err := c.gateway.LoadExistingFingerprint(ctx)
	if err != nil {
		c.recorder.RunOutcome(outcomeFailed)
		return nil, fmt.Errorf("load existing fingerprint: %w", err)
	}
	if stored == fingerprint {
		report, err := c.gateway.LoadMetrics(ctx)
		if err != nil {
			c.recorder.RunOutcome(outcomeFailed)
			return nil, fmt.Errorf("load cached metrics: %w", err)
		}
		if report != nil {
			c.recorder.RunOutcome(outcomeCached)
			c.log.Info("input unchanged, serving cached metrics", zap.String("fingerprint", fingerprint))
			return &Result{
				Report:  *report,
				Summary: Summary{Fingerprint: fingerprint, Cached: true},
			}, nil
		}
	}

	// execute records its own outcome; counting here as well would
	// multiply one failed run by the number of waiting triggers.
	v, err, shared := c.flight.Do(fingerprint, func() (any, error) {
		return c.execute(ctx, fingerprint)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*Result)
	if shared {
		c.log.Debug("shared in-flight run result", zap.String("fingerprint", fingerprint))
	}
	return result, nil
}

// sourceBatch is one source's normalized output.
type sourceBatch struct {
	customers []normalize.CustomerRecord
	books     []normalize.BookRecord
	txs       []normalize.TransactionRecord

	skipped int
	errs    []normalize.Error
}

func (c *Coordinator) execute(ctx context.Context, fingerprint string) (*Result, error) {
	startedAt := c.clock.Now()
	c.log.Info("pipeline run starting", zap.String("fingerprint", fingerprint))

	tags := source.All()
	batches := make([]*sourceBatch, len(tags))

	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range tags {
		g.Go(func() error {
			batch, err := c.loadSource(gctx, tag)
			if err != nil {
				return fmt.Errorf("source %s: %w", tag, err)
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.recorder.RunOutcome(outcomeFailed)
		return nil, err
	}

	var customers []normalize.CustomerRecord
	var books []normalize.BookRecord
	var txs []normalize.TransactionRecord
	summary := Summary{Fingerprint: fingerprint}
	for _, b := range batches {
		customers = append(customers, b.customers...)
		books = append(books, b.books...)
		txs = append(txs, b.txs...)
		summary.RowsSkipped += b.skipped
		summary.NormalizationErrors += len(b.errs)
	}

	resolution := c.resolver.Resolve(customers, books)
	linked, unresolved := c.linker.Link(txs, resolution)
	summary.UnresolvedLinks = len(unresolved)
	c.recorder.LinksUnresolved(len(unresolved))

	report := c.aggregator.Compute(resolution, linked, c.clock.Now())

	run := storedomain.RunArtifacts{
		RunID:           c.genID.Generate(),
		Fingerprint:     fingerprint,
		StartedAt:       startedAt,
		CompletedAt:     c.clock.Now(),
		Resolution:      resolution,
		Transactions:    linked,
		Report:          report,
		RowsSkipped:     summary.RowsSkipped,
		RowsFailed:      summary.NormalizationErrors,
		UnresolvedLinks: summary.UnresolvedLinks,
	}
	if err := c.gateway.SaveRun(ctx, run); err != nil {
		c.recorder.RunOutcome(outcomeFailed)
		return nil, fmt.Errorf("save run: %w", err)
	}

	c.recorder.RunOutcome(outcomeCompleted)
	c.log.Info("pipeline run complete",
		zap.String("fingerprint", fingerprint),
		zap.Int("canonical_customers", report.UniqueCustomerCount),
		zap.Int("canonical_authors", report.UniqueAuthorCount),
		zap.Int("linked_transactions", len(linked)),
		zap.Int("rows_skipped", summary.RowsSkipped),
		zap.Int("normalization_errors", summary.NormalizationErrors),
		zap.Int("unresolved_links", summary.UnresolvedLinks),
	)
	return &Result{Report: report, Summary: summary}, nil
}

// loadSource reads and normalizes one source. Row-level damage is
// counted; only a missing or unreadable source fails.
func (c *Coordinator) loadSource(ctx context.Context, tag source.Tag) (*sourceBatch, error) {
	loader, ok := c.loaders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: no loader configured", ingest.ErrSourceUnavailable)
	}
	batch := &sourceBatch{}

	var bookRows []source.RawRow
	skipped, err := loader.Load(ctx, source.KindBooks, func(row source.RawRow) error {
		c.recorder.RowLoaded(string(tag), string(source.KindBooks))
		bookRows = append(bookRows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.skipped += skipped
	c.recorder.RowsSkipped(string(tag), string(source.KindBooks), skipped)
	bookRecords, bookErrs := c.normalizer.Books(bookRows)
	batch.books = bookRecords
	batch.errs = append(batch.errs, bookErrs...)
	for range bookErrs {
		c.recorder.RowFailed(string(tag), string(source.KindBooks))
	}

	skipped, err = loader.Load(ctx, source.KindCustomers, func(row source.RawRow) error {
		c.recorder.RowLoaded(string(tag), string(source.KindCustomers))
		rec, nerr := c.normalizer.Customer(row)
		if nerr != nil {
			batch.errs = append(batch.errs, *nerr)
			c.recorder.RowFailed(string(tag), string(source.KindCustomers))
			return nil
		}
		batch.customers = append(batch.customers, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.skipped += skipped
	c.recorder.RowsSkipped(string(tag), string(source.KindCustomers), skipped)

	skipped, err = loader.Load(ctx, source.KindOrders, func(row source.RawRow) error {
		c.recorder.RowLoaded(string(tag), string(source.KindOrders))
		rec, nerr := c.normalizer.Transaction(row)
		if nerr != nil {
			batch.errs = append(batch.errs, *nerr)
			c.recorder.RowFailed(string(tag), string(source.KindOrders))
			return nil
		}
		batch.txs = append(batch.txs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.skipped += skipped
	c.recorder.RowsSkipped(string(tag), string(source.KindOrders), skipped)

	for i := range batch.errs {
		c.log.Warn("row dropped by normalization",
			zap.String("source", string(batch.errs[i].Source)),
			zap.String("kind", string(batch.errs[i].Kind)),
			zap.Int("ordinal", batch.errs[i].Ordinal),
			zap.String("reason", batch.errs[i].Reason),
		)
	}
	return batch, nil
}
