package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hdbresale/server/config"
	"hdbresale/server/internal/cache"
	"hdbresale/server/internal/database"
	"hdbresale/server/internal/fetch"
	"hdbresale/server/internal/geocoding"
	"hdbresale/server/internal/geometry"
	"hdbresale/server/internal/loader"
	"hdbresale/server/internal/metrics"
	"hdbresale/server/internal/models"
	"hdbresale/server/internal/processor"
	"hdbresale/server/internal/transform"
)

const datasetFunction = "dataset"

type DataLoader interface {
	Load(ctx context.Context) (*loader.Dataset, error)
}

type Writer interface {
	Replace(ctx context.Context, transactions []models.Transaction) error
}

type BoundarySource interface {
	FetchBoundaries(ctx context.Context) ([]byte, error)
}

type Deps struct {
	Loader DataLoader
	Writer Writer

	// Enricher fills coordinates missing from the source rows. Optional.
	Enricher transform.Enricher

	// BoundariesPath is read first; when it is missing, Boundaries is asked
	// for the document and the result is saved to BoundariesPath.
	BoundariesPath string
	Boundaries     BoundarySource

	Memo *cache.Memo
}

// State describes the working table currently in the store.
type State struct {
	Generation    int64             `json:"generation"`
	Rows          int               `json:"rows"`
	PlanningAreas int               `json:"planning_areas"`
	Report        models.LoadReport `json:"report"`
}

// Pipeline builds the working table: load, transform, geocode, resolve
// planning areas and write to the store. The result is memoized until the
// cache TTL lapses or Refresh is called.
type Pipeline struct {
	deps       Deps
	logger     *logrus.Logger
	generation atomic.Int64

	resolverMu sync.RWMutex
	resolver   *geometry.Resolver

	closers []func()
}

func New(deps Deps, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Memo == nil {
		deps.Memo = cache.New(time.Hour)
	}
	return &Pipeline{
		deps:     deps,
		logger:   logger,
		resolver: geometry.NewResolver(nil, logger),
	}
}

// FromConfig wires the production dependencies.
func FromConfig(cfg *config.Config, db *database.Database, memo *cache.Memo, logger *logrus.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logrus.New()
	}

	reference, err := loader.ReadCoordinatesFile(cfg.CoordinatesPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load coordinate reference table: %w", err)
		}
		logger.WithField("path", cfg.CoordinatesPath()).Warn("No coordinate reference table, relying on source coordinates")
	}

	geoOpts := geocoding.Options{CacheDir: cfg.Data.CacheDir}
	if cfg.Remote.GeocodeEnabled {
		geoOpts.SearchURL = cfg.Remote.GeocodeURL
		geoOpts.Delay = 100 * time.Millisecond
		geoOpts.Remote = fetch.NewClient(fetch.Config{
			Timeout:    cfg.RemoteTimeout(),
			MaxRetries: cfg.Remote.MaxRetries,
		}, logger)
	}
	geocoder := geocoding.NewGeocoder(logger, reference, geoOpts)

	loaderOpts := loader.Options{
		Partitions:   cfg.PartitionPaths(),
		SnapshotPath: cfg.SnapshotPath(),
		PoolSize:     cfg.Loader.PoolSize,
	}

	deps := Deps{
		Writer:         processor.NewBatchProcessor(db.GetDB(), cfg, logger),
		Enricher:       geocoder,
		BoundariesPath: cfg.BoundariesPath(),
		Memo:           memo,
	}

	if cfg.Remote.Enabled {
		client := fetch.NewClient(fetch.Config{
			DatastoreURL:      cfg.Remote.DatastoreURL,
			ResourceID:        cfg.Remote.ResourceID,
			DownloadURL:       cfg.Remote.DownloadURL,
			BoundaryDatasetID: cfg.Remote.BoundaryDatasetID,
			PageSize:          cfg.Remote.PageSize,
			Timeout:           cfg.RemoteTimeout(),
			MaxRetries:        cfg.Remote.MaxRetries,
		}, logger)
		loaderOpts.Remote = client
		deps.Boundaries = client
	}

	l := loader.NewLoader(loaderOpts, logger)
	deps.Loader = l

	p := New(deps, logger)
	p.closers = append(p.closers, l.Close)
	return p, nil
}

func (p *Pipeline) Close() {
	for _, c := range p.closers {
		c()
	}
}

// Generation identifies the working table; it changes on every load.
func (p *Pipeline) Generation() int64 {
	return p.generation.Load()
}

// Resolver returns the planning area resolver of the latest load.
func (p *Pipeline) Resolver() *geometry.Resolver {
	p.resolverMu.RLock()
	defer p.resolverMu.RUnlock()
	return p.resolver
}

func (p *Pipeline) Memo() *cache.Memo {
	return p.deps.Memo
}

// Dataset returns the current working table state, building it on first use.
func (p *Pipeline) Dataset(ctx context.Context) (*State, error) {
	return cache.Load(ctx, p.deps.Memo, cache.Key(datasetFunction), p.build)
}

// Refresh drops every memoized result and rebuilds the working table.
func (p *Pipeline) Refresh(ctx context.Context) (*State, error) {
	p.logger.WithField("entries", p.deps.Memo.Len()).Info("Purging memoized results")
	p.deps.Memo.Purge()
	return p.Dataset(ctx)
}

func (p *Pipeline) build(ctx context.Context) (*State, error) {
	start := time.Now()
	state, err := p.run(ctx)
	metrics.LoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LoadOutcomes.WithLabelValues("error").Inc()
		p.logger.WithError(err).Error("Failed to build working table")
		return nil, err
	}
	metrics.LoadOutcomes.WithLabelValues("success").Inc()
	return state, nil
}

func (p *Pipeline) run(ctx context.Context) (*State, error) {
	dataset, err := p.deps.Loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	for _, part := range dataset.Partitions {
		metrics.RowsLoaded.WithLabelValues(part.Source).Add(float64(part.Rows))
	}

	resolver := geometry.NewResolver(p.loadBoundaries(ctx), p.logger)

	result, err := transform.TransformAll(ctx, dataset.Records, p.deps.Enricher, resolver, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to transform dataset: %w", err)
	}

	if err := p.deps.Writer.Replace(ctx, result.Transactions); err != nil {
		return nil, err
	}

	p.resolverMu.Lock()
	p.resolver = resolver
	p.resolverMu.Unlock()

	state := &State{
		Generation:    p.generation.Add(1),
		Rows:          len(result.Transactions),
		PlanningAreas: resolver.Len(),
		Report: models.LoadReport{
			Partitions:  dataset.Partitions,
			TotalRows:   len(dataset.Records),
			SkippedRows: result.Skipped,
			Geocoded:    result.Geocoded,
			Resolved:    result.Resolved,
			Unresolved:  result.Unresolved,
			LoadedAt:    time.Now(),
		},
	}
	metrics.WorkingTableRows.Set(float64(state.Rows))

	p.logger.WithFields(logrus.Fields{
		"generation":     state.Generation,
		"rows":           state.Rows,
		"raw_rows":       state.Report.TotalRows,
		"skipped":        state.Report.SkippedRows,
		"planning_areas": state.PlanningAreas,
	}).Info("Working table ready")
	return state, nil
}

// loadBoundaries never fails the load: without boundaries every row simply
// has no planning area.
func (p *Pipeline) loadBoundaries(ctx context.Context) []geometry.Boundary {
	if p.deps.BoundariesPath != "" {
		boundaries, err := geometry.LoadBoundariesFile(p.deps.BoundariesPath, p.logger)
		if err == nil {
			return boundaries
		}
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.WithError(err).WithField("path", p.deps.BoundariesPath).Warn("Failed to read planning area boundaries")
		}
	}

	if p.deps.Boundaries == nil {
		p.logger.Warn("No planning area boundaries available")
		return nil
	}

	data, err := p.deps.Boundaries.FetchBoundaries(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to download planning area boundaries")
		return nil
	}
	boundaries, err := geometry.ParseBoundaries(data, p.logger)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to parse downloaded planning area boundaries")
		return nil
	}

	if p.deps.BoundariesPath != "" {
		if err := geometry.SaveBoundaries(p.deps.BoundariesPath, boundaries, p.logger); err != nil {
			p.logger.WithError(err).Warn("Failed to save planning area boundaries")
		}
	}
	return boundaries
}
