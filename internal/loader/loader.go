package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"

	"hdbresale/server/internal/models"
)

// RemoteSource supplies the current month's transactions.
type RemoteSource interface {
	FetchMonth(ctx context.Context, month string) ([]models.RawRecord, error)
}

type Options struct {
	Partitions   []string
	SnapshotPath string
	PoolSize     int

	// Remote is optional; when set the current month is fetched, merged into
	// the snapshot and appended to the dataset.
	Remote RemoteSource

	// Now defaults to time.Now and picks the month fetched from Remote.
	Now func() time.Time
}

// Dataset is the concatenated raw table with per-source row counts.
type Dataset struct {
	Records    []models.RawRecord
	Partitions []models.PartitionCount
}

func (d *Dataset) append(source string, records []models.RawRecord) {
	d.Records = append(d.Records, records...)
	d.Partitions = append(d.Partitions, models.PartitionCount{Source: source, Rows: len(records)})
}

type Loader struct {
	opts   Options
	logger *logrus.Logger
	pool   pond.ResultPool[[]models.RawRecord]
}

func NewLoader(opts Options, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loader{
		opts:   opts,
		logger: logger,
		pool:   pond.NewResultPool[[]models.RawRecord](opts.PoolSize),
	}
}

// Close stops the partition reader pool.
func (l *Loader) Close() {
	l.pool.StopAndWait()
}

// LoadPartitions reads every partition concurrently and concatenates them in
// the order given. Any unreadable partition fails the whole load.
func (l *Loader) LoadPartitions(ctx context.Context, paths []string) (*Dataset, error) {
	group := l.pool.NewGroupContext(ctx)
	for _, path := range paths {
		group.SubmitErr(func() ([]models.RawRecord, error) {
			records, err := ReadCSVFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load partition %s: %w", filepath.Base(path), err)
			}
			return records, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, err
	}

	total := 0
	for _, records := range results {
		total += len(records)
	}

	dataset := &Dataset{Records: make([]models.RawRecord, 0, total)}
	for i, records := range results {
		dataset.append(filepath.Base(paths[i]), records)
		l.logger.WithFields(logrus.Fields{
			"partition": filepath.Base(paths[i]),
			"rows":      len(records),
		}).Info("Loaded partition")
	}
	return dataset, nil
}

// Load reads the historical partitions, the Parquet snapshot and, when a
// remote source is configured, the current month.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	dataset, err := l.LoadPartitions(ctx, l.opts.Partitions)
	if err != nil {
		return nil, err
	}

	snapshot, err := ReadSnapshot(ctx, l.opts.SnapshotPath)
	if err != nil {
		return nil, err
	}

	if l.opts.Remote != nil {
		month := l.opts.Now().Format("2006-01")
		current, err := l.opts.Remote.FetchMonth(ctx, month)
		if err != nil {
			l.logger.WithError(err).WithField("month", month).Error("Failed to fetch current month, using snapshot only")
		} else {
			snapshot = mergeMonth(snapshot, current, month)
			if err := WriteSnapshot(ctx, l.opts.SnapshotPath, snapshot); err != nil {
				l.logger.WithError(err).Error("Failed to save snapshot")
			}
		}
	}

	if len(snapshot) > 0 {
		dataset.append(SnapshotSource, snapshot)
		l.logger.WithField("rows", len(snapshot)).Info("Loaded snapshot")
	}

	return dataset, nil
}

// mergeMonth replaces the rows of month in snapshot with current.
func mergeMonth(snapshot, current []models.RawRecord, month string) []models.RawRecord {
	merged := make([]models.RawRecord, 0, len(snapshot)+len(current))
	for _, record := range snapshot {
		if record.Get("month") != month {
			merged = append(merged, record)
		}
	}
	for _, record := range current {
		merged = append(merged, models.RawRecord{Source: SnapshotSource, Fields: record.Fields})
	}
	return merged
}
