package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"hdbresale/server/config"
	"hdbresale/server/internal/models"
)

var (
	ErrEmptySelection   = errors.New("empty selection")
	ErrInvalidAggregate = errors.New("invalid aggregate")
	ErrInvalidGroupBy   = errors.New("invalid group by")
)

// Aggregates accepted by PivotAverage.
const (
	AggregateMean   = "mean"
	AggregateSum    = "sum"
	AggregateCount  = "count"
	AggregateMedian = "median"
)

// Series dimensions accepted by TimeSeries.
const (
	GroupByTown     = "town"
	GroupByFlatType = "flat_type"
)

type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dsn string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// An in-memory database lives as long as its last connection, and sqlite
	// allows one writer anyway.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &Database{db: db, logger: logger}
	if err := d.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Wrap builds a Database over an existing, already migrated connection.
func Wrap(db *gorm.DB, logger *logrus.Logger) *Database {
	if logger == nil {
		logger = logrus.New()
	}
	return &Database{db: db, logger: logger}
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ClearTransactions empties the working table inside tx.
func ClearTransactions(tx *gorm.DB) error {
	if err := tx.Where("1 = 1").Delete(&models.Transaction{}).Error; err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}
	return nil
}

// insertChunkSize keeps each INSERT under SQLite's limit of 32766 bound
// variables (a transactions row binds 21).
const insertChunkSize = 1000

// InsertTransactions writes one batch inside tx. Store IDs are reassigned.
func InsertTransactions(tx *gorm.DB, batch []models.Transaction) error {
	if len(batch) == 0 {
		return nil
	}
	for i := range batch {
		batch[i].ID = 0
	}
	if err := tx.CreateInBatches(&batch, insertChunkSize).Error; err != nil {
		return fmt.Errorf("failed to insert transactions: %w", err)
	}
	return nil
}

func (d *Database) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&models.Transaction{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// scoped returns a query over the rows matching f, or ErrEmptySelection
// when f cannot match anything.
func (d *Database) scoped(ctx context.Context, f models.Filter) (*gorm.DB, error) {
	if f.IsEmptySelection() {
		return nil, ErrEmptySelection
	}

	q := d.db.WithContext(ctx).Model(&models.Transaction{})
	if f.Towns != nil {
		q = q.Where("town IN ?", f.Towns)
	}
	if f.FlatTypes != nil {
		q = q.Where("flat_type IN ?", f.FlatTypes)
	}
	if f.YearFrom > 0 {
		q = q.Where("year >= ?", f.YearFrom)
	}
	if f.YearTo > 0 {
		q = q.Where("year <= ?", f.YearTo)
	}
	return q, nil
}

// FilterTransactions returns matching rows, most recent first. limit <= 0
// returns everything.
func (d *Database) FilterTransactions(ctx context.Context, f models.Filter, limit int) ([]models.Transaction, error) {
	q, err := d.scoped(ctx, f)
	if errors.Is(err, ErrEmptySelection) {
		return []models.Transaction{}, nil
	}

	q = q.Order("month DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	transactions := []models.Transaction{}
	if err := q.Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return transactions, nil
}

type cell struct {
	FlatType string
	Town     string
	Value    float64
}

// PivotAverage aggregates resale prices with flat types as rows and towns
// as columns. Missing cells are 0.
func (d *Database) PivotAverage(ctx context.Context, f models.Filter, agg string) (*models.PivotTable, error) {
	if agg == "" {
		agg = AggregateMean
	}

	var expr string
	switch agg {
	case AggregateMean:
		expr = "AVG(resale_price)"
	case AggregateSum:
		expr = "SUM(resale_price)"
	case AggregateCount:
		expr = "COUNT(*)"
	case AggregateMedian:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAggregate, agg)
	}

	table := &models.PivotTable{
		Aggregate: agg,
		Index:     []string{},
		Columns:   []string{},
		Values:    map[string][]float64{},
	}

	q, err := d.scoped(ctx, f)
	if errors.Is(err, ErrEmptySelection) {
		return table, nil
	}

	var cells []cell
	if agg == AggregateMedian {
		cells, err = d.medianCells(q)
	} else {
		err = q.Select("flat_type, town, " + expr + " AS value").
			Group("flat_type, town").
			Scan(&cells).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build pivot table: %w", err)
	}

	rows := map[string]bool{}
	cols := map[string]bool{}
	for _, c := range cells {
		rows[c.FlatType] = true
		cols[c.Town] = true
	}
	table.Index = sortFlatTypes(keys(rows))
	table.Columns = keys(cols)
	sort.Strings(table.Columns)

	colIdx := make(map[string]int, len(table.Columns))
	for i, town := range table.Columns {
		colIdx[town] = i
	}
	for _, ft := range table.Index {
		table.Values[ft] = make([]float64, len(table.Columns))
	}
	for _, c := range cells {
		table.Values[c.FlatType][colIdx[c.Town]] = c.Value
	}
	return table, nil
}

func (d *Database) medianCells(q *gorm.DB) ([]cell, error) {
	var rows []cell
	err := q.Select("flat_type, town, resale_price AS value").
		Order("flat_type").Order("town").Order("resale_price").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var cells []cell
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i < len(rows) && rows[i].FlatType == rows[start].FlatType && rows[i].Town == rows[start].Town {
			continue
		}
		values := make([]float64, 0, i-start)
		for _, r := range rows[start:i] {
			values = append(values, r.Value)
		}
		cells = append(cells, cell{
			FlatType: rows[start].FlatType,
			Town:     rows[start].Town,
			Value:    median(values),
		})
		start = i
	}
	return cells, nil
}

// TimeSeries returns the mean resale price per year for each town or flat
// type, one row per (year, series) pair.
func (d *Database) TimeSeries(ctx context.Context, f models.Filter, groupBy string) ([]models.SeriesPoint, error) {
	if groupBy == "" {
		groupBy = GroupByTown
	}
	if groupBy != GroupByTown && groupBy != GroupByFlatType {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroupBy, groupBy)
	}

	points := []models.SeriesPoint{}
	q, err := d.scoped(ctx, f)
	if errors.Is(err, ErrEmptySelection) {
		return points, nil
	}

	err = q.Select("year, " + groupBy + " AS series, AVG(resale_price) AS value, COUNT(*) AS count").
		Group("year, " + groupBy).
		Order("year").Order("series").
		Scan(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query time series: %w", err)
	}
	return points, nil
}

func (d *Database) Summary(ctx context.Context, f models.Filter) (*models.Summary, error) {
	summary := &models.Summary{}
	q, err := d.scoped(ctx, f)
	if errors.Is(err, ErrEmptySelection) {
		return summary, nil
	}

	var row struct {
		Total          int
		AveragePrice   float64
		AvgPricePerSqm float64
		AvgLease       float64
	}
	err = q.Session(&gorm.Session{}).Select(`
		COUNT(*) AS total,
		COALESCE(AVG(resale_price), 0) AS average_price,
		COALESCE(AVG(NULLIF(price_per_sqm, 0)), 0) AS avg_price_per_sqm,
		COALESCE(AVG(remaining_lease), 0) AS avg_lease`).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}

	summary.TotalTransactions = row.Total
	summary.AveragePrice = math.Round(row.AveragePrice)
	summary.AvgPricePerSqm = math.Round(row.AvgPricePerSqm)
	summary.AvgRemainingLease = row.AvgLease
	if row.Total == 0 {
		return summary, nil
	}

	// The middle one or two prices.
	var middle []float64
	err = q.Session(&gorm.Session{}).
		Order("resale_price").
		Offset((row.Total-1)/2).
		Limit(2-row.Total%2).
		Pluck("resale_price", &middle).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query median price: %w", err)
	}
	summary.MedianPrice = median(middle)
	return summary, nil
}

// Options lists the values the filter widgets can offer.
func (d *Database) Options(ctx context.Context) (*models.Options, error) {
	opts := &models.Options{Towns: []string{}, FlatTypes: []string{}}
	db := d.db.WithContext(ctx).Model(&models.Transaction{})

	if err := db.Session(&gorm.Session{}).Distinct("town").Order("town").Pluck("town", &opts.Towns).Error; err != nil {
		return nil, fmt.Errorf("failed to query towns: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Distinct("flat_type").Pluck("flat_type", &opts.FlatTypes).Error; err != nil {
		return nil, fmt.Errorf("failed to query flat types: %w", err)
	}
	opts.FlatTypes = sortFlatTypes(opts.FlatTypes)

	var years struct {
		MinYear int
		MaxYear int
	}
	err := db.Session(&gorm.Session{}).
		Select("COALESCE(MIN(year), 0) AS min_year, COALESCE(MAX(year), 0) AS max_year").
		Scan(&years).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query year range: %w", err)
	}
	opts.MinYear, opts.MaxYear = years.MinYear, years.MaxYear
	return opts, nil
}

// MapPoints groups geocoded transactions by address, busiest first.
func (d *Database) MapPoints(ctx context.Context, f models.Filter, limit int) ([]models.MapPoint, error) {
	points := []models.MapPoint{}
	q, err := d.scoped(ctx, f)
	if errors.Is(err, ErrEmptySelection) {
		return points, nil
	}

	q = q.Select(`
		address,
		town,
		planning_area,
		AVG(latitude) AS latitude,
		AVG(longitude) AS longitude,
		AVG(resale_price) AS resale_price,
		COUNT(*) AS count`).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Group("address, town, planning_area").
		Order("count DESC").Order("address")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to query map points: %w", err)
	}
	return points, nil
}

// AreaStats summarizes matching transactions per planning area. Rows with
// no planning area are left out.
func (d *Database) AreaStats(ctx context.Context, f models.Filter) ([]models.AreaStat, error) {
	stats := []models.AreaStat{}
	q, err := d.scoped(ctx, f)
	if errors.Is(err, ErrEmptySelection) {
		return stats, nil
	}

	err = q.Select(`
		planning_area,
		COUNT(*) AS transactions,
		AVG(resale_price) AS average_price,
		COALESCE(AVG(NULLIF(price_per_sqm, 0)), 0) AS avg_price_per_sqm`).
		Where("planning_area <> ''").
		Group("planning_area").
		Order("planning_area").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query planning area stats: %w", err)
	}
	return stats, nil
}

func median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// sortFlatTypes orders known flat types by size and puts unknown ones last,
// alphabetically.
func sortFlatTypes(flatTypes []string) []string {
	sort.SliceStable(flatTypes, func(i, j int) bool {
		ri, rj := config.FlatTypeRank(flatTypes[i]), config.FlatTypeRank(flatTypes[j])
		if ri < 0 {
			ri = math.MaxInt
		}
		if rj < 0 {
			rj = math.MaxInt
		}
		if ri != rj {
			return ri < rj
		}
		return flatTypes[i] < flatTypes[j]
	})
	return flatTypes
}
