package processor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hdbresale/server/config"
	"hdbresale/server/internal/database"
	"hdbresale/server/internal/models"
)

// TxRunner is the part of *gorm.DB the processor needs.
type TxRunner interface {
	Transaction(fc func(*gorm.DB) error, opts ...*sql.TxOptions) error
}

// BatchProcessor writes transactions to the working table in batches
type BatchProcessor struct {
	db     TxRunner
	logger *logrus.Logger
	config *config.Config
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(db TxRunner, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchProcessor{
		db:     db,
		config: config,
		logger: logger,
	}
}

func (p *BatchProcessor) batchSize() int {
	if p.config.BatchProcessing.MaxBatchSize <= 0 {
		return 1000
	}
	return p.config.BatchProcessing.MaxBatchSize
}

// Replace swaps the working table contents for transactions. The swap is a
// single transaction: readers see either the old rows or all of the new ones.
// Each batch runs in a nested transaction and is retried on its own.
func (p *BatchProcessor) Replace(ctx context.Context, transactions []models.Transaction) error {
	size := p.batchSize()
	start := time.Now()

	err := p.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		if err := database.ClearTransactions(tx); err != nil {
			return err
		}
		for lo := 0; lo < len(transactions); lo += size {
			hi := min(lo+size, len(transactions))
			if err := p.processBatch(ctx, tx, transactions[lo:hi]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace transactions: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"rows":     len(transactions),
		"batches":  (len(transactions) + size - 1) / size,
		"duration": time.Since(start).String(),
	}).Info("Replaced working table")
	return nil
}

// processBatch writes a single batch with transaction and retry logic
func (p *BatchProcessor) processBatch(ctx context.Context, db TxRunner, batch []models.Transaction) error {
	maxRetries := p.config.BatchProcessing.MaxRetries
	delay := time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch, attempt %d of %d", attempt, maxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			return database.InsertTransactions(tx, batch)
		})
		if err == nil {
			p.logger.Debugf("Wrote batch of %d transactions", len(batch))
			return nil
		}

		p.logger.WithError(err).Error("Batch write failed")
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", maxRetries+1, err)
}
