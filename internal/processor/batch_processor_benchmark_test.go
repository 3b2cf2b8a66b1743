package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"hdbresale/server/config"
)

func BenchmarkReplace(b *testing.B) {
	db := setupTestDB(b)
	logger := quietLogger()

	// Test configurations
	batchSizes := []int{100, 500, 1000}
	rowCounts := []int{1000, 10000}

	for _, batchSize := range batchSizes {
		for _, rowCount := range rowCounts {
			b.Run(fmt.Sprintf("BatchSize_%d_Rows_%d", batchSize, rowCount), func(b *testing.B) {
				cfg := &config.Config{}
				cfg.BatchProcessing.MaxBatchSize = batchSize
				processor := NewBatchProcessor(db, cfg, logger)
				transactions := generateTransactions(rowCount, "Bedok")

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					require.NoError(b, processor.Replace(context.Background(), transactions))
				}
			})
		}
	}
}
