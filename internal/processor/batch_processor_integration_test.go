package processor

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hompare/internal/database"
	"hompare/internal/models"
	"hompare/internal/queue"
	"hompare/internal/storage/storagetest"
)

func setupTestDB(t testing.TB) (*database.Database, int64) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := database.NewDatabase(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	cityID, err := db.UpsertCity(ctx, models.City{Name: "Thessaloniki"})
	require.NoError(t, err)
	areaID, err := db.UpsertArea(ctx, models.Area{Name: "Thessaloniki", CityID: cityID, WholeCity: true})
	require.NoError(t, err)
	return db, areaID
}

func countEntries(t *testing.T, db *database.Database, areaID int64) int {
	t.Helper()
	sess, err := db.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Release()

	entries, err := sess.QueryEntries(context.Background(), models.EntryQuery{
		Scope:     models.Scope{AreaID: &areaID},
		PriceType: models.PriceTypeBuy,
	})
	require.NoError(t, err)
	return len(entries)
}

func TestBatchProcessingIntegration(t *testing.T) {
	db, areaID := setupTestDB(t)
	cfg := testConfig(100, 1)

	processor := NewBatchProcessor(db, queue.NewEntryQueue(4, nil), cfg, quietLogger())
	ctx := context.Background()
	processor.Start(ctx)

	entries := make([]models.PriceEntry, 250)
	for i := range entries {
		entries[i] = storagetest.Entry(areaID, models.PriceTypeBuy, 40+i%60, int64(1000+i), storagetest.Date(2024, 1, 1+i%28))
	}
	require.NoError(t, processor.Submit(ctx, entries))

	stats, err := processor.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Batches: 3, Entries: 250}, stats)
	assert.Equal(t, 250, countEntries(t, db, areaID))
}

func TestBatchProcessingConcurrentSubmit(t *testing.T) {
	db, areaID := setupTestDB(t)
	processor := NewBatchProcessor(db, queue.NewEntryQueue(2, nil), testConfig(20, 1), quietLogger())
	ctx := context.Background()
	processor.Start(ctx)

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]models.PriceEntry, 20)
			for j := range batch {
				batch[j] = storagetest.Entry(areaID, models.PriceTypeBuy, 50+j, int64(500*(w+1)), storagetest.Date(2024, 2, 1))
			}
			assert.NoError(t, processor.Submit(ctx, batch))
		}(w)
	}
	wg.Wait()

	stats, err := processor.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Batches)
	assert.Equal(t, 100, countEntries(t, db, areaID))
}

func TestBatchProcessingInvalidBatchIsAtomic(t *testing.T) {
	db, areaID := setupTestDB(t)
	processor := NewBatchProcessor(db, queue.NewEntryQueue(4, nil), testConfig(3, 2), quietLogger())
	ctx := context.Background()
	processor.Start(ctx)

	entries := []models.PriceEntry{
		storagetest.Entry(areaID, models.PriceTypeBuy, 50, 500, storagetest.Date(2024, 1, 1)),
		storagetest.Entry(areaID, models.PriceTypeBuy, 60, 600, storagetest.Date(2024, 1, 1)),
		storagetest.Entry(areaID, models.PriceTypeBuy, 70, 700, storagetest.Date(2024, 1, 1)),
		storagetest.Entry(areaID, models.PriceTypeBuy, 80, 800, storagetest.Date(2024, 1, 2)),
		storagetest.Entry(areaID, models.PriceTypeBuy, 0, 900, storagetest.Date(2024, 1, 2)),
	}
	require.NoError(t, processor.Submit(ctx, entries))

	stats, err := processor.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Batches: 1, Entries: 3, FailedBatches: 1, FailedEntries: 2}, stats)
	assert.Equal(t, 3, countEntries(t, db, areaID))
}
