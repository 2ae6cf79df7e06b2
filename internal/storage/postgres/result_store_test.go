package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-lab/internal/domain"
	"candle-lab/internal/storage"
)

func sampleResult(asset, specID string, entryTS int64) *domain.SimulationResult {
	return &domain.SimulationResult{
		Asset:          asset,
		SpecID:         specID,
		Entered:        true,
		EntryTimestamp: entryTS,
		EntryPrice:     1.0,
		ExitTimestamp:  entryTS + 3600,
		ExitPrice:      2.0,
		NetMultiple:    1.98,
		Events: []domain.SimulationEvent{
			{Timestamp: entryTS, Price: 1.0, Type: domain.EventEntry, SizeFraction: 1.0},
			{Timestamp: entryTS + 3600, Price: 2.0, Type: domain.EventTargetExit, SizeFraction: 1.0},
		},
		ATHPrice:     2.2,
		ATHTimestamp: entryTS + 1800,
		ATLPrice:     0.9,
		ATLTimestamp: entryTS + 300,
		MaxDrawdown:  0.15,
		TotalCandles: 60,
		Terminal:     domain.TerminalFullyExited,
	}
}

func TestResultStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewResultStore(pool)
	ctx := context.Background()

	r := sampleResult("assetA", "spec-1", 1700000000)
	require.NoError(t, store.Insert(ctx, r))
	assert.ErrorIs(t, store.Insert(ctx, r), storage.ErrDuplicateKey)

	require.NoError(t, store.Insert(ctx, sampleResult("assetA", "spec-1", 1700003600)))

	bySpec, err := store.GetBySpecID(ctx, "spec-1")
	require.NoError(t, err)
	require.Len(t, bySpec, 2)
	assert.Equal(t, int64(1700000000), bySpec[0].EntryTimestamp)
	require.Len(t, bySpec[0].Events, 2)
	assert.Equal(t, domain.EventEntry, bySpec[0].Events[0].Type)
	assert.Equal(t, domain.TerminalFullyExited, bySpec[0].Terminal)

	byAsset, err := store.GetByAsset(ctx, "assetA")
	require.NoError(t, err)
	assert.Len(t, byAsset, 2)

	empty, err := store.GetByAsset(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestResultStore_InsertBulkAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewResultStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleResult("assetA", "spec-1", 1700000000)))

	batch := []*domain.SimulationResult{
		sampleResult("assetB", "spec-1", 1700000000),
		sampleResult("assetA", "spec-1", 1700000000), // duplicate of stored
	}
	assert.ErrorIs(t, store.InsertBulk(ctx, batch), storage.ErrDuplicateKey)

	// Nothing from the failed batch was written.
	byAsset, err := store.GetByAsset(ctx, "assetB")
	require.NoError(t, err)
	assert.Empty(t, byAsset)

	ok := []*domain.SimulationResult{
		sampleResult("assetC", "spec-2", 1700000000),
		sampleResult("assetC", "spec-2", 1700003600),
	}
	require.NoError(t, store.InsertBulk(ctx, ok))
	results, err := store.GetBySpecID(ctx, "spec-2")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestResultStore_NoEntryResult(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewResultStore(pool)
	ctx := context.Background()

	r := &domain.SimulationResult{
		Asset:         "assetA",
		SpecID:        "spec-1",
		Entered:       false,
		NoEntryReason: domain.NoEntryWindowExpired,
		TotalCandles:  30,
	}
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetBySpecID(ctx, "spec-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Entered)
	assert.Equal(t, domain.NoEntryWindowExpired, got[0].NoEntryReason)
	assert.Empty(t, got[0].Events)
}
