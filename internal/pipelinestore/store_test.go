package pipelinestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RecordRunThenHistory_ReturnsNewestFirst(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(ctx, Run{
		RanAt:         base,
		Normalization: "MIN_MAX",
		Combination:   "ARITHMETIC_MEAN",
		ShardCount:    2,
		HitCount:      10,
		DurationMS:    5,
	}))
	require.NoError(t, store.RecordRun(ctx, Run{
		RanAt:            base.Add(time.Minute),
		Normalization:    "L2",
		Combination:      "RRF",
		ShardCount:       3,
		HitCount:         20,
		DurationMS:       8,
		ExplainRequested: true,
	}))

	runs, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "L2", runs[0].Normalization)
	assert.Equal(t, "RRF", runs[0].Combination)
	assert.True(t, runs[0].ExplainRequested)
	assert.Equal(t, "MIN_MAX", runs[1].Normalization)
	assert.False(t, runs[1].ExplainRequested)
}

func TestStore_History_RespectsLimit(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordRun(ctx, Run{
			RanAt:         base.Add(time.Duration(i) * time.Hour),
			Normalization: "MIN_MAX",
			Combination:   "ARITHMETIC_MEAN",
			ShardCount:    1,
			HitCount:      i,
			DurationMS:    1,
		}))
	}

	runs, err := store.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 4, runs[0].HitCount)
	assert.Equal(t, 3, runs[1].HitCount)
}

func TestOpen_CreatesParentDirectoryOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "pipeline.db")

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordRun(context.Background(), Run{
		RanAt:         time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Normalization: "Z_SCORE",
		Combination:   "GEOMETRIC_MEAN",
		ShardCount:    1,
		HitCount:      1,
		DurationMS:    1,
	}))
}
