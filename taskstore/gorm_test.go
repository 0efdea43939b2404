package taskstore

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/taskbridge/types"
)

func newTestGormStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestGormStore(t *testing.T) {
	runStoreSuite(t, newTestGormStore)
}

func TestGormStoreRoundTripsJSONColumns(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	record := newQueuedRecord("t1")
	record.Parameters = map[string]any{"depth": "deep", "limit": float64(3)}
	record.Artifacts = []string{"s3://bucket/report.pdf"}
	require.NoError(t, store.Create(ctx, record))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "deep", got.Parameters["depth"])
	assert.Equal(t, float64(3), got.Parameters["limit"])
	assert.Equal(t, []string{"s3://bucket/report.pdf"}, got.Artifacts)
	assert.Equal(t, types.StatusQueued, got.Status)
}
