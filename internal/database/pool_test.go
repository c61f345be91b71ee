package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/BaSui01/svdflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openMemory(t *testing.T) *PoolManager {
	t.Helper()
	pool := DefaultPoolConfig()
	pool.HealthCheckInterval = 0
	pm, err := Open(config.SQLConfig{Driver: "sqlite", DSN: ":memory:"}, pool, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	return pm
}

func TestOpen_SQLiteMemory(t *testing.T) {
	pm := openMemory(t)

	require.NoError(t, pm.Ping(context.Background()))
	assert.Equal(t, "sqlite", pm.Driver())
	assert.Equal(t, 1, pm.Stats().MaxOpenConnections)
}

func TestOpen_SQLiteFileCreatesDir(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "jobs.db")
	pool := DefaultPoolConfig()
	pool.HealthCheckInterval = 0

	pm, err := Open(config.SQLConfig{Driver: "sqlite", DSN: dsn}, pool, nil)
	require.NoError(t, err)
	defer pm.Close()

	assert.FileExists(t, dsn)
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		d, err := Dialector(config.SQLConfig{Driver: driver, DSN: ":memory:"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector(config.SQLConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_CloseIdempotent(t *testing.T) {
	pool := DefaultPoolConfig()
	pm, err := Open(config.SQLConfig{Driver: "sqlite", DSN: ":memory:"}, pool, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())
	assert.Error(t, pm.Ping(context.Background()))
	assert.Error(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))
}

type kv struct {
	K string `gorm:"primaryKey"`
	V string
}

func TestPoolManager_WithTransaction(t *testing.T) {
	pm := openMemory(t)
	ctx := context.Background()
	require.NoError(t, pm.DB().AutoMigrate(&kv{}))

	require.NoError(t, pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&kv{K: "a", V: "1"}).Error
	}))

	err := pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&kv{K: "b", V: "2"}).Error; err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int64
	require.NoError(t, pm.DB().Model(&kv{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
