package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-backend/config"
	"venue-backend/internal/model"
)

func TestInit_InMemoryMigratesAllTables(t *testing.T) {
	gdb, err := Init(&config.DatabaseConfig{
		Driver:       DriverSQLite3,
		DSN:          "file::memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)

	for _, table := range []any{
		&model.Reservation{},
		&model.RoomStats{},
		&model.Auction{},
		&model.BidHistoryEntry{},
		&model.Settlement{},
		&model.PushSubscription{},
		&model.RoomSubscription{},
	} {
		assert.True(t, gdb.Migrator().HasTable(table), "missing table for %T", table)
	}
}

func TestInit_PureGoDriverOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.db")
	gdb, err := Init(&config.DatabaseConfig{Driver: DriverSQLite, DSN: path, MaxOpenConns: 2, MaxIdleConns: 2})
	require.NoError(t, err)
	assert.True(t, gdb.Migrator().HasIndex(&model.Reservation{}, "idx_reservation_slot"))
}

func TestInit_UnsupportedDriver(t *testing.T) {
	_, err := Init(&config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestInit_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "venue.db")
	_, err := Init(&config.DatabaseConfig{Driver: DriverSQLite, DSN: path})
	require.Error(t, err)
}
