// Package testutil holds shared fixtures for store-backed tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reminder-notify-backend/internal/db"
	"reminder-notify-backend/internal/model"
)

// NewDB opens a private in-memory SQLite database with every table migrated. A single
// connection serializes writers so concurrent tests see SQLite's row semantics without
// lock errors.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// Reminder builds a pending push reminder owned by ownerID.
func Reminder(id, ownerID string, triggerAt time.Time) model.Reminder {
	return model.Reminder{
		ID:        id,
		OwnerID:   ownerID,
		Title:     "Reminder " + id,
		TriggerAt: triggerAt.UTC(),
		Timezone:  "UTC",
		Status:    model.ReminderPending,
		Channels:  []model.Channel{model.ChannelPush},
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
