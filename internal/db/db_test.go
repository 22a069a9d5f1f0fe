package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-notify-backend/config"
	"reminder-notify-backend/internal/model"
)

func TestDialectorFor(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.DatabaseConfig
		want    string
		wantErr bool
	}{
		{name: "postgres url", cfg: config.DatabaseConfig{DSN: "postgres://user:pw@localhost:5432/reminders"}, want: "postgres"},
		{name: "postgres key value", cfg: config.DatabaseConfig{DSN: "host=localhost user=app dbname=reminders"}, want: "postgres"},
		{name: "sqlite path", cfg: config.DatabaseConfig{DSN: "./data/reminders.db"}, want: "sqlite"},
		{name: "sqlite scheme", cfg: config.DatabaseConfig{DSN: "sqlite://file::memory:"}, want: "sqlite"},
		{name: "explicit driver wins", cfg: config.DatabaseConfig{Driver: "sqlite", DSN: "host=ignored"}, want: "sqlite"},
		{name: "unknown driver", cfg: config.DatabaseConfig{Driver: "mysql", DSN: "x"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := dialectorFor(&tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Name())
		})
	}
}

func TestInit_SQLiteMigratesAllTables(t *testing.T) {
	gormDB, err := Init(&config.DatabaseConfig{
		DSN:          "file:db_init_test?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	for _, m := range []interface{}{
		&model.Reminder{}, &model.Routine{}, &model.QueueItem{},
		&model.PushSubscription{}, &model.UserProfile{}, &model.SyncRequest{},
	} {
		assert.True(t, gormDB.Migrator().HasTable(m))
	}
}
