package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reminder-notify-backend/config"
	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
)

// Models lists every table the service owns, in migration order.
var Models = []interface{}{
	&model.UserProfile{},
	&model.Routine{},
	&model.Reminder{},
	&model.QueueItem{},
	&model.PushSubscription{},
	&model.SyncRequest{},
}

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	logLevel := gormlogger.Warn
	if cfg.LogQueries {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	logger.Info("running database migrations", "driver", dialector.Name())
	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table in Models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// dialectorFor picks the gorm driver. An explicit driver wins; otherwise postgres URLs
// and key/value DSNs go to postgres and everything else is treated as a sqlite path.
func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	driver := cfg.Driver
	if driver == "" {
		switch {
		case strings.HasPrefix(cfg.DSN, "postgres://"),
			strings.HasPrefix(cfg.DSN, "postgresql://"),
			strings.Contains(cfg.DSN, "host="):
			driver = "postgres"
		default:
			driver = "sqlite"
		}
	}

	switch driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(strings.TrimPrefix(cfg.DSN, "sqlite://")), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
