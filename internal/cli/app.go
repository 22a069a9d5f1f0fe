package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"reminder-notify-backend/config"
	"reminder-notify-backend/internal/db"
	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/notification"
	"reminder-notify-backend/internal/pushsub"
	"reminder-notify-backend/internal/queuesync"
	"reminder-notify-backend/internal/routine"
	"reminder-notify-backend/internal/store"
	"reminder-notify-backend/internal/window"
)

// app is the wired set of services every database-backed command shares.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	store      store.Store
	webpush    *webpush.Options
	syncer     *queuesync.Syncer
	dispatcher *notification.Dispatcher
	registry   *pushsub.Registry
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	if err := logger.Init(logger.Config{Debug: cfg.Log.Debug, File: cfg.Log.File, JSON: cfg.Log.JSON}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("configuration loaded", "path", configPath)
	return cfg, nil
}

// windowPolicy converts the configured categories into a window policy.
func windowPolicy(cfg config.WindowsConfig) *window.Policy {
	cats := make([]window.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		cats = append(cats, window.Category{
			Type:      c.Type,
			Lead:      time.Duration(c.LeadMinutes) * time.Minute,
			Tolerance: time.Duration(c.ToleranceSeconds) * time.Second,
		})
	}
	return window.NewPolicy(cats, time.Duration(cfg.ExactGraceMinutes)*time.Minute)
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := store.NewGormStore(gormDB)
	policy := windowPolicy(cfg.Windows)

	a := &app{
		cfg:      cfg,
		db:       gormDB,
		store:    s,
		registry: pushsub.NewRegistry(s),
	}

	materializer := routine.NewMaterializer(s,
		time.Duration(cfg.Sync.RoutineHorizonDays)*24*time.Hour, cfg.Sync.RoutineMaxOccurrences)
	a.syncer = queuesync.NewSyncer(s, policy, materializer, queuesync.Options{
		SweepInterval:     cfg.Sync.SweepInterval,
		ClaimTimeout:      cfg.Sync.ClaimTimeout,
		OutboxBatch:       cfg.Sync.OutboxBatchSize,
		OutboxMaxAttempts: cfg.Sync.OutboxMaxAttempts,
	})

	var transports []notification.Transport
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		a.webpush = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
			Urgency:         webpush.Urgency(cfg.Push.Urgency),
			HTTPClient:      &http.Client{Timeout: cfg.Push.Timeout},
		}
		transports = append(transports, notification.NewPushTransport(s, a.webpush, cfg.Push.Timeout))
	} else {
		logger.Warn("VAPID keys are not configured, push delivery is disabled")
	}
	if cfg.Email.Enabled {
		transports = append(transports, notification.NewEmailTransport(cfg.Email))
	}
	if cfg.SMS.Enabled {
		transports = append(transports, notification.NewSMSTransport(cfg.SMS))
	}

	a.dispatcher = notification.NewDispatcher(s, policy, notification.Options{
		Interval:    cfg.Dispatcher.Interval,
		BatchSize:   cfg.Dispatcher.BatchSize,
		Workers:     cfg.Dispatcher.Workers,
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		BackoffBase: time.Duration(cfg.Dispatcher.BackoffBaseSeconds) * time.Second,
		BackoffMax:  time.Duration(cfg.Dispatcher.BackoffMaxSeconds) * time.Second,
		RunBudget:   cfg.Dispatcher.RunBudget,
	}, transports...)

	return a, nil
}

func (a *app) vapidPublicKey() string {
	if a.webpush == nil {
		return ""
	}
	return a.webpush.VAPIDPublicKey
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
