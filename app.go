package main

import (
	"fmt"
	"time"

	"calendarbot/pkg/config"
	"calendarbot/pkg/fsm"
	"calendarbot/pkg/graph"
	"calendarbot/pkg/oauthconn"
	"calendarbot/pkg/recognizer"
	"calendarbot/pkg/state"
	"calendarbot/pkg/state/gormstore"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application is the wired bot shared by every channel.
type application struct {
	bot   *fsm.Bot
	oauth *oauthconn.Service
	db    *gorm.DB
}

func (a *application) Close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = atomicLevel
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{}

	var (
		store  state.Store
		tokens oauthconn.TokenStore
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres, config.StorageSQLite:
		db, err := gormstore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		app.db = db
		store = gormstore.New(db, logger.Named("store"))
		tokens = gormstore.NewTokenStore(db)
	default:
		store = state.NewMemoryStore(logger.Named("store"))
		tokens = oauthconn.NewMemoryTokenStore()
	}
	logger.Info("[buildApp] state storage ready", zap.String("driver", cfg.Storage.Driver))

	app.oauth = oauthconn.New(cfg.OAuth, cfg.Bot.ConnectionName, tokens, logger.Named("oauth"))

	loc, err := time.LoadLocation(cfg.Graph.LocalTimeZone)
	if err != nil {
		logger.Warn("[buildApp] unknown local time zone, using process local",
			zap.String("zone", cfg.Graph.LocalTimeZone), zap.Error(err))
		loc = time.Local
	}

	connector := graph.NewConnector(graph.Options{
		BaseURL:           cfg.Graph.BaseURL,
		GroupCalendarID:   cfg.Graph.GroupCalendarID,
		CalendarGroupName: cfg.Graph.CalendarGroupName,
		LocalTimeZone:     cfg.Graph.LocalTimeZone,
		EventTimeZone:     cfg.Graph.EventTimeZone,
		Limiter:           graph.NewRateLimiter(cfg.Graph.RequestsPerSecond, cfg.Graph.Burst),
		Logger:            logger.Named("graph"),
	})

	app.bot = fsm.NewBot(fsm.Options{
		Mode:    cfg.Bot.Mode,
		Welcome: cfg.Bot.Welcome,
		Store:   store,
		Locks:   state.NewTurnLocks(),
		Profile: fsm.NewProfileMachine(recognizer.New(loc, logger.Named("recognizer")), func() time.Time {
			return time.Now().In(loc)
		}, logger.Named("profile")),
		Wizard: fsm.NewWizard(fsm.WizardOptions{
			Tokens:            app.oauth,
			Graph:             connector,
			LoginTimeout:      cfg.Bot.LoginTimeout,
			CalendarGroupName: cfg.Graph.CalendarGroupName,
			Logger:            logger.Named("wizard"),
		}),
		Logger: logger.Named("bot"),
	})
	return app, nil
}
