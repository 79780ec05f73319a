package main

import (
	"context"
	"fmt"

	_ "github.com/nerrad567/gray-logic-scripts/migrations"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-scripts/internal/interp"
	"github.com/nerrad567/gray-logic-scripts/internal/interp/execbin"
	"github.com/nerrad567/gray-logic-scripts/internal/interp/lua"
	"github.com/nerrad567/gray-logic-scripts/internal/session"
)

// app holds the components every command needs: the state database, the
// device catalog, the event router and the engine with its interpreters.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	db       *database.DB
	devices  *device.Registry
	sessions *session.SQLiteStore
	router   *events.Router
	engine   *engine.Engine
}

// newApp opens the database, applies migrations and builds the engine.
// The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Debug("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log.Component("devices"))
	if err := devices.RefreshCache(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("loading device registry: %w", err)
	}
	log.Debug("device registry initialised", "devices", devices.GetDeviceCount())

	sessions := session.NewSQLiteStore(db.DB)

	router := events.NewRouter()
	router.SetLogger(log.Component("events"))

	eng, err := engine.New(engine.Options{
		ScriptsDir:               cfg.Scripts.Path,
		WebRoot:                  cfg.Scripts.WebRoot,
		ThreadMax:                cfg.Scripts.ThreadMax,
		ReapInterval:             cfg.GetReapInterval(),
		KeepAliveDefaultInterval: cfg.GetKeepAliveDefaultInterval(),
	}, newInterpreter(cfg, log, router, devices, sessions), router, devices)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	eng.SetLogger(log.Component("engine"))

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		devices:  devices,
		sessions: sessions,
		router:   router,
		engine:   eng,
	}, nil
}

// newInterpreter builds the Lua interpreter and, when external interpreters
// are configured, a mux routing their extensions to execbin.
func newInterpreter(cfg *config.Config, log *logging.Logger, router *events.Router, devices *device.Registry, sessions session.Store) interp.Interpreter {
	luaInterp := lua.New(lua.Options{
		Router:        router,
		Devices:       devices,
		Sessions:      sessions,
		MaxRunTime:    cfg.GetLuaMaxRunTime(),
		CallStackSize: cfg.Scripts.Lua.CallStackSize,
	})
	luaInterp.SetLogger(log.With("interpreter", "lua"))

	if len(cfg.Scripts.Interpreters) == 0 {
		return luaInterp
	}

	external := execbin.New(execbin.Options{
		Binaries:   cfg.Scripts.Interpreters,
		MaxRunTime: cfg.GetLuaMaxRunTime(),
	})
	external.SetLogger(log.With("interpreter", "exec"))

	byExt := make(map[string]interp.Interpreter, len(cfg.Scripts.Interpreters))
	for _, ext := range external.Extensions() {
		byExt[ext] = external
	}
	log.Debug("external interpreters configured", "extensions", external.Extensions())
	return interp.NewMux(luaInterp, byExt)
}

// close shuts the engine down and closes the database.
func (a *app) close(ctx context.Context) {
	if err := a.engine.Shutdown(ctx); err != nil {
		a.log.Error("engine shutdown incomplete", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Error("error closing database", "error", err)
	}
}
