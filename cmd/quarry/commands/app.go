// Package commands implements the quarry CLI commands.
package commands

import (
	"database/sql"
	"time"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/db"
	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
	"github.com/quarrylabs/quarry/lock"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/parse"
	"github.com/quarrylabs/quarry/pipeline"
	"github.com/quarrylabs/quarry/plugin"
	"github.com/quarrylabs/quarry/process"
	"github.com/quarrylabs/quarry/store"
)

// App bundles everything a command needs to drive imports.
type App struct {
	Config *config.Config
	DB     *sql.DB

	Sources   *feed.SourceStore
	Types     *feed.SourceTypeStore
	States    *feed.StageStateStore
	CleanList *feed.CleanListStore

	Entities     store.Store
	Locks        *lock.Manager
	Bus          *event.Bus
	Orchestrator *pipeline.Orchestrator
}

// Close releases the app's database handle.
func (a *App) Close() error {
	return a.DB.Close()
}

// openDatabase opens and migrates a database at path; an empty path
// falls back to the configured default.
func openDatabase(cfg *config.Config, path string) (*sql.DB, error) {
	if path == "" {
		path = cfg.Database.Path
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", path)
	}
	return database, nil
}

// newApp loads configuration, opens the database and wires the full
// import pipeline with the built-in plugin registries.
func newApp(dbPath string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg, dbPath)
	if err != nil {
		return nil, err
	}

	sources := feed.NewSourceStore(database)
	types := feed.NewSourceTypeStore(database)
	states := feed.NewStageStateStore(database)
	cleanList := feed.NewCleanListStore(database)

	entities := store.NewSQLiteStore(database, nil)
	locks := lock.NewManager(database, nil)
	bus := event.NewBus(logger.Logger)

	fetchers := plugin.NewRegistry[fetch.Fetcher]("fetcher")
	fetchers.Register(fetch.HTTPFetcherID, fetch.NewHTTPFetcher(fetch.HTTPOptions{
		Timeout:           time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Fetch.RequestsPerMinute,
	}))
	fetchers.Register(fetch.FileFetcherID, fetch.NewFileFetcher(""))

	parsers := plugin.NewRegistry[parse.Parser]("parser")
	parsers.Register(parse.CSVParserID, parse.NewCSVParser(cfg.Import.LineLimit))
	parsers.Register(parse.JSONParserID, parse.NewJSONParser(cfg.Import.LineLimit))
	parsers.Register(parse.YAMLParserID, parse.NewYAMLParser(cfg.Import.LineLimit))

	catalog := process.DefaultCatalog()
	actions := process.NewActionRegistry(entities)

	orchestrator := pipeline.New(pipeline.Deps{
		Sources:     sources,
		Types:       types,
		States:      states,
		CleanList:   cleanList,
		Locks:       locks,
		Bus:         bus,
		Fetchers:    fetchers,
		Parsers:     parsers,
		Processor:   process.NewEntityProcessor(entities, cleanList, bus, catalog, nil, logger.Logger),
		Cleaner:     process.NewCleaner(entities, cleanList, actions, bus, logger.Logger),
		Clearer:     process.NewClearer(entities, bus, cfg.Import.ClearBatchSize),
		Expirer:     process.NewExpirer(entities, bus, nil, cfg.Import.ClearBatchSize),
		LockTimeout: time.Duration(cfg.Import.LockTimeoutSeconds) * time.Second,
		Logger:      logger.Logger,
	})

	return &App{
		Config:       cfg,
		DB:           database,
		Sources:      sources,
		Types:        types,
		States:       states,
		CleanList:    cleanList,
		Entities:     entities,
		Locks:        locks,
		Bus:          bus,
		Orchestrator: orchestrator,
	}, nil
}
