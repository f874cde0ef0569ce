package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultDatabaseFilename is the database file created under the data dir
const DefaultDatabaseFilename = "quarry.db"

// SetDefaults installs default values on a Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", defaultDatabasePath())

	v.SetDefault("daemon.workers", 1)
	v.SetDefault("daemon.ticker_interval_seconds", 1)
	v.SetDefault("daemon.poll_interval_seconds", 5)

	v.SetDefault("import.line_limit", 50)
	v.SetDefault("import.lock_timeout_seconds", 3600)
	v.SetDefault("import.clear_batch_size", 10)

	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.requests_per_minute", 60)
}

// defaultDatabasePath returns ~/.quarry/quarry.db, falling back to the
// working directory when the home dir cannot be resolved.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDatabaseFilename
	}
	return filepath.Join(home, ".quarry", DefaultDatabaseFilename)
}
