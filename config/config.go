// Package config manages the Quarry core configuration.
package config

// Config represents the core Quarry configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Import   ImportConfig   `mapstructure:"import"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DaemonConfig configures the import daemon (ticker + runner pool)
type DaemonConfig struct {
	Workers               int `mapstructure:"workers"`                 // concurrent import runners (default: 1)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // how often to check for due sources (default: 1)
	PollIntervalSeconds   int `mapstructure:"poll_interval_seconds"`   // runner poll interval for queued sources (default: 5)
}

// ImportConfig configures import batching and locking
type ImportConfig struct {
	LineLimit          int `mapstructure:"line_limit"`           // parser records (and so items processed) per RunBatch invocation (default: 50)
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"` // import lock expiry (default: 3600)
	ClearBatchSize     int `mapstructure:"clear_batch_size"`     // entities deleted per clear/expire step (default: 10)
}

// FetchConfig configures fetcher behavior
type FetchConfig struct {
	TimeoutSeconds    int `mapstructure:"timeout_seconds"`     // HTTP fetch timeout (default: 30)
	RequestsPerMinute int `mapstructure:"requests_per_minute"` // HTTP fetch rate limit (default: 60)
}
