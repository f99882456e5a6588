package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds journal database settings.
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	// QueueSize bounds pending journal writes; further records are dropped.
	QueueSize int `json:"queue_size"`
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/codesync.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		QueueSize:       1024,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue size must be greater than 0")
	}
	return nil
}

// DSN returns the sqlite3 connection string with WAL, busy timeout and
// foreign keys enabled.
func (c *Config) DSN() string {
	return "file:" + c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

var sqlitePragmas = []string{
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -16000",
	"PRAGMA temp_store = MEMORY",
}

// ApplySQLiteOptimizations tunes a freshly opened journal connection.
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
