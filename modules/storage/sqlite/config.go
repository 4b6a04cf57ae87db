package sqlite

import (
	"fmt"
	"time"
)

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "toolhost.db"
	defaultRetention   = 30 * 24 * time.Hour
)

// Config holds the SQLite storage module configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/toolhost.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// History records every completed tool call. Defaults to true.
	History *bool `yaml:"history"`

	// Retention is how long call history is kept. Defaults to 30 days.
	Retention time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.History == nil {
		t := true
		c.History = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.Retention == 0 {
		c.Retention = defaultRetention
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) historyEnabled() bool {
	return c.History == nil || *c.History
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.Retention < 0 {
		return fmt.Errorf("sqlite: retention must be non-negative, got %s", c.Retention)
	}
	return nil
}
