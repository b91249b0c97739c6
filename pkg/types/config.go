package types

import (
	"errors"
	"time"
)

// Config holds the connection targets and pool limits read once at startup.
type Config struct {
	// Driver selects the database/sql driver: "sqlite" or "postgres".
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	// DSN is the primary data source used by the read-write connections.
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	// ReadOnlyDSN is the local data source for pooled read-only
	// connections. Empty means DSN.
	ReadOnlyDSN string `json:"readonly_dsn" yaml:"readonly_dsn" mapstructure:"readonly_dsn"`
	// ConnTimeout bounds connection setup.
	ConnTimeout time.Duration `json:"conn_timeout" yaml:"conn_timeout" mapstructure:"conn_timeout"`
	// MaxReadConns is the maximum number of concurrently held read-only
	// connections.
	MaxReadConns int `json:"max_read_conns" yaml:"max_read_conns" mapstructure:"max_read_conns"`
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults applied by WithDefaults.
const (
	DefaultConnTimeout  = 5 * time.Second
	DefaultMaxReadConns = 4
)

// Config validation errors.
var (
	ErrDriverEmpty     = errors.New("driver must not be empty")
	ErrDriverUnknown   = errors.New("unknown driver")
	ErrDSNEmpty        = errors.New("dsn must not be empty")
	ErrPoolSizeInvalid = errors.New("max read connections must be positive")
	ErrTimeoutInvalid  = errors.New("connection timeout must be positive")
)

var knownDrivers = map[string]bool{
	DriverSQLite:   true,
	DriverPostgres: true,
}

// WithDefaults returns a copy of c with zero-valued limits replaced by
// their defaults and ReadOnlyDSN defaulted to DSN.
func (c Config) WithDefaults() Config {
	if c.ConnTimeout == 0 {
		c.ConnTimeout = DefaultConnTimeout
	}
	if c.MaxReadConns == 0 {
		c.MaxReadConns = DefaultMaxReadConns
	}
	if c.ReadOnlyDSN == "" {
		c.ReadOnlyDSN = c.DSN
	}
	return c
}

// Validate checks that the Config is well-formed and returns one of the
// sentinel errors above on failure.
func (c Config) Validate() error {
	if c.Driver == "" {
		return ErrDriverEmpty
	}
	if !knownDrivers[c.Driver] {
		return ErrDriverUnknown
	}
	if c.DSN == "" {
		return ErrDSNEmpty
	}
	if c.MaxReadConns <= 0 {
		return ErrPoolSizeInvalid
	}
	if c.ConnTimeout <= 0 {
		return ErrTimeoutInvalid
	}
	return nil
}
