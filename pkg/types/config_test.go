// Tests for Config defaults and validation.
package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{Driver: DriverSQLite, DSN: "file:test.db", ConnTimeout: time.Second, MaxReadConns: 2}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "valid sqlite config",
			mutate:  func(*Config) {},
			wantErr: nil,
		},
		{
			name:    "valid postgres config",
			mutate:  func(c *Config) { c.Driver = DriverPostgres; c.DSN = "postgres://localhost/ctrdb" },
			wantErr: nil,
		},
		{
			name:    "empty driver returns ErrDriverEmpty",
			mutate:  func(c *Config) { c.Driver = "" },
			wantErr: ErrDriverEmpty,
		},
		{
			name:    "unknown driver returns ErrDriverUnknown",
			mutate:  func(c *Config) { c.Driver = "mysql" },
			wantErr: ErrDriverUnknown,
		},
		{
			name:    "empty dsn returns ErrDSNEmpty",
			mutate:  func(c *Config) { c.DSN = "" },
			wantErr: ErrDSNEmpty,
		},
		{
			name:    "negative pool size returns ErrPoolSizeInvalid",
			mutate:  func(c *Config) { c.MaxReadConns = -1 },
			wantErr: ErrPoolSizeInvalid,
		},
		{
			name:    "zero timeout returns ErrTimeoutInvalid",
			mutate:  func(c *Config) { c.ConnTimeout = 0 },
			wantErr: ErrTimeoutInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{Driver: DriverSQLite, DSN: "file:a.db"}.WithDefaults()
	if c.ConnTimeout != DefaultConnTimeout {
		t.Fatalf("ConnTimeout = %v, want %v", c.ConnTimeout, DefaultConnTimeout)
	}
	if c.MaxReadConns != DefaultMaxReadConns {
		t.Fatalf("MaxReadConns = %d, want %d", c.MaxReadConns, DefaultMaxReadConns)
	}
	if c.ReadOnlyDSN != "file:a.db" {
		t.Fatalf("ReadOnlyDSN = %q, want DSN", c.ReadOnlyDSN)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaulted config invalid: %v", err)
	}

	c = Config{DSN: "a", ReadOnlyDSN: "b", ConnTimeout: time.Minute, MaxReadConns: 9}.WithDefaults()
	if c.ReadOnlyDSN != "b" || c.ConnTimeout != time.Minute || c.MaxReadConns != 9 {
		t.Fatalf("explicit values overwritten: %+v", c)
	}
}
