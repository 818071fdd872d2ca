// Package config holds the runtime parameters a replica is constructed with.
package config

import (
	"flag"
	"fmt"
)

// Defaults match the window/checkpoint sizes spec.md §3 calls out as
// illustrative (max_out=100, chkpt_int=50).
const (
	DefaultMaxOut   = 100
	DefaultChkptInt = 50
)

// Config is the replica's runtime configuration: R, i, max_out, chkpt_int,
// plus logger toggles. There is no persisted config file — the core has no
// durable state (spec.md §6) and neither does its configuration.
type Config struct {
	R        int // cluster size
	I        int // this replica's index, in [0,R)
	MaxOut   int // window width
	ChkptInt int // checkpoint period

	LogLevel   string
	LogConsole bool
}

// Validate checks the invariants config.FromFlags and direct construction
// both rely on: chkpt_int < max_out (spec.md §3), R large enough to tolerate
// at least f=0 Byzantine replicas, and i within [0,R).
func (c Config) Validate() error {
	if c.R <= 0 {
		return fmt.Errorf("config: R must be positive, got %d", c.R)
	}
	if c.I < 0 || c.I >= c.R {
		return fmt.Errorf("config: I must be in [0,%d), got %d", c.R, c.I)
	}
	if c.MaxOut <= 0 {
		return fmt.Errorf("config: MaxOut must be positive, got %d", c.MaxOut)
	}
	if c.ChkptInt <= 0 || c.ChkptInt >= c.MaxOut {
		return fmt.Errorf("config: ChkptInt (%d) must be in (0,%d)", c.ChkptInt, c.MaxOut)
	}
	return nil
}

// F returns the maximum number of tolerated Byzantine replicas, f = ⌊(R−1)/3⌋.
func (c Config) F() int {
	return (c.R - 1) / 3
}

// FromFlags registers the config fields on fs and returns a func that
// materializes a Config once fs.Parse has run, mirroring cmd/cerera's use
// of the standard flag package for process configuration.
func FromFlags(fs *flag.FlagSet) func() Config {
	r := fs.Int("r", 4, "cluster size R")
	i := fs.Int("i", 0, "this replica's index in [0,R)")
	maxOut := fs.Int("max-out", DefaultMaxOut, "sliding window width")
	chkptInt := fs.Int("chkpt-int", DefaultChkptInt, "checkpoint period")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	logConsole := fs.Bool("log-console", true, "log to stdout")

	return func() Config {
		return Config{
			R:          *r,
			I:          *i,
			MaxOut:     *maxOut,
			ChkptInt:   *chkptInt,
			LogLevel:   *logLevel,
			LogConsole: *logConsole,
		}
	}
}
