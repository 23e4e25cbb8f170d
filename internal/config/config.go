// Package config loads the process-wide execution defaults from the
// environment. The configuration is read once at startup and treated as
// immutable for the life of the process; malformed values are startup
// errors, never silent fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	limits "github.com/hanpama/blockgraph/internal/limits"
)

// Environment variables understood by FromEnv.
const (
	EnvQueryTimeout  = "BLOCKGRAPH_QUERY_TIMEOUT"
	EnvMaxComplexity = "BLOCKGRAPH_MAX_COMPLEXITY"
	EnvMaxDepth      = "BLOCKGRAPH_MAX_DEPTH"
	EnvMaxFirst      = "BLOCKGRAPH_MAX_FIRST"
)

// ConfigError reports an operator misconfiguration detected at startup.
type ConfigError struct {
	Var    string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid %s=%q: %s", e.Var, e.Value, e.Reason)
}

// Config holds the resolved process defaults.
type Config struct {
	// QueryTimeout bounds every query execution and every subscription
	// re-evaluation cycle. Zero means unbounded.
	QueryTimeout time.Duration

	// MaxComplexity is the default complexity budget. Nil means unbounded.
	MaxComplexity *uint64

	// MaxDepth is the default depth budget. Nil defers to the built-in
	// fallback (maximum representable depth).
	MaxDepth *uint8

	// MaxFirst is the default page-size cap. Nil defers to the built-in
	// fallback of 1000.
	MaxFirst *uint32
}

// FromEnv reads the configuration from the process environment. Unset
// variables leave the corresponding default unset; values that do not parse
// fail with a *ConfigError.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	if v, ok := lookup(EnvQueryTimeout); ok {
		secs, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, &ConfigError{Var: EnvQueryTimeout, Value: v, Reason: "expected timeout in whole seconds"}
		}
		cfg.QueryTimeout = time.Duration(secs) * time.Second
	}
	if v, ok := lookup(EnvMaxComplexity); ok {
		c, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, &ConfigError{Var: EnvMaxComplexity, Value: v, Reason: "expected unsigned integer"}
		}
		cfg.MaxComplexity = &c
	}
	if v, ok := lookup(EnvMaxDepth); ok {
		d, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, &ConfigError{Var: EnvMaxDepth, Value: v, Reason: "expected integer in [0,255]"}
		}
		d8 := uint8(d)
		cfg.MaxDepth = &d8
	}
	if v, ok := lookup(EnvMaxFirst); ok {
		f, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, &ConfigError{Var: EnvMaxFirst, Value: v, Reason: "expected unsigned 32-bit integer"}
		}
		f32 := uint32(f)
		cfg.MaxFirst = &f32
	}
	return cfg, nil
}

// Limits returns the process defaults in the form the limit resolver takes.
func (c *Config) Limits() limits.Defaults {
	return limits.Defaults{
		MaxComplexity: c.MaxComplexity,
		MaxDepth:      c.MaxDepth,
		MaxFirst:      c.MaxFirst,
		Timeout:       c.QueryTimeout,
	}
}
