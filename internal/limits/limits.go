// Package limits resolves the four governed execution resources: complexity
// budget, depth budget, page-size cap, and wall-clock timeout.
package limits

import (
	"math"
	"time"
)

// Built-in fallbacks, used when neither a per-call override nor a process
// default is configured.
const (
	FallbackMaxDepth uint8  = math.MaxUint8
	FallbackMaxFirst uint32 = 1000
)

// Limits is the effective limit set for one execution. A zero Timeout means
// no deadline; a nil MaxComplexity means unbounded.
type Limits struct {
	MaxComplexity *uint64
	MaxDepth      uint8
	MaxFirst      uint32
	Timeout       time.Duration
}

// Overrides carries optional per-call limit arguments. Nil fields defer to
// the process defaults.
type Overrides struct {
	MaxComplexity *uint64
	MaxDepth      *uint8
	MaxFirst      *uint32
}

// Defaults holds the process-wide configured defaults, fixed at startup.
// Nil fields defer to the built-in fallbacks.
type Defaults struct {
	MaxComplexity *uint64
	MaxDepth      *uint8
	MaxFirst      *uint32
	Timeout       time.Duration
}

// Fallback returns the built-in limit set: unbounded complexity, maximum
// representable depth, page size 1000, no timeout.
func Fallback() Limits {
	return Limits{MaxDepth: FallbackMaxDepth, MaxFirst: FallbackMaxFirst}
}

// Resolve computes the effective limits for one call. Each resource resolves
// independently with strict precedence: per-call override, then configured
// default, then built-in fallback. Resolution is pure; calling it twice with
// the same inputs yields the same limits.
func Resolve(o Overrides, d Defaults) Limits {
	l := Fallback()
	l.Timeout = d.Timeout

	switch {
	case o.MaxComplexity != nil:
		c := *o.MaxComplexity
		l.MaxComplexity = &c
	case d.MaxComplexity != nil:
		c := *d.MaxComplexity
		l.MaxComplexity = &c
	}

	switch {
	case o.MaxDepth != nil:
		l.MaxDepth = *o.MaxDepth
	case d.MaxDepth != nil:
		l.MaxDepth = *d.MaxDepth
	}

	switch {
	case o.MaxFirst != nil:
		l.MaxFirst = *o.MaxFirst
	case d.MaxFirst != nil:
		l.MaxFirst = *d.MaxFirst
	}

	return l
}

// Deadline converts the timeout into the single absolute instant that bounds
// the whole execution. ok is false when no timeout is configured.
func (l Limits) Deadline(now time.Time) (deadline time.Time, ok bool) {
	if l.Timeout <= 0 {
		return time.Time{}, false
	}
	return now.Add(l.Timeout), true
}
