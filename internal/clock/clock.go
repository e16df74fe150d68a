// Package clock isolates every wall-clock read behind a narrow interface so
// tests can control "now" deterministically, the way the teacher isolates
// time.Now() into small, swappable call sites rather than scattering it.
package clock

import "time"

// Clock returns the current time as Unix milliseconds, the unit every
// timestamp field in the Entry model uses.
type Clock interface {
	NowMS() int64
}

// System is the production Clock, backed by time.Now().
type System struct{}

// NowMS implements Clock.
func (System) NowMS() int64 { return time.Now().UnixMilli() }

// Fixed is a test Clock that always returns the same instant until Advance
// is called.
type Fixed struct {
	ms int64
}

// NewFixed returns a Fixed clock starting at ms.
func NewFixed(ms int64) *Fixed { return &Fixed{ms: ms} }

// NowMS implements Clock.
func (f *Fixed) NowMS() int64 { return f.ms }

// Advance moves the clock forward by delta (may be negative, for
// non-monotonicity boundary tests).
func (f *Fixed) Advance(delta int64) { f.ms += delta }

// Set pins the clock to an absolute instant.
func (f *Fixed) Set(ms int64) { f.ms = ms }
