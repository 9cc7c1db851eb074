// Package grad holds the process-wide gradient-tracking mode consulted by
// models during forward passes.
//
// The mode is global: concurrent callers toggling it from separate
// goroutines must synchronise externally.
package grad

import "sync/atomic"

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// Enabled reports whether forward passes should record what a backward
// pass needs.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled replaces the ambient mode.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Override sets the ambient mode to on and returns a function restoring
// the previous mode. Callers defer the restore:
//
//	defer grad.Override(false)()
func Override(on bool) (restore func()) {
	prev := enabled.Swap(on)
	return func() { enabled.Store(prev) }
}
