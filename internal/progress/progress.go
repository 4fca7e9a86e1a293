// Package progress holds the callback types used to report pipeline
// progress. Callbacks are best effort: a panicking callback is recovered
// and logged, and never changes the outcome of the operation reporting it.
package progress

import (
	"github.com/rs/zerolog"
)

// Func receives a done/total count.
type Func func(done, total int)

// PercentFunc receives a completion percentage between 0 and 100.
type PercentFunc func(percent int)

// Report calls fn with done and total, recovering any panic.
func (fn Func) Report(log zerolog.Logger, name string, done, total int) {
	if fn == nil {
		return
	}
	safely(log, name, func() { fn(done, total) })
}

// Report calls fn with percent, recovering any panic.
func (fn PercentFunc) Report(log zerolog.Logger, name string, percent int) {
	if fn == nil {
		return
	}
	safely(log, name, func() { fn(percent) })
}

func safely(log zerolog.Logger, name string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("callback", name).
				Msg("progress callback failed")
		}
	}()
	call()
}
