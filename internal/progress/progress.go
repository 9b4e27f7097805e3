// Package progress carries human-readable status messages from long running
// operations to whoever started them.
package progress

import (
	"sync"

	"devstack/pkg/logging"
)

// Func receives one status message. Implementations need not be safe for
// concurrent use; Serialize makes them so.
type Func func(message string)

// Nop discards every message.
func Nop(string) {}

// Report calls fn when it is not nil.
func Report(fn Func, message string) {
	if fn != nil {
		fn(message)
	}
}

// Log returns a Func that writes every message to the log at info level.
func Log(subsystem string) Func {
	return func(message string) {
		logging.Info(subsystem, "%s", message)
	}
}

// Chan returns a Func feeding ch. Sends block when ch is full.
func Chan(ch chan<- string) Func {
	return func(message string) {
		ch <- message
	}
}

// Tee fans every message out to all non-nil funcs.
func Tee(fns ...Func) Func {
	return func(message string) {
		for _, fn := range fns {
			Report(fn, message)
		}
	}
}

// Serialize wraps fn so concurrent callers never overlap.
func Serialize(fn Func) Func {
	if fn == nil {
		return Nop
	}
	var mu sync.Mutex
	return func(message string) {
		mu.Lock()
		defer mu.Unlock()
		fn(message)
	}
}
