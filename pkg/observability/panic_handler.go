package observability

import (
	"fmt"
	"runtime/debug"
)

// LogPanic logs a recovered panic value with its stack trace. Callers own the
// recover() call so they can run cleanup (rollback, release) before logging.
func LogPanic(logger *Logger, recovered interface{}, where string) {
	logger.WithField("panic", fmt.Sprint(recovered)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
}

// RecoverPanic recovers from a panic and logs it. Meant for background
// goroutines such as the permission sweeper:
//
//	defer observability.RecoverPanic(logger, "permission sweeper")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		LogPanic(logger, r, where)
	}
}

// MustRecover converts a recovered value to an error, nil when r is nil
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
