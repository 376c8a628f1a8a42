package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/setlist/pkg/observability"
)

// PanicError is returned by Run when the task panicked
type PanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}

// Run executes fn with a context bounded by timeout. A panic inside fn is
// recovered and returned as a *PanicError. A non-positive timeout means no
// deadline beyond the parent's.
func Run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: taskName, Value: r, Stack: debug.Stack()}
		}
	}()

	return fn(ctx)
}

// SafeGo executes fn on a new goroutine through Run and logs any error or
// panic. The returned channel is closed once fn has finished.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NopLogger()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := Run(parentCtx, timeout, taskName, fn)
		if err == nil {
			return
		}
		log := logger.WithField("task", taskName)
		if p, ok := err.(*PanicError); ok {
			log.WithField("stack", string(p.Stack)).Error(p.Error())
			return
		}
		log.WithError(err).Warn("background task failed")
	}()
	return done
}
