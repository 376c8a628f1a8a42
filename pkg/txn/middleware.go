package txn

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/observability"
)

// HandlerFunc is a route handler that may return an error instead of
// writing one. A non-nil error rolls the request transaction back and is
// rendered with httputil.WriteAppError.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware runs next inside a request transaction
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return m.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		next.ServeHTTP(w, r)
		return nil
	})
}

// Wrap runs h inside a request transaction.
//
// The handler's response is buffered until the transaction is finalized so
// a client never sees a success that failed to commit. The transaction
// commits only when h returned nil, did not panic, nothing called
// MarkFailed, the status is below 400 and the request context is still
// live. Everything else rolls back.
func (m *Manager) Wrap(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.FromContext(ctx)

		scope, err := m.Begin(ctx)
		if err != nil {
			logger.WithError(err).Error("failed to open request transaction")
			httputil.WriteAppError(w, err)
			return
		}

		buf := newBufferedWriter()
		handlerErr := m.run(h, buf, r.WithContext(Bind(ctx, scope)), logger)

		cause := handlerErr
		if cause == nil {
			cause = scope.Failure()
		}
		if cause == nil && buf.status >= http.StatusBadRequest {
			cause = fmt.Errorf("handler responded with status %d", buf.status)
		}
		if cause == nil && ctx.Err() != nil {
			cause = ctx.Err()
		}

		if finishErr := m.Finish(scope, cause); finishErr != nil {
			httputil.WriteAppError(w, finishErr)
			return
		}

		switch {
		case handlerErr != nil:
			if apperrors.KindOf(handlerErr) == apperrors.KindInternal {
				logger.WithError(handlerErr).Error("request failed")
			}
			httputil.WriteAppError(w, handlerErr)
		case ctx.Err() != nil:
			// client is gone
		case cause != nil && buf.status < http.StatusBadRequest:
			httputil.WriteAppError(w, cause)
		default:
			buf.flushTo(w)
		}
	})
}

func (m *Manager) run(h HandlerFunc, w http.ResponseWriter, r *http.Request, logger *observability.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.LogPanic(logger, rec, "request handler")
			err = apperrors.Internal("txn.Wrap", observability.MustRecover(rec))
		}
	}()
	return h(w, r)
}

// bufferedWriter holds the response until the transaction outcome is known
type bufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.status)
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
