// Package resilience provides the retry policy and error taxonomy shared by
// the readers, the reconciliation engine, and the latency measurer.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrSchemaMismatch means the source and target row sets do not share an
// identical column signature. The comparison is meaningless, so the run is
// aborted (Errored). The process keeps going with subsequent windows.
var ErrSchemaMismatch = eris.New("source and target column signatures differ")

// ErrPoolExhausted means a connection could not be checked out of the pool
// within the acquire timeout. Transient: callers retry it like any other
// connection-level failure.
var ErrPoolExhausted = eris.New("connection pool exhausted")

// ErrAsOfRegression means a reader was asked for a point-in-time read older
// than one it already served. The asOf watermark must be monotonically
// non-decreasing per reader instance.
var ErrAsOfRegression = eris.New("as-of timestamp regressed")

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so that IsTransient reports true for it.
func MarkTransient(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, pool exhaustion, a network timeout, or a connection-level
// failure surfaced by the Postgres or Kafka drivers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, ErrPoolExhausted) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Driver errors often arrive as wrapped strings; match the usual suspects.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"unexpected eof",
		"conn busy",
		"conn closed",
		"the database system is starting up",
		"the database system is shutting down",
		"too many connections",
		"canceling statement due to statement timeout",
		"temporary failure in name resolution",
		"no such host",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
