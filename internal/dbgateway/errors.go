package dbgateway

import (
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
)

// MySQL error numbers classified per the DBRetryable family in
// SPEC_FULL.md section 4.1. Numbers come from the server's errmsg
// reference; duplicating them here (rather than depending on a constants
// package) matches how the teacher's sibling examples inline the handful
// of codes they actually branch on.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errDuplicateEntry  = 1062
	errServerGoneAway  = 2006
	errLostConnection  = 2013
	errCantConnect     = 2003
)

// classify maps a driver-level error into the cellerr DBRetryable family so
// callers can decide retry/breaker behavior with errors.Is rather than
// driver-specific type switches.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errDeadlock, errLockWaitTimeout:
			return joinErr(cellerr.ErrDBDeadlock, err)
		case errDuplicateEntry:
			return joinErr(cellerr.ErrDBDuplicate, err)
		case errServerGoneAway:
			return joinErr(cellerr.ErrDBServerGone, err)
		case errLostConnection:
			return joinErr(cellerr.ErrDBIOLost, err)
		case errCantConnect:
			return joinErr(cellerr.ErrDBCantConnect, err)
		default:
			return joinErr(cellerr.ErrDBFatal, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return joinErr(cellerr.ErrDBIOLost, err)
	}
	return joinErr(cellerr.ErrDBTransient, err)
}

func joinErr(sentinel, cause error) error {
	return &classifiedError{sentinel: sentinel, cause: cause}
}

type classifiedError struct {
	sentinel error
	cause    error
}

func (e *classifiedError) Error() string { return e.cause.Error() }
func (e *classifiedError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}

// retryable reports whether err's classification is worth a pool-level
// retry rather than surfacing immediately.
func retryable(err error) bool {
	return errors.Is(err, cellerr.ErrDBTransient) ||
		errors.Is(err, cellerr.ErrDBDeadlock) ||
		errors.Is(err, cellerr.ErrDBIOLost) ||
		errors.Is(err, cellerr.ErrDBServerGone) ||
		errors.Is(err, cellerr.ErrDBCantConnect)
}
