package dbgateway

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
)

func TestClassifyMySQLErrorNumbers(t *testing.T) {
	cases := []struct {
		number   uint16
		sentinel error
	}{
		{errDeadlock, cellerr.ErrDBDeadlock},
		{errLockWaitTimeout, cellerr.ErrDBDeadlock},
		{errDuplicateEntry, cellerr.ErrDBDuplicate},
		{errServerGoneAway, cellerr.ErrDBServerGone},
		{errLostConnection, cellerr.ErrDBIOLost},
		{errCantConnect, cellerr.ErrDBCantConnect},
		{9999, cellerr.ErrDBFatal},
	}
	for _, c := range cases {
		err := classify(&mysql.MySQLError{Number: c.number, Message: "boom"})
		assert.Truef(t, errors.Is(err, c.sentinel), "number %d should classify as %v, got %v", c.number, c.sentinel, err)
	}
}

func TestClassifyBadConnIsIOLost(t *testing.T) {
	err := classify(driver.ErrBadConn)
	assert.True(t, errors.Is(err, cellerr.ErrDBIOLost))
}

func TestClassifyUnknownIsTransient(t *testing.T) {
	err := classify(errors.New("connection reset"))
	assert.True(t, errors.Is(err, cellerr.ErrDBTransient))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, retryable(classify(&mysql.MySQLError{Number: errDeadlock})))
	assert.False(t, retryable(classify(&mysql.MySQLError{Number: errDuplicateEntry})))
}
