package uow

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
)

// Коды ошибок MySQL, после которых транзакцию можно безопасно повторить.
const (
	mysqlLockWaitTimeout uint16 = 1205
	mysqlDeadlock        uint16 = 1213
)

// sqlStateSerializationFailure — SQLSTATE 40001.
const sqlStateSerializationFailure = "40001"

// ErrTimeout оборачивает временные таймауты, которые стоит повторить
// (например, таймаут ожидания внешней блокировки).
var ErrTimeout = errors.New("таймаут операции")

// IsRetryable возвращает true для временных ошибок: deadlock, lock wait timeout,
// serialization failure, разрыв соединения, сетевой таймаут.
// Истёкший контекст вызывающего не повторяется.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return true
		}
		return string(mysqlErr.SQLState[:]) == sqlStateSerializationFailure
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
