package dbexec

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"tidb-odata/internal/odataerr"
)

// MySQL/TiDB error codes surfaced with a client status.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrDBAccessDenied     = 1044
	mysqlErrTableAccessDenied  = 1142
	mysqlErrColumnAccessDenied = 1143
	mysqlErrBadField           = 1054
	mysqlErrTruncatedValue     = 1292
)

// NormalizeError converts driver errors into QueryFailed pipeline errors
// carrying the driver error number. Other errors pass through.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}
	status := http.StatusInternalServerError
	switch mysqlErr.Number {
	case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
		status = http.StatusForbidden
	case mysqlErrBadField, mysqlErrTruncatedValue:
		status = http.StatusBadRequest
	}
	return odataerr.Wrap(err, odataerr.KindInternal, odataerr.KeyQueryFailed, status,
		strconv.Itoa(int(mysqlErr.Number)))
}
