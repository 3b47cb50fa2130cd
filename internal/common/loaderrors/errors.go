// Package loaderrors contains the error types returned by the bulk loader and helpers for
// classifying errors returned by the target stores.
//
// Shard-level failures are always returned as ErrShardFailed so that callers can recover the
// failing shard with errors.As. If several shards fail, the orchestrator returns a
// multierror.Error from github.com/hashicorp/go-multierror that encapsulates each of them.
package loaderrors

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// MySQL server error numbers that the loader reacts to.
const (
	MySQLErrAccessDenied         = 1045
	MySQLErrSpecificAccessDenied = 1227
)

// ErrShardFailed is returned when a worker could not load its shard.
// No partial credit is given: the rows streamed before the failure are rolled back with the transaction.
type ErrShardFailed struct {
	// 1-based id of the worker that owned the shard
	WorkerId int
	// Rows the shard was expected to load
	TargetRows int64
	// The underlying failure
	Cause error
}

func (err *ErrShardFailed) Error() string {
	return fmt.Sprintf("worker %02d failed to load shard of %d rows: %v", err.WorkerId, err.TargetRows, err.Cause)
}

func (err *ErrShardFailed) Unwrap() error {
	return err.Cause
}

// ErrMaxRetriesExceeded is returned when an operation was retried the maximum number of times without succeeding.
type ErrMaxRetriesExceeded struct {
	Message   string
	LastError error
}

func (err *ErrMaxRetriesExceeded) Error() string {
	return fmt.Sprintf("%s: %v", err.Message, err.LastError)
}

func (err *ErrMaxRetriesExceeded) Unwrap() error {
	return err.LastError
}

// ErrInvalidArgument represents an error caused by a configuration value that can't be used.
//
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "parallelism"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// IsNetworkError returns true if err is a network-related error.
// If err is an error chain, this function returns true if any error in the chain is a network error.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, mysql.ErrInvalidConn)
}

// IsAuthenticationError returns true if the store rejected our credentials.
// Retrying such errors only delays the inevitable failure.
func IsAuthenticationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.InvalidPassword || pgErr.Code == pgerrcode.InvalidAuthorizationSpecification
	}
	return IsMySQLError(err, MySQLErrAccessDenied)
}

// IsRetryableConnectError returns true if a failure to connect to the store may succeed on a later attempt.
func IsRetryableConnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsAuthenticationError(err)
}

// IsPostgresError returns true if any error in the chain is a postgres error with the given SQLSTATE code.
func IsPostgresError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsMySQLError returns true if any error in the chain is a MySQL server error with the given number.
func IsMySQLError(err error, number uint16) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == number
}
