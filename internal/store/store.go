// Package store is the persistence gateway for user records. It maps the
// five record operations onto single parameterized statements against
// PostgreSQL, and provides an in-memory implementation with the same
// contract.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Record is a persisted user. ID is nil until the store assigns one.
type Record struct {
	ID    *int64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Gateway is the set of operations the dispatcher needs from a store.
type Gateway interface {
	Initialize(ctx context.Context) error
	Insert(ctx context.Context, name, email string) (int64, error)
	FetchByID(ctx context.Context, id int64) (Record, error)
	FetchAll(ctx context.Context) ([]Record, error)
	UpdateByID(ctx context.Context, id int64, name, email string) error
	DeleteByID(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

var (
	// ErrNotFound means no row matched the requested id.
	ErrNotFound = errors.New("user not found")

	// ErrConstraint means the store rejected the statement on an integrity
	// constraint.
	ErrConstraint = errors.New("constraint violation")

	// ErrInvalidInput means the store rejected a value it cannot hold, such
	// as a string containing NUL.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable means the store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// classify maps driver errors onto the package sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22": // data exception
			return errors.Join(ErrInvalidInput, err)
		case "23": // integrity constraint violation
			return errors.Join(ErrConstraint, err)
		}
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

// IsClientError reports whether err was caused by the values the caller
// sent rather than by the store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConstraint) || errors.Is(err, ErrInvalidInput)
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ptr returns a pointer to a copy of id.
func ptr(id int64) *int64 {
	return &id
}
