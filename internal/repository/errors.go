// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the session manager to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.  It replaces
// sql.ErrNoRows at the repository boundary.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when an insert or update would duplicate an
// email address (or a Google account id).
var ErrEmailExists = errors.New("email already exists")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as a recovery code that no longer matches
// because it was rotated concurrently. Handlers should translate this
// into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// notFound maps sql.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isDuplicate reports whether err is a MySQL unique-key violation (1062).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// checkAffected turns an UPDATE/DELETE that touched nothing into ErrNotFound.
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
