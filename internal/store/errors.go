package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicate signals a unique-constraint violation (e.g. email taken,
	// second active grant for the same user/plant pair).
	ErrDuplicate = errors.New("duplicate row")
	// ErrReferenced signals a foreign-key violation (e.g. reading for a
	// plant that does not exist).
	ErrReferenced = errors.New("referenced row missing")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// classify maps driver-level constraint failures onto the store's typed
// errors so no raw database message leaks past this package.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, ErrReferenced)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
