package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// MapError translates constraint violations into shared sentinels.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return &shared.NotFoundError{Resource: "referenced record", ID: pgErr.ConstraintName}
		}
	}
	return err
}
