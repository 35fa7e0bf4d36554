package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"crmapi/internal/repository"
)

const (
	pgUniqueViolation = "23505"
	pgIntegrityClass  = "23"
	pgInvalidText     = "22P02"
)

// translate maps driver errors onto the repository sentinels, keeping the cause attached.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, pgIntegrityClass):
			return fmt.Errorf("%w: %s", repository.ErrConstraint, pgErr.Message)
		case pgErr.Code == pgInvalidText:
			// malformed uuid in a WHERE id = $1 lookup
			return repository.ErrNotFound
		}
	}
	return err
}
