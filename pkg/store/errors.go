package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var (
	// ErrUniqueViolation reports that an insert breached a unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrNotFound reports that no row matched a lookup.
	ErrNotFound = errors.New("row not found")
)

// isUniqueViolation reports whether err is a unique constraint breach.
// Dialects translate most of these to gorm.ErrDuplicatedKey; the raw driver
// errors are checked too in case translation is unavailable.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()

	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
