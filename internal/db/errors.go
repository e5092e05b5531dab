package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLState returns the five-character SQLSTATE code carried by a postgres
// error, or "" when the error has none (including all sqlite errors).
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err was caused by a unique or exclusion
// constraint, normalized across backends.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	switch SQLState(err) {
	case "23505", "23P01":
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err was caused by a foreign key
// constraint, normalized across backends.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if SQLState(err) == "23503" {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
