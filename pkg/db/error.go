package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports a unique constraint violation from any supported
// driver. The pending-job index relies on it.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if code, ok := pgCode(err); ok {
		return code == "23505"
	}
	msg := err.Error()
	for _, marker := range []string{
		"duplicate key value violates unique constraint",
		"Error 1062",
		"UNIQUE constraint failed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsUnavailableErr reports whether err means the database could not be reached
// or the statement was aborted by the server, as opposed to a logic error.
func IsUnavailableErr(err error) bool {
	switch {
	case err == nil, errors.Is(err, gorm.ErrRecordNotFound):
		return false
	case errors.Is(err, gorm.ErrInvalidDB), errors.Is(err, gorm.ErrInvalidTransaction):
		return true
	}
	if code, ok := pgCode(err); ok {
		if code == "55P03" {
			return true
		}
		// connection, rollback, resources, operator intervention
		switch code[:2] {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sql: database is closed")
}

func pgCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return pgErr.Code, true
	}
	return "", false
}
