package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a postgres unique constraint
// violation (23505).
func IsUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// IsUndefinedTable reports whether err is a query against a missing table
// (42P01), the usual sign that migrations have not run.
func IsUndefinedTable(err error) bool {
	return pgCode(err) == "42P01"
}
