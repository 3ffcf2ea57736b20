package storage

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrGenerationRecordNotFound is returned when a generation record is not found
	ErrGenerationRecordNotFound = errors.New("generation record not found")
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
