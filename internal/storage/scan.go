package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout matches the strftime default used by the schema.
const TimestampLayout = "2006-01-02 15:04:05"

// ParseTimestamp parses a stored timestamp; malformed values yield the zero time.
func ParseTimestamp(s string) time.Time {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Now returns the current UTC time in storage format.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// Placeholders returns "?, ?, ?" for n parameters.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Int64Args converts ids into query arguments.
func Int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// LastInsertID extracts the generated id of an insert.
func LastInsertID(res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read last insert id: %w", err)
	}
	return id, nil
}

// RowsAffected extracts the affected-row count of a write.
func RowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected: %w", err)
	}
	return n, nil
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
