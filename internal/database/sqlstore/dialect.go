// Package sqlstore implements the identity repository on database/sql.
// Backend packages supply a Dialect and their own migrations.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect describes the SQL differences between backends.
type Dialect struct {
	Name string

	// NumberedParams rewrites ? placeholders to $1, $2, ...
	NumberedParams bool

	// Returning reports whether INSERT ... RETURNING is supported.
	Returning bool

	// LockName, when set, is executed inside the enrollment transaction with the
	// identity name as its only argument before the existence check.
	LockName string

	// SelectParams replaces the "?, ?" image and timestamp placeholders of the
	// INSERT ... SELECT used by AddSample, for backends that need explicit casts.
	SelectParams string

	// IsUniqueViolation reports whether err is a unique constraint violation.
	IsUniqueViolation func(err error) bool
}

// Rebind converts ? placeholders to the dialect's placeholder style.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedParams {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
