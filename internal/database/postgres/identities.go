package postgres

import (
	"github.com/kozaktomas/facepass/internal/database/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name:           "postgres",
	NumberedParams: true,
	Returning:      true,
	// Serializes concurrent enrollments of the same name until the transaction ends.
	LockName:          "SELECT pg_advisory_xact_lock(hashtext(?))",
	SelectParams:      "?::bytea, ?::bigint",
	IsUniqueViolation: isUniqueViolation,
}

// IdentityRepository stores identities and face samples in PostgreSQL.
type IdentityRepository struct {
	*sqlstore.Store
}

// NewIdentityRepository creates a repository on the pool.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{Store: sqlstore.New(pool.db, dialect)}
}
