package database

import (
	"context"
)

// IdentityReader provides read-only access to identities and their samples
type IdentityReader interface {
	// GetIdentity retrieves an identity by id, returns nil if not found
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	// GetIdentityByName retrieves an identity by its exact name, returns nil if not found
	GetIdentityByName(ctx context.Context, name string) (*Identity, error)
	// ListIdentities returns all identities ordered by id
	ListIdentities(ctx context.Context) ([]IdentitySummary, error)
	// ListSampleIDs returns the sample ids of an identity ordered by id
	ListSampleIDs(ctx context.Context, identityID int64) ([]int64, error)
	// GetSample retrieves a sample with its image, returns nil if not found
	GetSample(ctx context.Context, id int64) (*FaceSample, error)
	// LoadAllSamples returns every identity with its samples, ordered by identity id then sample id.
	// Identities without samples are included with an empty Samples slice.
	LoadAllSamples(ctx context.Context) ([]IdentitySamples, error)
}

// EnrollTx is one open enrollment transaction. Nothing it writes is visible until Commit.
// Rollback after Commit is a no-op so callers can defer it.
type EnrollTx interface {
	GetIdentityByName(ctx context.Context, name string) (*Identity, error)
	// InsertIdentity returns ErrDuplicateIdentity when the name is already taken
	InsertIdentity(ctx context.Context, name string) (*Identity, error)
	InsertSample(ctx context.Context, identityID int64, image []byte) (*FaceSample, error)
	Commit() error
	Rollback() error
}

// IdentityWriter provides write access to identities and samples
type IdentityWriter interface {
	IdentityReader

	// BeginEnroll opens a transaction for enrolling name. Backends that support it
	// serialize concurrent enrollments of the same name inside this transaction.
	BeginEnroll(ctx context.Context, name string) (EnrollTx, error)

	// AddSample appends a sample to the identity with the given name in a single statement.
	// Returns ErrIdentityNotFound when no such identity exists.
	AddSample(ctx context.Context, name string, image []byte) (*FaceSample, error)
}
