package database

import (
	"time"
)

// Identity is an enrolled person. Name is unique across all identities.
type Identity struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// IdentitySummary is an identity together with the number of stored samples.
type IdentitySummary struct {
	Identity
	SampleCount int
}

// FaceSample is one enrolled JPEG image of an identity's face.
type FaceSample struct {
	ID         int64
	IdentityID int64
	Image      []byte
	CreatedAt  time.Time
}

// IdentitySamples groups an identity with all of its samples, ordered by sample id.
type IdentitySamples struct {
	Identity Identity
	Samples  []FaceSample
}
