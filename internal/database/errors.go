package database

import "errors"

var (
	// ErrDuplicateIdentity is returned when an identity with the same name already exists.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrIdentityNotFound is returned when a sample is added for an unknown identity.
	ErrIdentityNotFound = errors.New("identity not found")
)
