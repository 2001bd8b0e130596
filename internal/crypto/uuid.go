package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewNonce returns a 26-character ULID, long enough for the auth nonce check.
func NewNonce() string {
	return ulid.Make().String()
}
