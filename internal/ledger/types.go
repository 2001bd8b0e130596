// Package ledger implements an append-only room ledger: a per-room message
// counter and individually addressed, sender-signed message records.
package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"regexp"
)

// MaxContentSize is the largest content payload a message record can hold.
const MaxContentSize = 512

// DefaultRoom is the tag used when callers do not name a room.
const DefaultRoom = "chat_room"

var roomTagRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// PublicKey identifies a sender or recipient.
type PublicKey [ed25519.PublicKeySize]byte

// ParsePublicKey decodes a base64-encoded Ed25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}
	if len(decoded) != len(pk) {
		return pk, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, len(pk), len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// PublicKeyFrom converts an ed25519.PublicKey.
func PublicKeyFrom(key ed25519.PublicKey) (PublicKey, error) {
	var pk PublicKey
	if len(key) != len(pk) {
		return pk, ErrInvalidPublicKey
	}
	copy(pk[:], key)
	return pk, nil
}

func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// RoomID is the tag that namespaces a room's registry and messages.
type RoomID string

// ParseRoomID validates a room tag.
func ParseRoomID(s string) (RoomID, error) {
	if !roomTagRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoom, s)
	}
	return RoomID(s), nil
}

// Room is the registry record for a room.
type Room struct {
	ID           RoomID  `json:"room"`
	Address      Address `json:"address"`
	MessageCount uint64  `json:"message_count"`
}

// Message is one sent message. It is never modified after creation.
type Message struct {
	Address        Address   `json:"address"`
	Sender         PublicKey `json:"sender"`
	Recipient      PublicKey `json:"recipient"`
	Content        []byte    `json:"content"`
	Timestamp      int64     `json:"ts"`
	SequenceNumber uint64    `json:"sequence_number"`
}

// MarshalText encodes the key as base64.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a base64 key.
func (k *PublicKey) UnmarshalText(text []byte) error {
	pk, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = pk
	return nil
}
