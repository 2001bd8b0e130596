package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// SignaturePayload creates the canonical data to sign.
// Format: bodyHash|nonce|timestamp
func SignaturePayload(bodyHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", bodyHash, nonce, timestamp))
}

// Ed25519Verifier checks raw Ed25519 signatures for the ledger.
type Ed25519Verifier struct{}

// Verify implements ledger.Verifier.
func (Ed25519Verifier) Verify(key ledger.PublicKey, payload, signature []byte) error {
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSignature, ed25519.SignatureSize, len(signature))
	}
	if !ed25519.Verify(ed25519.PublicKey(key[:]), payload, signature) {
		return ErrInvalidSignature
	}
	return nil
}
