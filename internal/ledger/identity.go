package ledger

import "fmt"

// Verifier checks that payload was signed by the holder of key.
type Verifier interface {
	Verify(key PublicKey, payload, signature []byte) error
}

// SignedAction is a submission as received from the transport.
type SignedAction struct {
	Key       PublicKey
	Payload   []byte
	Signature []byte
}

// Identity is a sender whose signature has been checked. The zero value is
// unverified and is rejected by the sequencer.
type Identity struct {
	key      PublicKey
	verified bool
}

// Authenticate verifies action with v and returns the attested identity.
func Authenticate(v Verifier, action SignedAction) (Identity, error) {
	if v == nil {
		return Identity{}, fmt.Errorf("%w: no verifier", ErrInvalidSignature)
	}
	if err := v.Verify(action.Key, action.Payload, action.Signature); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Identity{key: action.Key, verified: true}, nil
}

// Key returns the identity's public key.
func (id Identity) Key() PublicKey { return id.key }

// Verified reports whether the identity came from Authenticate.
func (id Identity) Verified() bool { return id.verified }
