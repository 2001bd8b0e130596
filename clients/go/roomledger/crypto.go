package roomledger

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Sealed content layout: ephemeral_pk[32] | nonce[12] | ciphertext | tag[16].
const (
	sealInfo      = "roomledger-content-v1"
	ephemeralSize = 32
	overhead      = ephemeralSize + chacha20poly1305.NonceSize + chacha20poly1305.Overhead

	// MaxSealedPlaintext is the largest plaintext whose sealed form still
	// fits in a 512-byte message record.
	MaxSealedPlaintext = 512 - overhead
)

var (
	ErrInvalidKey  = errors.New("invalid recipient key")
	ErrSealedShort = errors.New("sealed content too short")
	ErrOpen        = errors.New("cannot open sealed content")
)

// x25519Public maps an Ed25519 public key onto its Montgomery form.
func x25519Public(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return p.BytesMontgomery(), nil
}

// x25519Private derives the X25519 scalar from an Ed25519 seed.
func x25519Private(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// contentCipher keys an AEAD from the ECDH secret, salted with both
// public halves of the exchange.
func contentCipher(secret, ephemeral, recipient []byte) (cipher.AEAD, error) {
	salt := append(append([]byte{}, ephemeral...), recipient...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

// SealContent encrypts plaintext for the holder of recipient. The room tag
// is authenticated, so sealed content cannot be replayed into another room.
func SealContent(room string, plaintext []byte, recipient ed25519.PublicKey) ([]byte, error) {
	recipientX, err := x25519Public(recipient)
	if err != nil {
		return nil, err
	}

	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, err
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	secret, err := curve25519.X25519(ephPriv, recipientX)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	aead, err := contentCipher(secret, ephPub, recipientX)
	if err != nil {
		return nil, err
	}

	out := make([]byte, ephemeralSize+chacha20poly1305.NonceSize, overhead+len(plaintext))
	copy(out, ephPub)
	nonce := out[ephemeralSize:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, plaintext, []byte(room)), nil
}

// OpenContent decrypts content sealed for priv in room.
func OpenContent(room string, sealed []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(sealed) < overhead {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrSealedShort, len(sealed), overhead)
	}
	ephPub := sealed[:ephemeralSize]
	nonce := sealed[ephemeralSize : ephemeralSize+chacha20poly1305.NonceSize]
	body := sealed[ephemeralSize+chacha20poly1305.NonceSize:]

	ownX := x25519Private(priv.Seed())
	ownPub, err := curve25519.X25519(ownX, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	secret, err := curve25519.X25519(ownX, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key", ErrOpen)
	}

	aead, err := contentCipher(secret, ephPub, ownPub)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, body, []byte(room))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key, wrong room or tampered", ErrOpen)
	}
	return plaintext, nil
}
