package roomledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
)

func generateTestKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return pub, priv
}

func TestRoundTrip(t *testing.T) {
	bobPub, bobPriv := generateTestKeypair(t)

	sealed, err := SealContent("lobby", []byte("Hello Bob!"), bobPub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := OpenContent("lobby", sealed, bobPriv)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "Hello Bob!" {
		t.Fatalf("expected 'Hello Bob!', got %q", pt)
	}
}

func TestWireFormatStructure(t *testing.T) {
	pub, _ := generateTestKeypair(t)

	sealed, err := SealContent("lobby", []byte("test"), pub)
	if err != nil {
		t.Fatal(err)
	}
	// 32 (eph pk) + 12 (nonce) + 4 (plaintext) + 16 (tag) = 64
	if len(sealed) != 64 {
		t.Fatalf("expected wire length 64, got %d", len(sealed))
	}
}

func TestMaxSealedPlaintextFitsRecord(t *testing.T) {
	pub, _ := generateTestKeypair(t)

	sealed, err := SealContent("lobby", make([]byte, MaxSealedPlaintext), pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed) != 512 {
		t.Fatalf("expected sealed length 512, got %d", len(sealed))
	}
}

func TestDifferentCiphertexts(t *testing.T) {
	pub, priv := generateTestKeypair(t)

	ct1, _ := SealContent("lobby", []byte("same"), pub)
	ct2, _ := SealContent("lobby", []byte("same"), pub)
	if bytes.Equal(ct1, ct2) {
		t.Fatal("ciphertexts should differ for same plaintext")
	}

	pt1, _ := OpenContent("lobby", ct1, priv)
	pt2, _ := OpenContent("lobby", ct2, priv)
	if string(pt1) != "same" || string(pt2) != "same" {
		t.Fatal("both should decrypt to 'same'")
	}
}

func TestWrongKeyFails(t *testing.T) {
	pub, _ := generateTestKeypair(t)
	sealed, _ := SealContent("lobby", []byte("secret"), pub)

	_, wrongPriv := generateTestKeypair(t)
	if _, err := OpenContent("lobby", sealed, wrongPriv); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestWrongRoomFails(t *testing.T) {
	pub, priv := generateTestKeypair(t)
	sealed, _ := SealContent("lobby", []byte("secret"), pub)

	if _, err := OpenContent("chat_room", sealed, priv); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for another room, got %v", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	pub, priv := generateTestKeypair(t)

	sealed, _ := SealContent("lobby", []byte("secret"), pub)
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := OpenContent("lobby", sealed, priv); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestTruncatedCiphertext(t *testing.T) {
	_, priv := generateTestKeypair(t)

	if _, err := OpenContent("lobby", make([]byte, 30), priv); !errors.Is(err, ErrSealedShort) {
		t.Fatalf("expected ErrSealedShort, got %v", err)
	}
}

func TestEmptyPlaintext(t *testing.T) {
	pub, priv := generateTestKeypair(t)

	sealed, err := SealContent("lobby", nil, pub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := OpenContent("lobby", sealed, priv)
	if err != nil {
		t.Fatal(err)
	}
	if len(pt) != 0 {
		t.Fatalf("expected empty plaintext, got %q", pt)
	}
}

func TestInvalidPublicKeyLength(t *testing.T) {
	if _, err := SealContent("lobby", []byte("test"), make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
