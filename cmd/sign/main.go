package main

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eldtechnologies/roomledger/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key or 32-byte seed")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	flag.Parse()

	if *privKeyB64 == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> [-body <file>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if -body not specified")
		os.Exit(1)
	}

	privKeyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}
	var privKey ed25519.PrivateKey
	switch len(privKeyBytes) {
	case ed25519.SeedSize:
		privKey = ed25519.NewKeyFromSeed(privKeyBytes)
	case ed25519.PrivateKeySize:
		privKey = ed25519.PrivateKey(privKeyBytes)
	default:
		fmt.Fprintf(os.Stderr, "Invalid private key length: %d\n", len(privKeyBytes))
		os.Exit(1)
	}

	var body []byte
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonce := crypto.NewNonce()
	timestamp := time.Now().UnixMilli()

	bodyHashBytes := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(bodyHashBytes[:])

	signature := ed25519.Sign(privKey, crypto.SignaturePayload(bodyHash, nonce, timestamp))
	pub := privKey.Public().(ed25519.PublicKey)

	fmt.Printf("X-Ledger-Key: %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("X-Ledger-Nonce: %s\n", nonce)
	fmt.Printf("X-Ledger-Timestamp: %d\n", timestamp)
	fmt.Printf("X-Ledger-Signature: %s\n", base64.StdEncoding.EncodeToString(signature))
}
