package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomledger/internal/crypto"
	"github.com/eldtechnologies/roomledger/internal/ledger"
	"github.com/eldtechnologies/roomledger/internal/store"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Auth headers.
const (
	HeaderKey       = "X-Ledger-Key"
	HeaderNonce     = "X-Ledger-Nonce"
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

// AuthMiddleware handles signature verification for authenticated endpoints.
type AuthMiddleware struct {
	nonces   store.NonceStore
	verifier ledger.Verifier
	window   time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewAuthMiddleware creates a new auth middleware. window bounds how old a
// signed timestamp may be.
func NewAuthMiddleware(nonces store.NonceStore, window time.Duration, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		nonces:   nonces,
		verifier: crypto.Ed25519Verifier{},
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests and puts
// the attested ledger.Identity in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyB64 := r.Header.Get(HeaderKey)
		nonce := r.Header.Get(HeaderNonce)
		timestamp := r.Header.Get(HeaderTimestamp)
		signature := r.Header.Get(HeaderSignature)

		if keyB64 == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if !m.isTimestampValid(ts) {
			jsonError(w, http.StatusUnauthorized, "timestamp expired or too far in future")
			return
		}

		// Validate nonce format (min 24 chars for adequate entropy)
		if len(nonce) < 24 {
			jsonError(w, http.StatusUnauthorized, "nonce must be at least 24 characters")
			return
		}

		pub, err := crypto.ValidatePublicKey(keyB64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid public key")
			return
		}
		key, _ := ledger.PublicKeyFrom(pub)

		sig, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid signature encoding")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		identity, err := ledger.Authenticate(m.verifier, ledger.SignedAction{
			Key:       key,
			Payload:   crypto.SignaturePayload(sha256Hex(body), nonce, ts),
			Signature: sig,
		})
		if err != nil {
			m.logger.Warn().
				Str("type", "security").
				Str("event", "invalid_signature").
				Str("key", keyB64).
				Str("endpoint", r.URL.Path).
				Msg("signature verification failed")
			jsonError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Claimed only after verification so forged requests cannot burn
		// a signer's nonces.
		if !m.nonces.UseNonce(r.Context(), keyB64, nonce, m.nonceTTL()) {
			m.logger.Warn().
				Str("type", "security").
				Str("event", "nonce_reused").
				Str("key", keyB64).
				Str("endpoint", r.URL.Path).
				Msg("replayed request rejected")
			jsonError(w, http.StatusUnauthorized, "nonce already used")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// nonceTTL keeps a nonce claimed for as long as its timestamp could still
// be accepted.
func (m *AuthMiddleware) nonceTTL() time.Duration {
	if ttl := m.window + time.Minute; ttl > 3*time.Minute {
		return ttl
	}
	return 3 * time.Minute
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := m.now().UnixMilli()
	windowMs := m.window.Milliseconds()
	// Only accept timestamps from the past (within window), reject future timestamps
	return ts > now-windowMs && ts <= now
}

func sha256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetIdentityFromContext retrieves the authenticated identity from the
// request context. The zero Identity is returned when none is present.
func GetIdentityFromContext(ctx context.Context) ledger.Identity {
	identity, _ := ctx.Value(IdentityContextKey).(ledger.Identity)
	return identity
}
