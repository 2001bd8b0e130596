package middleware

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomledger/internal/crypto"
	"github.com/eldtechnologies/roomledger/internal/store"
)

var testNow = time.UnixMilli(1700000000000)

func newTestAuth() *AuthMiddleware {
	m := NewAuthMiddleware(store.NewMemoryStore(), 30*time.Second, zerolog.Nop())
	m.now = func() time.Time { return testNow }
	return m
}

type signedRequest struct {
	priv  ed25519.PrivateKey
	key   string
	nonce string
	ts    int64
	body  []byte
}

func newSignedRequest(t *testing.T, body string) *signedRequest {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &signedRequest{
		priv:  priv,
		key:   base64.StdEncoding.EncodeToString(pub),
		nonce: crypto.NewNonce(),
		ts:    testNow.Add(-time.Second).UnixMilli(),
		body:  []byte(body),
	}
}

func (s *signedRequest) build() *http.Request {
	payload := crypto.SignaturePayload(sha256Hex(s.body), s.nonce, s.ts)
	req := httptest.NewRequest(http.MethodPost, "/room/chat_room/messages", bytes.NewReader(s.body))
	req.Header.Set(HeaderKey, s.key)
	req.Header.Set(HeaderNonce, s.nonce)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(s.ts, 10))
	req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload)))
	return req
}

// echoSigner responds 200 with the attested key, or 500 if none was attached.
var echoSigner = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := GetIdentityFromContext(r.Context())
	if !id.Verified() {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write([]byte(id.Key().String()))
})

func serve(m *AuthMiddleware, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	m.RequireAuth(echoSigner).ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthAccepts(t *testing.T) {
	m := newTestAuth()
	s := newSignedRequest(t, `{"recipient":"x"}`)

	rec := serve(m, s.build())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != s.key {
		t.Fatalf("identity key %q, want %q", rec.Body.String(), s.key)
	}
}

func TestRequireAuthRejectsReplay(t *testing.T) {
	m := newTestAuth()
	s := newSignedRequest(t, `{}`)

	if rec := serve(m, s.build()); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := serve(m, s.build()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthConcurrentReplay(t *testing.T) {
	m := newTestAuth()
	s := newSignedRequest(t, `{"recipient":"x"}`)

	const copies = 32
	codes := make(chan int, copies)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < copies; i++ {
		req := s.build()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			codes <- serve(m, req).Code
		}()
	}
	close(start)
	wg.Wait()
	close(codes)

	accepted := 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			accepted++
		case http.StatusUnauthorized:
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if accepted != 1 {
		t.Fatalf("signed request accepted %d times", accepted)
	}
}

func TestRequireAuthForgeryKeepsNonce(t *testing.T) {
	m := newTestAuth()
	s := newSignedRequest(t, `{}`)

	forged := s.build()
	forged.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(make([]byte, 64)))
	if rec := serve(m, forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged request: expected 401, got %d", rec.Code)
	}

	if rec := serve(m, s.build()); rec.Code != http.StatusOK {
		t.Fatalf("genuine request after forgery: expected 200, got %d", rec.Code)
	}
}

func TestRequireAuthRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *signedRequest) *http.Request
	}{
		{"missing headers", func(s *signedRequest) *http.Request {
			req := s.build()
			req.Header.Del(HeaderSignature)
			return req
		}},
		{"expired timestamp", func(s *signedRequest) *http.Request {
			s.ts = testNow.Add(-time.Minute).UnixMilli()
			return s.build()
		}},
		{"future timestamp", func(s *signedRequest) *http.Request {
			s.ts = testNow.Add(time.Second).UnixMilli()
			return s.build()
		}},
		{"short nonce", func(s *signedRequest) *http.Request {
			s.nonce = "abc"
			return s.build()
		}},
		{"bad key", func(s *signedRequest) *http.Request {
			req := s.build()
			req.Header.Set(HeaderKey, base64.StdEncoding.EncodeToString([]byte("short")))
			return req
		}},
		{"body tampered", func(s *signedRequest) *http.Request {
			sig := s.build().Header.Get(HeaderSignature)
			s.body = []byte(`{"tampered":true}`)
			req := s.build()
			req.Header.Set(HeaderSignature, sig)
			return req
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.build(newSignedRequest(t, `{}`))

			rec := serve(newTestAuth(), req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/health":                 "/health",
		"/room/lobby":             "/room/:room",
		"/room/lobby/messages":    "/room/:room/messages",
		"/room/lobby/messages/12": "/room/:room/messages/:seq",
		"/messages/for-user":      "/messages/for-user",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
