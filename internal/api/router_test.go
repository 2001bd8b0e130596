package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomledger/internal/api/middleware"
	"github.com/eldtechnologies/roomledger/internal/config"
	"github.com/eldtechnologies/roomledger/internal/crypto"
	"github.com/eldtechnologies/roomledger/internal/handlers"
	"github.com/eldtechnologies/roomledger/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewMemoryStore()
	cfg := &config.Config{
		Store:           config.StoreMemory,
		DefaultRoom:     "chat_room",
		SendMaxAttempts: 3,
		AuthWindow:      30 * time.Second,
	}
	srv := httptest.NewServer(NewRouter(cfg, zerolog.Nop(), &store.Stores{Records: mem, Nonces: mem}))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t    *testing.T
	base string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, base: srv.URL, pub: pub, priv: priv}
}

func (c *client) key() string {
	return base64.StdEncoding.EncodeToString(c.pub)
}

func (c *client) do(method, path string, body interface{}, signed bool, out interface{}) int {
	c.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			c.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(raw))
	if err != nil {
		c.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		hash := sha256.Sum256(raw)
		nonce := crypto.NewNonce()
		ts := time.Now().UnixMilli()
		sig := ed25519.Sign(c.priv, crypto.SignaturePayload(hex.EncodeToString(hash[:]), nonce, ts))
		req.Header.Set(middleware.HeaderKey, c.key())
		req.Header.Set(middleware.HeaderNonce, nonce)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestRoomLifecycle(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)
	bob := newClient(t, srv)

	var room handlers.RoomResponse
	if code := alice.do(http.MethodPost, "/room", nil, true, &room); code != http.StatusCreated {
		t.Fatalf("init: %d", code)
	}
	if room.Room != "chat_room" || room.MessageCount != 0 {
		t.Fatalf("unexpected room %+v", room)
	}

	if code := bob.do(http.MethodPost, "/room", nil, true, nil); code != http.StatusConflict {
		t.Fatalf("second init: expected 409, got %d", code)
	}

	for i := uint64(0); i < 3; i++ {
		var sent handlers.SendMessageResponse
		code := alice.do(http.MethodPost, "/room/chat_room/messages", handlers.SendMessageRequest{
			Recipient: bob.key(),
			Content:   []byte("hello"),
		}, true, &sent)
		if code != http.StatusCreated {
			t.Fatalf("send %d: %d", i, code)
		}
		if sent.SequenceNumber != i {
			t.Fatalf("expected sequence %d, got %d", i, sent.SequenceNumber)
		}
	}

	if code := alice.do(http.MethodGet, "/room/chat_room", nil, false, &room); code != http.StatusOK {
		t.Fatalf("get room: %d", code)
	}
	if room.MessageCount != 3 {
		t.Fatalf("expected count 3, got %d", room.MessageCount)
	}

	var msg handlers.MessageResponse
	if code := bob.do(http.MethodGet, "/room/chat_room/messages/1", nil, false, &msg); code != http.StatusOK {
		t.Fatalf("get message: %d", code)
	}
	if msg.Sender != alice.key() || msg.Recipient != bob.key() || string(msg.Content) != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if code := bob.do(http.MethodGet, "/room/chat_room/messages/3", nil, false, nil); code != http.StatusNotFound {
		t.Fatalf("missing message: expected 404, got %d", code)
	}

	var page handlers.MessagesResponse
	path := "/room/chat_room/messages?recipient=" + url.QueryEscape(bob.key()) + "&limit=2"
	if code := bob.do(http.MethodGet, path, nil, false, &page); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(page.Messages) != 2 || !page.HasMore || page.Next != 2 {
		t.Fatalf("unexpected page: %d messages, has_more=%v next=%d", len(page.Messages), page.HasMore, page.Next)
	}
}

func TestSendErrors(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)

	send := handlers.SendMessageRequest{Recipient: alice.key(), Content: []byte("x")}
	if code := alice.do(http.MethodPost, "/room/chat_room/messages", send, true, nil); code != http.StatusNotFound {
		t.Fatalf("uninitialized room: expected 404, got %d", code)
	}

	if code := alice.do(http.MethodPost, "/room", handlers.InitializeRoomRequest{Room: "lobby"}, true, nil); code != http.StatusCreated {
		t.Fatalf("init lobby: %d", code)
	}

	big := handlers.SendMessageRequest{Recipient: alice.key(), Content: make([]byte, 513)}
	if code := alice.do(http.MethodPost, "/room/lobby/messages", big, true, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized: expected 422, got %d", code)
	}

	bad := handlers.SendMessageRequest{Recipient: "nope", Content: []byte("x")}
	if code := alice.do(http.MethodPost, "/room/lobby/messages", bad, true, nil); code != http.StatusBadRequest {
		t.Fatalf("bad recipient: expected 400, got %d", code)
	}

	if code := alice.do(http.MethodPost, "/room/lobby/messages", send, false, nil); code != http.StatusUnauthorized {
		t.Fatalf("unsigned: expected 401, got %d", code)
	}

	var room handlers.RoomResponse
	alice.do(http.MethodGet, "/room/lobby", nil, false, &room)
	if room.MessageCount != 0 {
		t.Fatalf("failed sends advanced the counter to %d", room.MessageCount)
	}
}

func TestNewRoom(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)

	var room handlers.RoomResponse
	if code := alice.do(http.MethodPost, "/room", handlers.InitializeRoomRequest{New: true}, true, &room); code != http.StatusCreated {
		t.Fatalf("init: %d", code)
	}
	if len(room.Room) != 36 {
		t.Fatalf("expected a UUID room tag, got %q", room.Room)
	}

	code := alice.do(http.MethodPost, "/room", handlers.InitializeRoomRequest{New: true, Room: "x"}, true, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("room with new: expected 400, got %d", code)
	}
}

func TestMessagesForUser(t *testing.T) {
	srv := newTestServer(t)
	alice := newClient(t, srv)

	var out map[string]interface{}
	code := alice.do(http.MethodPost, "/messages/for-user", handlers.UserQueryRequest{User: alice.key()}, true, &out)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	c := newClient(t, srv)

	var health handlers.HealthResponse
	if code := c.do(http.MethodGet, "/health", nil, false, &health); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if health.Status != "healthy" || health.Store != config.StoreMemory || health.Checks["records"].Status != "pass" {
		t.Fatalf("unexpected health %+v", health)
	}
}
