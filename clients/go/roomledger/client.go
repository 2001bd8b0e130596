// Package roomledger provides a client for the roomledger HTTP API.
package roomledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultRoom is the room the server initializes when none is named.
const DefaultRoom = "chat_room"

// Client is a roomledger API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
	now        func() time.Time
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("roomledger error %d: %s", e.Status, e.Message)
}

// IsCollision reports whether err is the server's address collision
// response. Callers may resend after re-reading the room.
func IsCollision(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Message == "address collision, retry"
}

// NewClient creates a new client and loads a saved key if there is one.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("ROOMLEDGER_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".roomledger")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}

	_ = c.LoadKey()
	return c
}

// LoadKey loads the signing key seed from disk.
func (c *Client) LoadKey() error {
	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}

	seed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(keyData)))
	if err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("private.key: want %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}

	c.PrivateKey = ed25519.NewKeyFromSeed(seed)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)
	return nil
}

// SaveKey saves the signing key seed to disk.
func (c *Client) SaveKey() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}
	keyData := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// Identity returns the client's base64 public key.
func (c *Client) Identity() string {
	return base64.StdEncoding.EncodeToString(c.PublicKey)
}

// signRequest creates authentication headers for a request.
func (c *Client) signRequest(body []byte) http.Header {
	hash := sha256.Sum256(body)
	hashHex := hex.EncodeToString(hash[:])

	nonce := ulid.Make().String()
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)

	payload := fmt.Sprintf("%s|%s|%s", hashHex, nonce, timestamp)
	sig := ed25519.Sign(c.PrivateKey, []byte(payload))

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Ledger-Key", c.Identity())
	headers.Set("X-Ledger-Nonce", nonce)
	headers.Set("X-Ledger-Timestamp", timestamp)
	headers.Set("X-Ledger-Signature", base64.StdEncoding.EncodeToString(sig))
	return headers
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, body []byte, signed bool, out interface{}) error {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if signed {
		if c.PrivateKey == nil {
			return errors.New("no signing key: run keygen first")
		}
		req.Header = c.signRequest(body)
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Room is a room registry.
type Room struct {
	Room         string `json:"room"`
	Address      string `json:"address"`
	MessageCount uint64 `json:"message_count"`
}

// InitRoom initializes a room. An empty name initializes the server's
// default room; fresh asks the server to generate a new tag.
func (c *Client) InitRoom(name string, fresh bool) (*Room, error) {
	body, _ := json.Marshal(struct {
		Room string `json:"room,omitempty"`
		New  bool   `json:"new,omitempty"`
	}{name, fresh})

	var resp Room
	if err := c.doRequest("POST", "/room", body, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRoom reads a room registry.
func (c *Client) GetRoom(name string) (*Room, error) {
	var resp Room
	if err := c.doRequest("GET", "/room/"+url.PathEscape(name), nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendResponse is the result of a send.
type SendResponse struct {
	SequenceNumber uint64 `json:"sequence_number"`
	Address        string `json:"address"`
	Timestamp      int64  `json:"ts"`
}

// Send appends content to a room, addressed to recipient (base64 key).
// When seal is set the content is encrypted for the recipient first.
func (c *Client) Send(room, recipient string, content []byte, seal bool) (*SendResponse, error) {
	if seal {
		pub, err := base64.StdEncoding.DecodeString(recipient)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if content, err = SealContent(room, content, ed25519.PublicKey(pub)); err != nil {
			return nil, err
		}
	}

	body, _ := json.Marshal(struct {
		Recipient string `json:"recipient"`
		Content   []byte `json:"content"`
	}{recipient, content})

	var resp SendResponse
	if err := c.doRequest("POST", "/room/"+url.PathEscape(room)+"/messages", body, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message is a message record.
type Message struct {
	SequenceNumber uint64 `json:"sequence_number"`
	Address        string `json:"address"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Content        []byte `json:"content"`
	Timestamp      int64  `json:"ts"`
}

// Open decrypts sealed content addressed to this client in room.
func (c *Client) Open(room string, m *Message) ([]byte, error) {
	return OpenContent(room, m.Content, c.PrivateKey)
}

// MessagesResponse is a page of messages.
type MessagesResponse struct {
	Room     Room      `json:"room"`
	Messages []Message `json:"messages"`
	Next     uint64    `json:"next"`
	HasMore  bool      `json:"has_more"`
}

// ReadOptions filters a message scan. Empty fields match everything.
type ReadOptions struct {
	Sender    string
	Recipient string
	From      uint64
	Limit     int
}

// Read scans a room's messages.
func (c *Client) Read(room string, opts ReadOptions) (*MessagesResponse, error) {
	q := url.Values{}
	if opts.Sender != "" {
		q.Set("sender", opts.Sender)
	}
	if opts.Recipient != "" {
		q.Set("recipient", opts.Recipient)
	}
	if opts.From > 0 {
		q.Set("from", strconv.FormatUint(opts.From, 10))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/room/" + url.PathEscape(room) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp MessagesResponse
	if err := c.doRequest("GET", path, nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessage fetches one message by sequence number.
func (c *Client) GetMessage(room string, seq uint64) (*Message, error) {
	var resp Message
	path := fmt.Sprintf("/room/%s/messages/%d", url.PathEscape(room), seq)
	if err := c.doRequest("GET", path, nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Store     string                 `json:"store"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest("GET", "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
