package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/roomledger/internal/api/middleware"
	"github.com/eldtechnologies/roomledger/internal/crypto"
	"github.com/eldtechnologies/roomledger/internal/ledger"
	"github.com/eldtechnologies/roomledger/internal/metrics"
	"github.com/eldtechnologies/roomledger/internal/reader"
)

// InitializeRoomRequest represents the room initialization request.
// Both fields are optional; an empty body initializes the default room.
type InitializeRoomRequest struct {
	Room string `json:"room,omitempty"`
	New  bool   `json:"new,omitempty"` // Generate a fresh room tag
}

// RoomResponse represents a room registry in API responses.
type RoomResponse struct {
	Room         string `json:"room"`
	Address      string `json:"address"`
	MessageCount uint64 `json:"message_count"`
}

// SendMessageRequest represents the send message request.
type SendMessageRequest struct {
	Recipient string `json:"recipient"` // base64 Ed25519 public key
	Content   []byte `json:"content"`   // base64 in JSON, opaque to the ledger
}

// SendMessageResponse represents the send message response.
type SendMessageResponse struct {
	SequenceNumber uint64 `json:"sequence_number"`
	Address        string `json:"address"`
	Timestamp      int64  `json:"ts"`
}

// MessageResponse represents a message record in API responses.
type MessageResponse struct {
	SequenceNumber uint64 `json:"sequence_number"`
	Address        string `json:"address"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Content        []byte `json:"content"`
	Timestamp      int64  `json:"ts"`
}

// MessagesResponse represents a page of scanned messages.
type MessagesResponse struct {
	Room     RoomResponse      `json:"room"`
	Messages []MessageResponse `json:"messages"`
	Next     uint64            `json:"next"`
	HasMore  bool              `json:"has_more"`
}

// UserQueryRequest represents the list-messages-for-user request.
type UserQueryRequest struct {
	User string `json:"user"`
}

// InitializeRoom handles room creation (authenticated).
func (h *Handler) InitializeRoom(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if !identity.Verified() {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req InitializeRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tag := req.Room
	switch {
	case req.New && tag != "":
		h.Error(w, http.StatusBadRequest, "room and new are mutually exclusive")
		return
	case req.New:
		tag = crypto.NewUUIDv7().String()
	case tag == "":
		tag = string(h.defaultRoom)
	}

	room, err := ledger.ParseRoomID(tag)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "room must be 1-64 characters: letters, digits, '_', '-', '.'")
		return
	}

	reg, err := h.ledger.Initialize(r.Context(), room, identity)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	metrics.RoomsInitialized.Inc()

	h.JSON(w, http.StatusCreated, roomResponse(reg))
}

// GetRoom returns a room's registry.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	reg, err := h.ledger.Room(r.Context(), room)
	if err != nil {
		h.ledgerError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, roomResponse(reg))
}

// SendMessage handles appending a message to a room (authenticated).
// Address collisions are retried up to the configured attempt count.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if !identity.Verified() {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recipient, err := ledger.ParsePublicKey(req.Recipient)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "recipient must be a base64-encoded Ed25519 public key")
		return
	}

	msg, attempts, err := h.ledger.SendWithRetry(r.Context(), room, identity, recipient, req.Content, h.maxAttempts)
	if attempts > 1 {
		metrics.AddressCollisions.WithLabelValues("retried").Add(float64(attempts - 1))
	}
	if err != nil {
		h.sendFailure(err)
		h.ledgerError(w, err)
		return
	}
	metrics.MessagesSent.Inc()

	h.JSON(w, http.StatusCreated, SendMessageResponse{
		SequenceNumber: msg.SequenceNumber,
		Address:        string(msg.Address),
		Timestamp:      msg.Timestamp,
	})
}

// GetMessage returns a single message by sequence number.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid sequence number")
		return
	}

	msg, err := h.reader.Message(r.Context(), room, seq)
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			h.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.ledgerError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, messageResponse(msg))
}

// ListMessages scans a room's messages, optionally filtered by sender
// and recipient.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter reader.Filter
	if s := q.Get("sender"); s != "" {
		key, err := ledger.ParsePublicKey(s)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid sender key")
			return
		}
		filter.Sender = key
	}
	if s := q.Get("recipient"); s != "" {
		key, err := ledger.ParsePublicKey(s)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid recipient key")
			return
		}
		filter.Recipient = key
	}

	var from uint64
	if s := q.Get("from"); s != "" {
		f, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = f
	}

	limit := 50
	if s := q.Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 200 {
		limit = 200
	}

	page, err := h.reader.Scan(r.Context(), room, filter, from, limit)
	if err != nil {
		h.ledgerError(w, err)
		return
	}

	msgs := make([]MessageResponse, len(page.Messages))
	for i, m := range page.Messages {
		msgs[i] = messageResponse(m)
	}

	h.JSON(w, http.StatusOK, MessagesResponse{
		Room:     roomResponse(&page.Room),
		Messages: msgs,
		Next:     page.Next,
		HasMore:  page.HasMore,
	})
}

// MessagesForUser is the placeholder per-user query. It validates the
// request and returns an empty object; use ListMessages to read.
func (h *Handler) MessagesForUser(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if !identity.Verified() {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req UserQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := ledger.ParsePublicKey(req.User)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "user must be a base64-encoded Ed25519 public key")
		return
	}

	if err := h.ledger.MessagesForUser(r.Context(), user); err != nil {
		h.ledgerError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) roomParam(w http.ResponseWriter, r *http.Request) (ledger.RoomID, bool) {
	room, err := ledger.ParseRoomID(chi.URLParam(r, "room"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room")
		return "", false
	}
	return room, true
}

// ledgerError maps ledger errors to HTTP responses.
func (h *Handler) ledgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		h.Error(w, http.StatusConflict, "room already initialized")
	case errors.Is(err, ledger.ErrAddressCollision):
		h.Error(w, http.StatusConflict, "address collision, retry")
	case errors.Is(err, ledger.ErrRoomNotInitialized):
		h.Error(w, http.StatusNotFound, "room not initialized")
	case errors.Is(err, ledger.ErrContentTooLarge):
		h.Error(w, http.StatusUnprocessableEntity, "content too large (max 512 bytes)")
	case errors.Is(err, ledger.ErrInvalidSignature):
		h.Error(w, http.StatusUnauthorized, "invalid signature")
	default:
		h.logger.Error().Err(err).Msg("ledger operation failed")
		h.Error(w, http.StatusInternalServerError, "storage error")
	}
}

func (h *Handler) sendFailure(err error) {
	reason := "storage"
	switch {
	case errors.Is(err, ledger.ErrAddressCollision):
		reason = "collision"
		metrics.AddressCollisions.WithLabelValues("exhausted").Inc()
	case errors.Is(err, ledger.ErrRoomNotInitialized):
		reason = "room_not_initialized"
	case errors.Is(err, ledger.ErrContentTooLarge):
		reason = "content_too_large"
	case errors.Is(err, ledger.ErrInvalidSignature):
		reason = "invalid_signature"
	}
	metrics.SendFailures.WithLabelValues(reason).Inc()
}

func roomResponse(r *ledger.Room) RoomResponse {
	return RoomResponse{
		Room:         string(r.ID),
		Address:      string(r.Address),
		MessageCount: r.MessageCount,
	}
}

func messageResponse(m *ledger.Message) MessageResponse {
	return MessageResponse{
		SequenceNumber: m.SequenceNumber,
		Address:        string(m.Address),
		Sender:         m.Sender.String(),
		Recipient:      m.Recipient.String(),
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	}
}
