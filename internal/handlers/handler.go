package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomledger/internal/ledger"
	"github.com/eldtechnologies/roomledger/internal/reader"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	ledger      *ledger.Ledger
	reader      *reader.Reader
	store       ledger.RecordStore
	logger      zerolog.Logger
	defaultRoom ledger.RoomID
	maxAttempts int
	checks      map[string]Pinger
	backend     string
}

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Handler.
type Options struct {
	Backend         string // record store name, reported by /health
	DefaultRoom     string
	SendMaxAttempts int
	Checks          map[string]Pinger // extra dependencies to probe, e.g. redis
}

// NewHandler creates a new Handler over the given record store.
func NewHandler(store ledger.RecordStore, logger zerolog.Logger, opts Options) *Handler {
	room := ledger.RoomID(opts.DefaultRoom)
	if room == "" {
		room = ledger.DefaultRoom
	}
	attempts := opts.SendMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Handler{
		ledger:      ledger.New(store, ledger.WithLogger(logger)),
		reader:      reader.New(store),
		store:       store,
		logger:      logger,
		defaultRoom: room,
		maxAttempts: attempts,
		checks:      opts.Checks,
		backend:     opts.Backend,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
