// Package reader enumerates a room's message records by address. The
// ledger keeps no index, so every query walks sequence numbers.
package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

// MaxScan bounds how many addresses one Scan call will visit.
const MaxScan = 1000

// Filter selects messages by sender and/or recipient. Zero keys match all.
type Filter struct {
	Sender    ledger.PublicKey
	Recipient ledger.PublicKey
}

func (f Filter) match(m *ledger.Message) bool {
	if !f.Sender.IsZero() && m.Sender != f.Sender {
		return false
	}
	if !f.Recipient.IsZero() && m.Recipient != f.Recipient {
		return false
	}
	return true
}

// Page is one Scan result.
type Page struct {
	Room     ledger.Room       `json:"room"`
	Messages []*ledger.Message `json:"messages"`
	Next     uint64            `json:"next"`
	HasMore  bool              `json:"has_more"`
}

// Reader reads records straight from a RecordStore.
type Reader struct {
	store ledger.RecordStore
	rooms *ledger.Ledger
}

// New creates a Reader.
func New(store ledger.RecordStore) *Reader {
	return &Reader{store: store, rooms: ledger.New(store)}
}

// Message returns the message with sequence number seq.
func (r *Reader) Message(ctx context.Context, room ledger.RoomID, seq uint64) (*ledger.Message, error) {
	addr := ledger.MessageAddress(room, seq)
	data, err := r.store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	m, err := ledger.DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	if m.SequenceNumber != seq {
		return nil, fmt.Errorf("%w: %s holds sequence %d, want %d", ledger.ErrCorruptRecord, addr, m.SequenceNumber, seq)
	}
	m.Address = addr
	return m, nil
}

// Scan visits sequence numbers from `from` up to the room's current count
// and returns at most limit matching messages. Next is the first sequence
// number not yet visited.
func (r *Reader) Scan(ctx context.Context, room ledger.RoomID, f Filter, from uint64, limit int) (*Page, error) {
	reg, err := r.rooms.Room(ctx, room)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	page := &Page{Room: *reg, Messages: []*ledger.Message{}}
	seq := from
	for visited := 0; seq < reg.MessageCount && visited < MaxScan && len(page.Messages) < limit; visited++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := r.Message(ctx, room, seq)
		if err != nil {
			if errors.Is(err, ledger.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: missing sequence %d below count %d", ledger.ErrCorruptRecord, seq, reg.MessageCount)
			}
			return nil, err
		}
		seq++
		if f.match(m) {
			page.Messages = append(page.Messages, m)
		}
	}
	page.Next = seq
	page.HasMore = seq < reg.MessageCount
	return page, nil
}
