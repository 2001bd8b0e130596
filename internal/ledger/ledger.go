package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Ledger sequences messages into rooms on top of a RecordStore.
type Ledger struct {
	store  RecordStore
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock replaces the host clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger backed by store.
func New(store RecordStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize creates the room registry with a zero message count.
func (l *Ledger) Initialize(ctx context.Context, room RoomID, initializer Identity) (*Room, error) {
	if !initializer.Verified() {
		return nil, ErrInvalidSignature
	}
	addr := RoomAddress(room)
	if err := l.store.Apply(ctx, Create(addr, RoomSpace, encodeRoom(0))); err != nil {
		if errors.Is(err, ErrAddressInUse) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, room)
		}
		return nil, fmt.Errorf("create room registry: %w", err)
	}

	l.logger.Info().
		Str("room", string(room)).
		Str("initializer", initializer.Key().String()).
		Msg("chat room initialized")

	return &Room{ID: room, Address: addr}, nil
}

// Room reads the current registry for room.
func (l *Ledger) Room(ctx context.Context, room RoomID) (*Room, error) {
	addr := RoomAddress(room)
	data, err := l.store.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotInitialized, room)
		}
		return nil, fmt.Errorf("read room registry: %w", err)
	}
	count, err := decodeRoom(data)
	if err != nil {
		return nil, err
	}
	return &Room{ID: room, Address: addr, MessageCount: count}, nil
}

// Send appends a message to room and returns its sequence number.
//
// The record address is derived from the counter value observed at the
// start of the call. Creating the record and advancing the counter happen
// in one atomic store batch, so a send that raced on a stale counter fails
// with ErrAddressCollision and leaves nothing behind. Send never retries.
func (l *Ledger) Send(ctx context.Context, room RoomID, sender Identity, recipient PublicKey, content []byte) (*Message, error) {
	if !sender.Verified() {
		return nil, ErrInvalidSignature
	}

	r, err := l.Room(ctx, room)
	if err != nil {
		return nil, err
	}
	n := r.MessageCount

	msg := &Message{
		Address:        MessageAddress(room, n),
		Sender:         sender.Key(),
		Recipient:      recipient,
		Content:        content,
		Timestamp:      l.now().Unix(),
		SequenceNumber: n,
	}

	err = l.store.Apply(ctx,
		Create(msg.Address, MessageSpace, encodeMessage(msg)),
		Update(r.Address, encodeRoom(n+1)),
	)
	switch {
	case err == nil:
	case errors.Is(err, ErrAddressInUse):
		l.logger.Warn().
			Str("room", string(room)).
			Uint64("sequence", n).
			Msg("address collision")
		return nil, fmt.Errorf("%w: sequence %d in %s", ErrAddressCollision, n, room)
	case errors.Is(err, ErrExceedsSpace):
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrContentTooLarge, len(content), MaxContentSize)
	case errors.Is(err, ErrRecordNotFound):
		return nil, fmt.Errorf("%w: %s", ErrRoomNotInitialized, room)
	default:
		return nil, fmt.Errorf("create message record: %w", err)
	}

	l.logger.Info().
		Str("room", string(room)).
		Uint64("sequence", n).
		Str("sender", msg.Sender.String()).
		Str("recipient", msg.Recipient.String()).
		Msg("message sent")

	return msg, nil
}

// SendWithRetry calls Send until it succeeds, fails with anything other
// than ErrAddressCollision, or maxAttempts sends have been made. Each
// attempt re-reads the counter.
func (l *Ledger) SendWithRetry(ctx context.Context, room RoomID, sender Identity, recipient PublicKey, content []byte, maxAttempts int) (*Message, int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt - 1, ctxErr
		}
		var msg *Message
		msg, err = l.Send(ctx, room, sender, recipient, content)
		if err == nil {
			return msg, attempt, nil
		}
		if !errors.Is(err, ErrAddressCollision) {
			return nil, attempt, err
		}
	}
	return nil, maxAttempts, err
}

// MessagesForUser is a placeholder query. It reads nothing and always
// succeeds; readers enumerate message addresses themselves.
func (l *Ledger) MessagesForUser(ctx context.Context, user PublicKey) error {
	l.logger.Debug().Str("user", user.String()).Msg("getting messages for user")
	return nil
}
