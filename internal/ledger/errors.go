package ledger

import "errors"

var (
	ErrAlreadyInitialized = errors.New("room already initialized")
	ErrRoomNotInitialized = errors.New("room not initialized")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrContentTooLarge    = errors.New("content too large")
	ErrAddressCollision   = errors.New("address collision")

	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidRoom      = errors.New("invalid room tag")
	ErrCorruptRecord    = errors.New("corrupt record")
)

// Record store errors. Backends must return (or wrap) these so the
// sequencer can map them onto the errors above.
var (
	ErrAddressInUse   = errors.New("address already in use")
	ErrRecordNotFound = errors.New("record not found")
	ErrExceedsSpace   = errors.New("data exceeds allocated space")
)
