package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const (
	roomSeed    = "chat_room"
	messageSeed = "message"
)

// Address is a deterministic record location, hex encoded.
type Address string

// deriveAddress hashes length-prefixed seeds so that distinct seed lists
// never produce the same preimage.
func deriveAddress(seeds ...[]byte) Address {
	h := sha256.New()
	var n [4]byte
	for _, s := range seeds {
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write(s)
	}
	return Address(hex.EncodeToString(h.Sum(nil)))
}

// RoomAddress returns the fixed address of a room's registry record.
func RoomAddress(room RoomID) Address {
	return deriveAddress([]byte(roomSeed), []byte(room))
}

// MessageAddress returns the address of the message with sequence number
// seq in room.
func MessageAddress(room RoomID, seq uint64) Address {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], seq)
	return deriveAddress([]byte(messageSeed), []byte(room), le[:])
}
