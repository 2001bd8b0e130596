package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const discriminatorSize = 8

// Allocated sizes, header included. Records never grow past these.
const (
	RoomSpace    = discriminatorSize + 8
	MessageSpace = discriminatorSize + 32 + 32 + 4 + MaxContentSize + 8 + 8
)

var (
	roomDiscriminator    = discriminator("ChatRoom")
	messageDiscriminator = discriminator("Message")
)

func discriminator(kind string) [discriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + kind))
	var d [discriminatorSize]byte
	copy(d[:], sum[:discriminatorSize])
	return d
}

func encodeRoom(count uint64) []byte {
	buf := make([]byte, RoomSpace)
	copy(buf, roomDiscriminator[:])
	binary.LittleEndian.PutUint64(buf[discriminatorSize:], count)
	return buf
}

func decodeRoom(data []byte) (uint64, error) {
	if len(data) < RoomSpace || !bytes.Equal(data[:discriminatorSize], roomDiscriminator[:]) {
		return 0, fmt.Errorf("%w: not a room registry", ErrCorruptRecord)
	}
	return binary.LittleEndian.Uint64(data[discriminatorSize:]), nil
}

// encodeMessage does not bound the content: the store rejects anything
// that overflows MessageSpace.
func encodeMessage(m *Message) []byte {
	buf := make([]byte, 0, discriminatorSize+32+32+4+len(m.Content)+16)
	buf = append(buf, messageDiscriminator[:]...)
	buf = append(buf, m.Sender[:]...)
	buf = append(buf, m.Recipient[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Content)))
	buf = append(buf, m.Content...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.Timestamp))
	buf = binary.LittleEndian.AppendUint64(buf, m.SequenceNumber)
	return buf
}

// DecodeMessage parses a stored message record. Trailing zero padding from
// the allocation is ignored.
func DecodeMessage(data []byte) (*Message, error) {
	const fixed = discriminatorSize + 32 + 32 + 4
	if len(data) < fixed || !bytes.Equal(data[:discriminatorSize], messageDiscriminator[:]) {
		return nil, fmt.Errorf("%w: not a message record", ErrCorruptRecord)
	}
	m := &Message{}
	off := discriminatorSize
	copy(m.Sender[:], data[off:off+32])
	off += 32
	copy(m.Recipient[:], data[off:off+32])
	off += 32
	n := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if n > MaxContentSize || len(data) < off+n+16 {
		return nil, fmt.Errorf("%w: content length %d", ErrCorruptRecord, n)
	}
	m.Content = append([]byte(nil), data[off:off+n]...)
	off += n
	m.Timestamp = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	m.SequenceNumber = binary.LittleEndian.Uint64(data[off:])
	return m, nil
}
