package domain

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// IDLength is the length of an identity in bytes.
const IDLength = 12

// ID is the opaque 12-byte identity assigned to items and collections at
// creation time. The layout follows the classic object-id scheme: a 4-byte
// big-endian creation timestamp, a 5-byte per-process random value and a
// 3-byte big-endian counter. IDs are unique within a deployment without
// coordination.
type ID [IDLength]byte

var (
	idProcess [5]byte
	idCounter uint32
)

func init() {
	if _, err := rand.Read(idProcess[:]); err != nil {
		panic(fmt.Sprintf("failed to seed id generator: %v", err))
	}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("failed to seed id counter: %v", err))
	}
	idCounter = binary.BigEndian.Uint32(seed[:])
}

// NewID generates a new unique ID.
func NewID() ID {
	var id ID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], idProcess[:])

	c := atomic.AddUint32(&idCounter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// IDFromBytes builds an ID from a raw 12-byte slice.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDLength {
		return id, fmt.Errorf("invalid id length: expected %d bytes, got %d", IDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IDFromHex parses the 24-character hex form of an ID.
func IDFromHex(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid id: %w", err)
	}
	return IDFromBytes(b)
}

// Bytes returns the raw 12 bytes of the ID.
func (id ID) Bytes() []byte {
	return id[:]
}

// Hex returns the 24-character lowercase hex form of the ID.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the all-zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return id.Hex()
}
