package item

import (
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/prn-tf/leopold-dedup/internal/domain"
)

// The persisted layouts below are interop surfaces: field names and
// order are fixed. msgpack encodes structs as maps in declaration
// order, which keeps the documents bit-stable.

// statusRecord is the optional status sub-document of an item record.
type statusRecord struct {
	Size             int64 `msgpack:"size"`
	ModificationTime int64 `msgpack:"modification_time"`
}

// itemRecord is the persisted item document under namespace "items".
type itemRecord struct {
	ID           []byte               `msgpack:"_id"`
	Collection   []byte               `msgpack:"collection"`
	Name         string               `msgpack:"name"`
	Status       *statusRecord        `msgpack:"status,omitempty"`
	Credentials  *domain.Credentials  `msgpack:"credentials"`
	Distribution *domain.Distribution `msgpack:"distribution"`
}

// collectionRecord is the persisted collection document under namespace
// "collections".
type collectionRecord struct {
	ID   []byte `msgpack:"_id"`
	Name string `msgpack:"name"`
}

// hashListRecord is the persisted hash list: a map of the form
// {len: n, "0": h₀, "1": h₁, …} with entries in chunk order.
type hashListRecord struct {
	Hashes []string
}

var (
	_ msgpack.CustomEncoder = (*hashListRecord)(nil)
	_ msgpack.CustomDecoder = (*hashListRecord)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder.
func (r *hashListRecord) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(r.Hashes) + 1); err != nil {
		return err
	}
	if err := enc.EncodeString("len"); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(len(r.Hashes))); err != nil {
		return err
	}
	for i, h := range r.Hashes {
		if err := enc.EncodeString(strconv.Itoa(i)); err != nil {
			return err
		}
		if err := enc.EncodeString(h); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (r *hashListRecord) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}

	length := int64(-1)
	entries := make(map[int]string)

	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		if key == "len" {
			length, err = dec.DecodeInt64()
			if err != nil {
				return err
			}
			continue
		}

		index, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid hash list key %q: %w", key, err)
		}
		hash, err := dec.DecodeString()
		if err != nil {
			return err
		}
		entries[index] = hash
	}

	if length < 0 {
		return fmt.Errorf("hash list record missing len field")
	}
	if int64(len(entries)) != length {
		return fmt.Errorf("hash list record has %d entries, len says %d", len(entries), length)
	}

	r.Hashes = make([]string, length)
	for index, hash := range entries {
		if index < 0 || int64(index) >= length {
			return fmt.Errorf("hash list index %d out of range", index)
		}
		r.Hashes[index] = hash
	}
	return nil
}
