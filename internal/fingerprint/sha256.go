package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

func init() {
	Register(sha256Algorithm{})
}

// sha256Algorithm is the default fingerprint algorithm: SHA-256 rendered
// as 64 lowercase hex characters.
type sha256Algorithm struct{}

func (sha256Algorithm) Name() string {
	return "sha256"
}

func (sha256Algorithm) DigestLength() int {
	return sha256.Size * 2
}

func (sha256Algorithm) NewContext() Context {
	return &hashContext{h: sha256.New()}
}

// hashContext adapts a hash.Hash to the Context interface, rendering the
// digest as lowercase hex.
type hashContext struct {
	h hash.Hash
}

func (c *hashContext) Update(p []byte) {
	_, _ = c.h.Write(p)
}

func (c *hashContext) Finalize() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

func (c *hashContext) Reset() {
	c.h.Reset()
}
