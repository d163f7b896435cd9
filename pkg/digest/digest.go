// Package digest implements the content-addressing primitives shared by
// every layer of hashmesh: a 32-byte SHA-256 Digest and the CID that pairs
// a digest with an optional symmetric key for encrypted nodes.
package digest

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the length in bytes of a digest (SHA-256).
const Size = 32

// KeySize is the length in bytes of a node encryption key.
const KeySize = 32

// Prefix is the string prefix for the human-readable digest encoding.
const Prefix = "hm"

// Digest is the SHA-256 hash of a block's stored bytes.
type Digest [Size]byte

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// FromBytes builds a Digest from a raw 32-byte slice.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("digest: invalid length: got %d, want %d", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// Bytes returns a copy of the raw digest bytes.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String renders the digest as "hm:<base32>".
func (d Digest) String() string {
	return Prefix + ":" + encode(d[:])
}

// Hex renders the digest as lowercase hex.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Parse decodes a digest previously produced by String.
func Parse(s string) (Digest, error) {
	var d Digest
	if !strings.HasPrefix(s, Prefix+":") {
		return d, fmt.Errorf("digest: missing %q prefix", Prefix+":")
	}
	raw, err := decode(strings.TrimPrefix(s, Prefix+":"))
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	return FromBytes(raw)
}

func encode(b []byte) string {
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b))
}

func decode(s string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(s))
}

// CID is the Content Identifier passed between the tree engine and its
// callers: a digest plus an optional symmetric key marking the block as
// encrypted. A CID with no key refers to a block stored in the clear.
type CID struct {
	Digest Digest
	Key    *[KeySize]byte
}

// FromDigest builds an unencrypted CID.
func FromDigest(d Digest) CID {
	return CID{Digest: d}
}

// FromDigestAndKey builds an encrypted CID.
func FromDigestAndKey(d Digest, key [KeySize]byte) CID {
	k := key
	return CID{Digest: d, Key: &k}
}

// Encrypted reports whether the CID carries a key.
func (c CID) Encrypted() bool {
	return c.Key != nil
}

// Equal reports whether two CIDs reference the same digest and key.
func (c CID) Equal(o CID) bool {
	if c.Digest != o.Digest {
		return false
	}
	if (c.Key == nil) != (o.Key == nil) {
		return false
	}
	if c.Key == nil {
		return true
	}
	return *c.Key == *o.Key
}

// IsZero reports whether c is the zero-value CID.
func (c CID) IsZero() bool {
	return c.Digest.IsZero() && c.Key == nil
}

// String renders the CID for debugging. Keys never appear in the output —
// they must stay local to the identity that owns them; wire hashes are
// raw digests only.
func (c CID) String() string {
	if c.Encrypted() {
		return c.Digest.String() + "+enc"
	}
	return c.Digest.String()
}
