// Package cryptonode implements the symmetric authenticated encryption of
// tree node payloads. It sits inside the tree engine, below
// the codec, so that an encrypted CID behaves identically to an
// unencrypted one from every caller's perspective.
//
// The nonce for a node is derived deterministically from the parent's
// digest (or the empty string at the root), so re-encrypting identical
// plaintext under the same key yields identical ciphertext — and
// therefore identical digests — enabling convergent deduplication within
// a single key domain. Nonce derivation: nonce = first 12 bytes of
// BLAKE3-256("hashmesh-node-nonce" | key | parent_digest).
package cryptonode

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/blake3"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

const nonceDomain = "hashmesh-node-nonce"

// DeriveNonce computes the convergent nonce for a node encrypted under key,
// given the digest of its parent node. Pass nil for the root (no parent).
func DeriveNonce(key [digest.KeySize]byte, parent *digest.Digest) [chacha20poly1305.NonceSize]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(nonceDomain))
	h.Write(key[:])
	if parent != nil {
		h.Write(parent[:])
	}
	sum := h.Sum(nil)

	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:], sum[:chacha20poly1305.NonceSize])
	return nonce
}

// Seal encrypts plaintext under key, using the nonce derived from parent's
// digest. The returned ciphertext includes the AEAD tag.
func Seal(key [digest.KeySize]byte, parent *digest.Digest, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptonode: new AEAD: %w", err)
	}
	nonce := DeriveNonce(key, parent)
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Open decrypts ciphertext produced by Seal with the same key and parent.
func Open(key [digest.KeySize]byte, parent *digest.Digest, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptonode: new AEAD: %w", err)
	}
	nonce := DeriveNonce(key, parent)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptonode: authentication failed: %w", err)
	}
	return plaintext, nil
}

// NewKey draws a fresh random node key from the given random source length
// validated to be KeySize bytes; callers typically use crypto/rand.Reader.
func NewKey(random func([]byte) (int, error)) ([digest.KeySize]byte, error) {
	var key [digest.KeySize]byte
	n, err := random(key[:])
	if err != nil {
		return key, fmt.Errorf("cryptonode: generate key: %w", err)
	}
	if n != digest.KeySize {
		return key, fmt.Errorf("cryptonode: short read generating key: got %d bytes", n)
	}
	return key, nil
}
