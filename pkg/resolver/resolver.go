// Package resolver defines the pluggable name resolver the application
// layer consumes to turn (identity, label) into a root CID that changes
// over time: resolve, subscribe, list, and publish, plus an
// in-memory reference implementation.
//
// The record sign/verify pattern follows pkg/content/provider.go. Labels
// are never normalized here — requires tolerating leading/
// trailing whitespace and case as distinct labels.
package resolver

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashmesh/hashmesh/pkg/codec/cborcanon"
	"github.com/hashmesh/hashmesh/pkg/digest"
)

// Visibility controls who can discover a published mapping.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityLinkVisible Visibility = "link-visible"
)

// Key is the resolver's key shape: {identity}/{label}. Labels
// are opaque UTF-8 and must not be trimmed, cased, or otherwise altered.
func Key(identity, label string) string {
	return identity + "/" + label
}

// Entry is one resolved (label, CID) pair as returned by List.
type Entry struct {
	Label      string
	CID        digest.CID
	Visibility Visibility
}

// PublishOptions configures a Publish call.
type PublishOptions struct {
	Visibility Visibility
	// WrappedKey carries symmetric key material wrapped for a specific
	// recipient, used only when Visibility is link-visible.
	WrappedKey []byte
}

// Resolver is the external-collaborator interface the application layer
// consumes. Transport is out of scope; the tree and exchange
// layers never depend on a concrete implementation.
type Resolver interface {
	// Resolve is a one-shot lookup; it may be slow.
	Resolve(ctx context.Context, identity, label string) (*digest.CID, bool, error)

	// Subscribe delivers every observed value for (identity, label),
	// including the first, until unsubscribe is called.
	Subscribe(ctx context.Context, identity, label string, onValue func(digest.CID)) (unsubscribe func(), err error)

	// List streams every (label, CID, visibility) pair known for identity.
	List(ctx context.Context, identity string, onEntry func(Entry)) error

	// Publish stores a new mapping, signed by signer, whose public key
	// must correspond to identity. Returns false (not an error) when the
	// write was rejected, e.g. a stale version.
	Publish(ctx context.Context, identity string, signer ed25519.PrivateKey, label string, cid digest.CID, opts PublishOptions) (bool, error)
}

// record is the signed, canonically-encoded payload stored per key. The
// CID is split into its raw digest bytes and an optional key, mirroring
// pkg/codec's wire node shape, rather than embedding digest.CID directly.
type record struct {
	Identity   string                  `cbor:"identity"`
	Label      string                  `cbor:"label"`
	Target     []byte                  `cbor:"target"`
	Key        *[digest.KeySize]byte   `cbor:"key,omitempty"`
	Visibility Visibility              `cbor:"visibility"`
	WrappedKey []byte                  `cbor:"wrapped_key,omitempty"`
	Version    uint64                  `cbor:"version"`
	TS         int64                   `cbor:"ts"`
	Sig        []byte                  `cbor:"sig"`
}

func recordCID(r *record) (digest.CID, error) {
	d, err := digest.FromBytes(r.Target)
	if err != nil {
		return digest.CID{}, err
	}
	if r.Key == nil {
		return digest.FromDigest(d), nil
	}
	return digest.FromDigestAndKey(d, *r.Key), nil
}

// mustCanonical follows cborcanon.MarshalToBytes's marshal-or-panic pattern:
// a record built by this package is always a well-formed, already-validated
// in-memory value, so a marshal failure here indicates a programming error,
// not bad input.
func mustCanonical(v interface{}) []byte {
	return cborcanon.MarshalToBytes(v)
}

// Identity renders a public key as the canonical identity string callers
// pass to Resolve/Subscribe/List/Publish.
func Identity(pub ed25519.PublicKey) string {
	return encodeIdentity(pub)
}

// encodeIdentity renders a public key the same way digest.Digest.Hex does,
// so identity strings look like the rest of the codebase's content
// addresses rather than inventing a separate encoding.
func encodeIdentity(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

func (r *record) signingBytes() []byte {
	cp := *r
	cp.Sig = nil
	return mustCanonical(&cp)
}

func verifyIdentity(identity string, pub ed25519.PublicKey) error {
	if identity != encodeIdentity(pub) {
		return fmt.Errorf("resolver: signer does not match identity %q", identity)
	}
	return nil
}

func newRecord(identity, label string, cid digest.CID, version uint64, opts PublishOptions) *record {
	return &record{
		Identity:   identity,
		Label:      label,
		Target:     cid.Digest.Bytes(),
		Key:        cid.Key,
		Visibility: opts.Visibility,
		WrappedKey: opts.WrappedKey,
		Version:    version,
		TS:         time.Now().UnixMilli(),
	}
}
