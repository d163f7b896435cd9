// Package block implements the content-addressed block store:
// an in-memory map, a durable bbolt-backed map, and a façade that composes
// a local store with a remote fetcher so the tree engine can be written
// once against a single interface regardless of backend.
package block

import (
	"context"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

// Store is the digest -> bytes mapping every backend implements. All
// operations are asynchronous (take a context) to accommodate durable and
// network-backed implementations.
type Store interface {
	// Put stores bytes under d. Returns false (not an error) on a durable
	// write failure, StoreWriteFailed.
	Put(ctx context.Context, d digest.Digest, data []byte) (bool, error)

	// Get retrieves bytes for d. The bool is false on miss or on a
	// corruption that was detected and evicted.
	Get(ctx context.Context, d digest.Digest) ([]byte, bool, error)

	// Has reports whether d is present without fetching bytes.
	Has(ctx context.Context, d digest.Digest) (bool, error)

	// Delete removes d if present, reporting whether it was present.
	Delete(ctx context.Context, d digest.Digest) (bool, error)

	// Count returns the number of blocks held.
	Count(ctx context.Context) (uint64, error)

	// TotalBytes returns the sum of stored block sizes.
	TotalBytes(ctx context.Context) (uint64, error)
}
