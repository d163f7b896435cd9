package block

import (
	"context"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

// Remote is the narrow interface the block-exchange façade needs from the
// exchange coordinator: fetch a digest across peers (with its own
// fallback-store chain and waiting-for-hash queue), and learn
// about newly-written local blocks so interest push ("Interest
// push") can fire. Declared here, not in pkg/exchange, so pkg/block never
// imports pkg/exchange — pkg/exchange depends on pkg/block, not the
// reverse.
type Remote interface {
	Get(ctx context.Context, d digest.Digest) ([]byte, bool, error)
	NotifyLocalPut(ctx context.Context, d digest.Digest, data []byte)
}

// Facade implements Store by combining a local store with a Remote
// fetcher, letting the tree engine be written once against the Store
// interface regardless of whether blocks come from disk or from peers
// ("Block-exchange façade").
type Facade struct {
	local  Store
	remote Remote
}

// NewFacade builds a façade over local and remote.
func NewFacade(local Store, remote Remote) *Facade {
	return &Facade{local: local, remote: remote}
}

// Put writes to the local store and, on success, lets the remote side
// know in case a peer is waiting for this digest.
func (f *Facade) Put(ctx context.Context, d digest.Digest, data []byte) (bool, error) {
	ok, err := f.local.Put(ctx, d, data)
	if err != nil || !ok {
		return ok, err
	}
	if f.remote != nil {
		f.remote.NotifyLocalPut(ctx, d, data)
	}
	return true, nil
}

// Get checks the local store first, then falls through to the remote side.
func (f *Facade) Get(ctx context.Context, d digest.Digest) ([]byte, bool, error) {
	data, ok, err := f.local.Get(ctx, d)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return data, true, nil
	}
	if f.remote == nil {
		return nil, false, nil
	}

	data, ok, err = f.remote.Get(ctx, d)
	if err != nil || !ok {
		return nil, false, err
	}

	// Write through so subsequent local gets (and peers who ask us) are
	// served without going back to the network.
	if _, werr := f.local.Put(ctx, d, data); werr != nil {
		return data, true, nil
	}
	return data, true, nil
}

// Has checks the local store only; presence on a remote peer is not
// observable without a full fetch.
func (f *Facade) Has(ctx context.Context, d digest.Digest) (bool, error) {
	return f.local.Has(ctx, d)
}

// Delete removes d from the local store only.
func (f *Facade) Delete(ctx context.Context, d digest.Digest) (bool, error) {
	return f.local.Delete(ctx, d)
}

// Count reports the local store's block count.
func (f *Facade) Count(ctx context.Context) (uint64, error) {
	return f.local.Count(ctx)
}

// TotalBytes reports the local store's total size.
func (f *Facade) TotalBytes(ctx context.Context) (uint64, error) {
	return f.local.TotalBytes(ctx)
}
