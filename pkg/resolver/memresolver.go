package resolver

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

// MemResolver is an in-process reference Resolver: every record lives in a
// map guarded by a mutex, and subscribers are plain callbacks invoked
// synchronously from Publish. It is meant for tests and single-process
// demos, the same role pkg/signaling's MemBus plays for signaling.
type MemResolver struct {
	mu      sync.RWMutex
	records map[string]*record
	subs    map[string]map[uint64]func(digest.CID)
	nextSub uint64
}

// NewMemResolver creates an empty in-memory resolver.
func NewMemResolver() *MemResolver {
	return &MemResolver{
		records: make(map[string]*record),
		subs:    make(map[string]map[uint64]func(digest.CID)),
	}
}

func (m *MemResolver) Resolve(_ context.Context, identity, label string) (*digest.CID, bool, error) {
	m.mu.RLock()
	r, ok := m.records[Key(identity, label)]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	cid, err := recordCID(r)
	if err != nil {
		return nil, false, err
	}
	return &cid, true, nil
}

// Subscribe registers onValue for every future Publish on (identity, label),
// and delivers the current value immediately if one already exists: the
// callback fires on each observed value, including the first.
func (m *MemResolver) Subscribe(_ context.Context, identity, label string, onValue func(digest.CID)) (func(), error) {
	key := Key(identity, label)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[key] == nil {
		m.subs[key] = make(map[uint64]func(digest.CID))
	}
	m.subs[key][id] = onValue
	r := m.records[key]
	m.mu.Unlock()

	if r != nil {
		if cid, err := recordCID(r); err == nil {
			onValue(cid)
		}
	}

	unsubscribe := func() {
		m.mu.Lock()
		delete(m.subs[key], id)
		if len(m.subs[key]) == 0 {
			delete(m.subs, key)
		}
		m.mu.Unlock()
	}
	return unsubscribe, nil
}

// List streams every entry currently published under identity. Order is
// unspecified.
func (m *MemResolver) List(_ context.Context, identity string, onEntry func(Entry)) error {
	m.mu.RLock()
	var matched []*record
	for _, r := range m.records {
		if r.Identity == identity {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range matched {
		cid, err := recordCID(r)
		if err != nil {
			return err
		}
		onEntry(Entry{Label: r.Label, CID: cid, Visibility: r.Visibility})
	}
	return nil
}

// Publish signs and stores a new mapping. It rejects (false, nil) rather
// than erroring when the write loses to an already-stored equal-or-newer
// version, matching the Resolver contract's stale-write behavior.
func (m *MemResolver) Publish(_ context.Context, identity string, signer ed25519.PrivateKey, label string, cid digest.CID, opts PublishOptions) (bool, error) {
	pub, ok := signer.Public().(ed25519.PublicKey)
	if !ok {
		return false, fmt.Errorf("resolver: signer is not an Ed25519 key")
	}
	if err := verifyIdentity(identity, pub); err != nil {
		return false, err
	}

	key := Key(identity, label)

	m.mu.Lock()
	existing := m.records[key]
	nextVersion := uint64(1)
	if existing != nil {
		nextVersion = existing.Version + 1
	}
	r := newRecord(identity, label, cid, nextVersion, opts)
	r.Sig = ed25519.Sign(signer, r.signingBytes())

	if existing != nil && r.Version <= existing.Version {
		m.mu.Unlock()
		return false, nil
	}
	m.records[key] = r
	subs := make([]func(digest.CID), 0, len(m.subs[key]))
	for _, fn := range m.subs[key] {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(cid)
	}
	return true, nil
}

var _ Resolver = (*MemResolver)(nil)
