package exchange

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/hashmesh/hashmesh/pkg/constants"
	"github.com/hashmesh/hashmesh/pkg/digest"
)

// Get resolves a digest: local store, then in-flight dedup, then ordered
// peer sessions raced against a per-step delay, then fallback stores,
// then the waiting-for-hash queue ("Fetching get(digest)").
func (c *Coordinator) Get(ctx context.Context, d digest.Digest) ([]byte, bool) {
	if data, ok, err := c.local.Get(ctx, d); err == nil && ok {
		return data, true
	}

	key := hex.EncodeToString(d[:])
	v, err, _ := c.pendingGets.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, d)
	})
	if err != nil {
		return nil, false
	}
	res := v.(fetchResult)
	return res.data, res.ok
}

func (c *Coordinator) fetch(ctx context.Context, d digest.Digest) (fetchResult, error) {
	tried := make(map[string]bool)

	for _, sess := range c.orderedSessions("") {
		tried[sess.ID] = true
		if data, ok := c.raceRequest(ctx, sess, d, constants.MaxHTL); ok {
			_, _ = c.local.Put(ctx, d, data)
			return fetchResult{data: data, ok: true}, nil
		}
		select {
		case <-ctx.Done():
			return fetchResult{}, nil
		default:
		}
	}

	for _, fb := range c.cfg.FallbackStores {
		if data, ok, err := fb.Get(ctx, d); err == nil && ok {
			_, _ = c.local.Put(ctx, d, data)
			return fetchResult{data: data, ok: true}, nil
		}
	}

	if c.running() && c.anyPoolUnsatisfied() {
		if data, ok := c.waitForHash(ctx, d, tried); ok {
			return fetchResult{data: data, ok: true}, nil
		}
	}

	return fetchResult{}, nil
}

// raceRequest sends one request to sess and races it against
// peer_query_delay, per the coordinator's sequential-with-delay fetch
// policy. A losing race leaves the request outstanding; the caller moves
// on to the next peer.
func (c *Coordinator) raceRequest(ctx context.Context, sess sessionRequester, d digest.Digest, htl uint8) ([]byte, bool) {
	resultCh := make(chan fetchResult, 1)
	go func() {
		data, ok, _ := sess.Request(ctx, d, htl)
		resultCh <- fetchResult{data: data, ok: ok}
	}()

	select {
	case res := <-resultCh:
		return res.data, res.ok
	case <-time.After(c.cfg.PeerQueryDelay):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// sessionRequester is the subset of *peer.Session the fetch/forward loops
// need, kept narrow so tests can substitute a fake.
type sessionRequester interface {
	Request(ctx context.Context, d digest.Digest, htl uint8) ([]byte, bool, error)
}

func (c *Coordinator) running() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

func (c *Coordinator) waitForHashTimeout() time.Duration {
	budget := constants.DefaultRequestTimeout * 6
	if budget < constants.DefaultWaitingForHashTimeout {
		return constants.DefaultWaitingForHashTimeout
	}
	return budget
}

// waitForHash enqueues d into the waiting-for-hash table and blocks until
// either a later Put resolves it, the budget expires, or ctx is cancelled
// ("Cancellation": the entry is removed and the future resolves absent).
// Sessions admitted while the entry waits are not asked for d.
func (c *Coordinator) waitForHash(ctx context.Context, d digest.Digest, tried map[string]bool) ([]byte, bool) {
	entry := &waitingEntry{tried: tried, done: make(chan fetchResult, 1)}

	c.waitingMu.Lock()
	c.waiting[d] = entry
	c.waitingMu.Unlock()

	defer func() {
		c.waitingMu.Lock()
		if cur, ok := c.waiting[d]; ok && cur == entry {
			delete(c.waiting, d)
		}
		c.waitingMu.Unlock()
	}()

	select {
	case res := <-entry.done:
		return res.data, res.ok
	case <-time.After(c.waitForHashTimeout()):
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-c.ctx.Done():
		return nil, false
	}
}

// Forward is called by a peer session that cannot fulfill a request
// locally: it walks the coordinator's other connected peers (follows
// first), sequentially with the same inter-peer delay, at the given
// already-decremented HTL ("Forwarding").
func (c *Coordinator) Forward(ctx context.Context, hash digest.Digest, excludePeerID string, htl uint8) ([]byte, bool) {
	for _, sess := range c.orderedSessions(excludePeerID) {
		if data, ok := c.raceRequest(ctx, sess, hash, htl); ok {
			return data, true
		}
	}
	return nil, false
}

// Put writes through to the local store, resolves any waiting-for-hash
// entry for digest, and pushes the new bytes to any peer whose
// their_requests contains it ("Interest push").
func (c *Coordinator) Put(ctx context.Context, d digest.Digest, data []byte) (bool, error) {
	ok, err := c.local.Put(ctx, d, data)
	if err != nil {
		return false, newStoreWriteFailed(err)
	}
	if !ok {
		return false, nil
	}

	c.waitingMu.Lock()
	if entry, exists := c.waiting[d]; exists {
		entry.done <- fetchResult{data: data, ok: true}
		delete(c.waiting, d)
	}
	c.waitingMu.Unlock()

	c.mu.RLock()
	sessions := make([]*managedSession, 0, len(c.sessions))
	for _, ms := range c.sessions {
		sessions = append(sessions, ms)
	}
	c.mu.RUnlock()

	for _, ms := range sessions {
		ms.session.PushInterest(ctx, d, data)
	}

	return true, nil
}
