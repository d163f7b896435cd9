package peer

import (
	"context"
	"sync"
	"time"

	"github.com/hashmesh/hashmesh/pkg/digest"
	"github.com/hashmesh/hashmesh/pkg/wire"
)

// pendingRequest is one in-flight our_requests entry. done closes exactly
// once, after result/ok are written, so every waiter sharing this
// completion observes a consistent value ("a second request(d)
// while d is outstanding returns a shared completion").
type pendingRequest struct {
	once   sync.Once
	done   chan struct{}
	result []byte
	ok     bool
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

func (pr *pendingRequest) resolve(data []byte, ok bool) {
	pr.once.Do(func() {
		pr.result = data
		pr.ok = ok
		close(pr.done)
	})
}

// Request asks this peer for hash with the given HTL, joining an existing
// in-flight request for the same digest if one exists. It returns the
// bytes and true on success, or (nil, false) on timeout — a timeout is not
// an error ("Timeout": resolve as absent, do not raise to caller).
func (s *Session) Request(ctx context.Context, d digest.Digest, htl uint8) ([]byte, bool, error) {
	s.mu.Lock()
	if pr, exists := s.ourRequests[d]; exists {
		s.mu.Unlock()
		return waitPending(ctx, pr)
	}
	pr := newPendingRequest()
	s.ourRequests[d] = pr
	s.mu.Unlock()

	frame := wire.EncodeRequest(d, htl)
	if err := s.sender.Send(ctx, frame); err != nil {
		s.abandon(d, pr)
		return nil, false, err
	}
	s.stats.incSentRequests()

	return s.awaitRequest(ctx, d, pr)
}

func waitPending(ctx context.Context, pr *pendingRequest) ([]byte, bool, error) {
	select {
	case <-pr.done:
		return pr.result, pr.ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Session) awaitRequest(ctx context.Context, d digest.Digest, pr *pendingRequest) ([]byte, bool, error) {
	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	for {
		select {
		case <-pr.done:
			return pr.result, pr.ok, nil
		case <-ctx.Done():
			s.abandon(d, pr)
			return nil, false, ctx.Err()
		case <-s.ctx.Done():
			s.abandon(d, pr)
			return nil, false, nil
		case <-timer.C:
			if s.reassemblyInProgress(d) {
				timer.Reset(s.cfg.FragmentStallTimeout)
				continue
			}
			s.abandon(d, pr)
			return nil, false, nil
		}
	}
}

// abandon drops a timed-out or cancelled request's bookkeeping, resolving
// any joined waiters absent.
func (s *Session) abandon(d digest.Digest, pr *pendingRequest) {
	s.mu.Lock()
	if cur, exists := s.ourRequests[d]; exists && cur == pr {
		delete(s.ourRequests, d)
	}
	s.mu.Unlock()
	pr.resolve(nil, false)

	s.reassemblyMu.Lock()
	s.reassembly.Remove(d)
	s.reassemblyMu.Unlock()
}

// resolveOurRequest is called once a verified response for d is in hand.
func (s *Session) resolveOurRequest(d digest.Digest, data []byte) {
	s.mu.Lock()
	pr, exists := s.ourRequests[d]
	if exists {
		delete(s.ourRequests, d)
	}
	s.mu.Unlock()

	if exists {
		pr.resolve(data, true)
	}
}

// recordTheirRequest notes that the remote peer asked for d and we could
// not fulfill it, so we can push it back later ("their_requests").
func (s *Session) recordTheirRequest(d digest.Digest) {
	s.theirMu.Lock()
	s.their.Add(d, struct{}{})
	s.theirMu.Unlock()
}

func (s *Session) forgetTheirRequest(d digest.Digest) {
	s.theirMu.Lock()
	s.their.Remove(d)
	s.theirMu.Unlock()
}

// InterestedIn reports whether the remote peer is known to be waiting on
// d, for the coordinator's interest-push logic.
func (s *Session) InterestedIn(d digest.Digest) bool {
	s.theirMu.Lock()
	defer s.theirMu.Unlock()
	return s.their.Contains(d)
}

// PushInterest sends the now-available bytes for d to this peer if it had
// previously asked and we could not fulfill it, removing the bookkeeping
// entry either way once sent ("Interest push").
func (s *Session) PushInterest(ctx context.Context, d digest.Digest, data []byte) bool {
	if !s.InterestedIn(d) {
		return false
	}
	s.sendResponse(ctx, d, data)
	s.forgetTheirRequest(d)
	s.stats.incInterestPushesSent()
	return true
}
