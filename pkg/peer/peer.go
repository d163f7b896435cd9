// Package peer implements one peer session: the request/response state
// machine that owns a single reliable channel to one remote peer. A
// session tracks its own outstanding requests, the digests the
// remote peer asked for that it could not fulfill, a randomized per-peer
// HTL decrement policy, and in-flight fragment reassembly.
//
// Lifecycle shape (mutex + context/cancel + done channel) follows
// pkg/exchange.Coordinator's Start/Stop pattern; the per-request
// channel/semaphore pattern follows pkg/content/fetcher.go.
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hashmesh/hashmesh/pkg/block"
	"github.com/hashmesh/hashmesh/pkg/constants"
	"github.com/hashmesh/hashmesh/pkg/digest"
	"github.com/hashmesh/hashmesh/pkg/wire"
)

// Sender is the minimal transport seam a session sends raw frames through.
// One Sender per session; it speaks for the single channel to the remote
// peer.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Forwarder is the coordinator seam a session calls into when it cannot
// fulfill a request locally and the request's HTL still permits a hop.
type Forwarder interface {
	Forward(ctx context.Context, hash digest.Digest, excludePeerID string, htl uint8) ([]byte, bool)
}

// Config holds per-session tunables, all with sensible defaults.
type Config struct {
	RequestTimeout             time.Duration
	FragmentSize               int
	FragmentStallTimeout       time.Duration
	FragmentTotalTimeout       time.Duration
	TheirRequestsCapacity      int
	PendingReassembliesCapacity int
	MaxHTL                     uint8
	DecrementAtMaxProb         float64
	DecrementAtMinProb         float64
}

// DefaultConfig returns the peer session's timeout and sizing defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:              constants.DefaultRequestTimeout,
		FragmentSize:                constants.DefaultFragmentSize,
		FragmentStallTimeout:        constants.DefaultFragmentStallTimeout,
		FragmentTotalTimeout:        constants.DefaultFragmentTotalTimeout,
		TheirRequestsCapacity:       constants.DefaultTheirRequestsCapacity,
		PendingReassembliesCapacity: constants.DefaultPendingReassembliesCapacity,
		MaxHTL:                      constants.MaxHTL,
		DecrementAtMaxProb:          constants.DefaultDecrementAtMaxProb,
		DecrementAtMinProb:          constants.DefaultDecrementAtMinProb,
	}
}

// Session is one peer's request/response state machine.
type Session struct {
	ID        string
	cfg       Config
	sender    Sender
	store     block.Store
	forwarder Forwarder
	htl       HTLConfig

	mu          sync.Mutex
	ourRequests map[digest.Digest]*pendingRequest

	theirMu sync.Mutex
	their   *lru.Cache[digest.Digest, struct{}]

	reassemblyMu sync.Mutex
	reassembly   *lru.Cache[digest.Digest, *reassemblyState]

	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a session for one remote peer. sender delivers outbound
// bytes; store is consulted before any forward is attempted; forwarder is
// the coordinator's forward seam (may be nil in tests that never forward).
func New(id string, sender Sender, store block.Store, forwarder Forwarder, cfg Config) (*Session, error) {
	if sender == nil {
		return nil, fmt.Errorf("peer: sender is required")
	}
	if store == nil {
		return nil, fmt.Errorf("peer: store is required")
	}

	their, err := lru.New[digest.Digest, struct{}](cfg.TheirRequestsCapacity)
	if err != nil {
		return nil, fmt.Errorf("peer: their_requests LRU: %w", err)
	}
	reassembly, err := lru.New[digest.Digest, *reassemblyState](cfg.PendingReassembliesCapacity)
	if err != nil {
		return nil, fmt.Errorf("peer: pending_reassemblies LRU: %w", err)
	}

	htlConfig, err := NewHTLConfig(cfg.DecrementAtMaxProb, cfg.DecrementAtMinProb)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:          id,
		cfg:         cfg,
		sender:      sender,
		store:       store,
		forwarder:   forwarder,
		htl:         htlConfig,
		ourRequests: make(map[digest.Digest]*pendingRequest),
		their:       their,
		reassembly:  reassembly,
		done:        make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.sweepLoop()

	return s, nil
}

// Close tears the session down: outstanding our_requests resolve absent,
// their_requests is dropped, and the sweep loop stops (// "Cancellation").
func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	for d, pr := range s.ourRequests {
		pr.resolve(nil, false)
		delete(s.ourRequests, d)
	}
	s.mu.Unlock()

	s.theirMu.Lock()
	s.their.Purge()
	s.theirMu.Unlock()

	s.reassemblyMu.Lock()
	s.reassembly.Purge()
	s.reassemblyMu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Stats returns a snapshot of this session's counters.
func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

func (s *Session) sweepLoop() {
	interval := s.cfg.FragmentStallTimeout
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleReassemblies()
		}
	}
}
