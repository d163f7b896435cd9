// Package exchange implements the block-exchange coordinator: the set of
// peer sessions partitioned into admission pools, the
// sequential-with-delay fetch algorithm, request forwarding, interest
// push, the waiting-for-hash queue, and periodic stale-session cleanup.
//
// The periodic ticker loops driving hello advertising and the
// stale-session sweep, and the fetch loop's sequential-with-timeout
// pattern, follow pkg/content/fetcher.go's shape.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hashmesh/hashmesh/pkg/block"
	"github.com/hashmesh/hashmesh/pkg/constants"
	"github.com/hashmesh/hashmesh/pkg/digest"
	"github.com/hashmesh/hashmesh/pkg/peer"
)

// PoolName identifies one of the coordinator's two admission pools:
// "follows" and "other".
type PoolName string

const (
	PoolFollows PoolName = "follows"
	PoolOther   PoolName = "other"
)

// Pool holds one pool's admission configuration and live membership.
type Pool struct {
	MaxConnections        int
	SatisfiedConnections  int
	members               map[string]*peer.Session
}

// Classifier maps a peer identity to the pool it should be admitted into.
type Classifier func(peerID string) PoolName

// Config configures a Coordinator.
type Config struct {
	Classifier       Classifier
	PeerQueryDelay   time.Duration
	HelloInterval    time.Duration
	ConnectionTimeout time.Duration
	StaleSweepInterval time.Duration
	FallbackStores   []block.Store
}

// DefaultConfig fills in sensible defaults, leaving Classifier nil
// (the caller must supply one — there is no sensible universal default).
func DefaultConfig() Config {
	return Config{
		PeerQueryDelay:     constants.DefaultPeerQueryDelay,
		HelloInterval:      constants.DefaultHelloInterval,
		ConnectionTimeout:  constants.DefaultConnectionTimeout,
		StaleSweepInterval: constants.DefaultStaleSweepInterval,
	}
}

// sessionState is the lifecycle state of one admitted session, used by
// the stale-sweep ("Stale cleanup").
type sessionState int

const (
	stateNew sessionState = iota
	stateActive
	stateFailed
	stateClosed
	stateDisconnected
)

type managedSession struct {
	session   *peer.Session
	pool      PoolName
	state     sessionState
	admitted  time.Time
}

// Coordinator owns every peer session for one local identity and
// implements fetch, forward, interest push, and admission.
type Coordinator struct {
	cfg Config

	mu       sync.RWMutex
	pools    map[PoolName]*Pool
	sessions map[string]*managedSession

	pendingGets singleflight.Group

	waitingMu sync.Mutex
	waiting   map[digest.Digest]*waitingEntry

	local block.Store

	signaling Publisher

	ctx    context.Context
	cancel context.CancelFunc
}

// Publisher is the narrow signaling-bus seam the coordinator uses to
// advertise hello envelopes. A full SignalingBus satisfies
// this trivially; tests can supply a no-op.
type Publisher interface {
	Publish(ctx context.Context, envelope HelloEnvelope) error
}

// HelloEnvelope is the advertising payload the coordinator emits while any
// pool is unsatisfied ("Advertising").
type HelloEnvelope struct {
	ConnectionUUID string
	PoolsWanted    []PoolName
	TS             time.Time
}

type waitingEntry struct {
	tried map[string]bool
	done  chan fetchResult
}

type fetchResult struct {
	data []byte
	ok   bool
}

// New builds a Coordinator. local is consulted first on every fetch and
// written through on every successful remote fetch.
func New(local block.Store, signaling Publisher, cfg Config) (*Coordinator, error) {
	if local == nil {
		return nil, fmt.Errorf("exchange: local store is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("exchange: classifier is required")
	}
	if cfg.PeerQueryDelay <= 0 {
		cfg.PeerQueryDelay = constants.DefaultPeerQueryDelay
	}
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = constants.DefaultHelloInterval
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = constants.DefaultConnectionTimeout
	}
	if cfg.StaleSweepInterval <= 0 {
		cfg.StaleSweepInterval = constants.DefaultStaleSweepInterval
	}

	c := &Coordinator{
		cfg: cfg,
		pools: map[PoolName]*Pool{
			PoolFollows: {members: make(map[string]*peer.Session)},
			PoolOther:   {members: make(map[string]*peer.Session)},
		},
		sessions:  make(map[string]*managedSession),
		waiting:   make(map[digest.Digest]*waitingEntry),
		local:     local,
		signaling: signaling,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	return c, nil
}

// SetPoolLimits configures a pool's admission cap and the connection
// count below which the coordinator actively advertises.
func (c *Coordinator) SetPoolLimits(name PoolName, maxConnections, satisfiedConnections int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pools[name]
	p.MaxConnections = maxConnections
	p.SatisfiedConnections = satisfiedConnections
}

// Start launches the coordinator's background loops: hello advertising and
// stale-session sweep.
func (c *Coordinator) Start(helloUUID string) {
	go c.helloLoop(helloUUID)
	go c.staleSweepLoop()
}

// Stop tears down the coordinator's background loops and closes every
// admitted session.
func (c *Coordinator) Stop() {
	c.cancel()

	c.mu.Lock()
	for _, ms := range c.sessions {
		ms.session.Close()
	}
	c.mu.Unlock()
}

// Admit attempts to add a new peer session, rejecting it if its pool is
// already at max_connections ("AdmissionRejected"). A pool whose
// MaxConnections is zero has no cap and admits every session.
func (c *Coordinator) Admit(s *peer.Session) error {
	pool := c.cfg.Classifier(s.ID)

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[pool]
	if !ok {
		return fmt.Errorf("exchange: unknown pool %q", pool)
	}
	if p.MaxConnections > 0 && len(p.members) >= p.MaxConnections {
		return newAdmissionRejected(pool, c.cfg.ConnectionTimeout)
	}

	p.members[s.ID] = s
	c.sessions[s.ID] = &managedSession{session: s, pool: pool, state: stateNew, admitted: time.Now()}
	return nil
}

// Reclassify moves an existing session to a new pool without dropping its
// connection; it counts toward the new pool's capacity from then on.
func (c *Coordinator) Reclassify(peerID string, pool PoolName) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms, ok := c.sessions[peerID]
	if !ok {
		return fmt.Errorf("exchange: unknown session %q", peerID)
	}
	delete(c.pools[ms.pool].members, peerID)
	ms.pool = pool
	c.pools[pool].members[peerID] = ms.session
	return nil
}

// SessionCount returns the number of sessions currently admitted, across
// both pools.
func (c *Coordinator) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// PeerInfo summarizes one admitted session for introspection callers
// (e.g. the control API's "peers" operation).
type PeerInfo struct {
	ID    string
	Pool  PoolName
	State string
}

func (st sessionState) String() string {
	switch st {
	case stateNew:
		return "new"
	case stateActive:
		return "active"
	case stateFailed:
		return "failed"
	case stateClosed:
		return "closed"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Peers returns a snapshot of every currently admitted session.
func (c *Coordinator) Peers() []PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerInfo, 0, len(c.sessions))
	for id, ms := range c.sessions {
		out = append(out, PeerInfo{ID: id, Pool: ms.pool, State: ms.state.String()})
	}
	return out
}

// MarkActive transitions a session out of the "new" state once its
// handshake completes.
func (c *Coordinator) MarkActive(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms, ok := c.sessions[peerID]; ok {
		ms.state = stateActive
	}
}

// MarkFailed, MarkClosed and MarkDisconnected transition a session into a
// terminal lifecycle state.
func (c *Coordinator) MarkFailed(peerID string)       { c.setState(peerID, stateFailed) }
func (c *Coordinator) MarkClosed(peerID string)       { c.setState(peerID, stateClosed) }
func (c *Coordinator) MarkDisconnected(peerID string) { c.setState(peerID, stateDisconnected) }

func (c *Coordinator) setState(peerID string, st sessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms, ok := c.sessions[peerID]; ok {
		ms.state = st
	}
}

// orderedSessions returns connected sessions, follows pool first, ordered
// deterministically within a pool by peer ID (intra-pool order is
// otherwise unspecified; deterministic ordering keeps tests reproducible).
func (c *Coordinator) orderedSessions(excludeID string) []*peer.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*peer.Session
	for _, pool := range []PoolName{PoolFollows, PoolOther} {
		ids := make([]string, 0, len(c.pools[pool].members))
		for id := range c.pools[pool].members {
			if id == excludeID {
				continue
			}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, c.pools[pool].members[id])
		}
	}
	return out
}

func (c *Coordinator) anyPoolUnsatisfied() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pools {
		if p.SatisfiedConnections > 0 && len(p.members) < p.SatisfiedConnections {
			return true
		}
	}
	return false
}
