// Package node wires one running instance together: a local identity, a
// block store, the HashTree engine over it, the exchange coordinator that
// fetches and forwards blocks across peer sessions, and a name resolver.
// Lifecycle shape (mutex-guarded state, context/cancel, done channel)
// follows pkg/exchange.Coordinator's Start/Stop pattern.
package node

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/hashmesh/hashmesh/pkg/block"
	"github.com/hashmesh/hashmesh/pkg/exchange"
	"github.com/hashmesh/hashmesh/pkg/identity"
	"github.com/hashmesh/hashmesh/pkg/peer"
	"github.com/hashmesh/hashmesh/pkg/resolver"
	"github.com/hashmesh/hashmesh/pkg/transport"
	"github.com/hashmesh/hashmesh/pkg/tree"
)

// State is the node's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds the construction-time parameters of a Node.
type Config struct {
	Identity   *identity.Identity
	Store      block.Store
	Transport  transport.Transport
	ListenAddr string
	TLSConfig  *tls.Config
	// SwarmID scopes the hello/verify handshake run before a peer session
	// is admitted: a session is only accepted when both sides agree on it.
	SwarmID    string
	TreeConfig tree.Config
	Exchange   exchange.Config
	Resolver   resolver.Resolver
	PeerConfig peer.Config
}

// DefaultSwarmID is the swarm every node joins when Config.SwarmID is left
// empty.
const DefaultSwarmID = "hashmesh"

// DefaultConfig returns sensible defaults for every tunable left zero.
func DefaultConfig() Config {
	return Config{
		Store:      block.NewMemStore(),
		SwarmID:    DefaultSwarmID,
		TreeConfig: tree.DefaultConfig(),
		Resolver:   resolver.NewMemResolver(),
		PeerConfig: peer.DefaultConfig(),
	}
}

// Node is one running instance: identity plus the storage, tree, exchange,
// and resolver stack built on top of it.
type Node struct {
	mu    sync.RWMutex
	state State

	identity *identity.Identity
	store    block.Store
	tree     *tree.HashTree
	coord    *exchange.Coordinator
	resolver resolver.Resolver

	transport  transport.Transport
	listenAddr string
	tlsConfig  *tls.Config
	swarmID    string
	peerCfg    peer.Config
	listener   transport.Listener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Node. Store, Exchange, Resolver, and PeerConfig default
// to DefaultConfig()'s values when left zero.
func New(cfg Config) (*Node, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("node: identity is required")
	}
	store := cfg.Store
	if store == nil {
		store = block.NewMemStore()
	}
	rslv := cfg.Resolver
	if rslv == nil {
		rslv = resolver.NewMemResolver()
	}
	peerCfg := cfg.PeerConfig
	if peerCfg == (peer.Config{}) {
		peerCfg = peer.DefaultConfig()
	}
	swarmID := cfg.SwarmID
	if swarmID == "" {
		swarmID = DefaultSwarmID
	}

	exCfg := cfg.Exchange
	if exCfg.Classifier == nil {
		exCfg.Classifier = func(string) exchange.PoolName { return exchange.PoolOther }
	}

	coord, err := exchange.New(store, nil, exCfg)
	if err != nil {
		return nil, fmt.Errorf("node: failed to build coordinator: %w", err)
	}

	return &Node{
		state:      StateStopped,
		identity:   cfg.Identity,
		store:      store,
		tree:       tree.New(store, cfg.TreeConfig),
		coord:      coord,
		resolver:   rslv,
		transport:  cfg.Transport,
		listenAddr: cfg.ListenAddr,
		tlsConfig:  cfg.TLSConfig,
		swarmID:    swarmID,
		peerCfg:    peerCfg,
		done:       make(chan struct{}),
	}, nil
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Identity returns the node's identity.
func (n *Node) Identity() *identity.Identity { return n.identity }

// BID returns the node's canonical peer identifier.
func (n *Node) BID() string { return n.identity.BID() }

// Tree returns the HashTree engine built over this node's store.
func (n *Node) Tree() *tree.HashTree { return n.tree }

// Coordinator returns the exchange coordinator.
func (n *Node) Coordinator() *exchange.Coordinator { return n.coord }

// Resolver returns the name resolver.
func (n *Node) Resolver() resolver.Resolver { return n.resolver }

// Start brings the node up: the exchange coordinator's background loops
// start, and if a transport was configured, an accept loop begins admitting
// inbound peer sessions.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.state == StateRunning || n.state == StateStarting {
		n.mu.Unlock()
		return fmt.Errorf("node: already %s", n.state)
	}
	n.state = StateStarting
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	n.mu.Unlock()

	n.coord.Start(n.identity.BID())

	if n.transport != nil && n.listenAddr != "" {
		listener, err := n.transport.Listen(n.ctx, n.listenAddr, n.tlsConfig)
		if err != nil {
			n.cancel()
			n.setState(StateStopped)
			return fmt.Errorf("node: failed to listen: %w", err)
		}
		n.mu.Lock()
		n.listener = listener
		n.mu.Unlock()
		go n.acceptLoop(listener)
	}

	go n.run()
	n.setState(StateRunning)
	return nil
}

// Stop tears the node down: the listener and coordinator stop, and Stop
// waits (bounded by ctx) for the background loop to exit.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.state == StateStopped || n.state == StateStopping {
		n.mu.Unlock()
		return fmt.Errorf("node: already %s", n.state)
	}
	n.state = StateStopping
	listener := n.listener
	cancel := n.cancel
	n.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	n.coord.Stop()
	if cancel != nil {
		cancel()
	}

	select {
	case <-n.done:
	case <-ctx.Done():
		return fmt.Errorf("node: timeout waiting for shutdown")
	case <-time.After(2 * time.Second):
	}

	n.setState(StateStopped)
	return nil
}

// Connect dials addr, runs the initiator side of the hello/verify handshake,
// and admits the resulting session into whichever pool the coordinator's
// Classifier assigns it to.
func (n *Node) Connect(ctx context.Context, addr string) (*peer.Session, error) {
	if n.transport == nil {
		return nil, fmt.Errorf("node: no transport configured")
	}
	conn, err := n.transport.Dial(ctx, addr, n.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("node: dial %s: %w", addr, err)
	}
	sess, err := n.connectOutboundConn(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

func (n *Node) acceptLoop(listener transport.Listener) {
	for {
		conn, err := listener.Accept(n.ctx)
		if err != nil {
			return
		}
		if _, err := n.admitInboundConn(conn); err != nil {
			conn.Close()
		}
	}
}

func (n *Node) run() {
	defer close(n.done)
	<-n.ctx.Done()
}
