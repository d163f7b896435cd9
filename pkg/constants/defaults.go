// Package constants defines cross-cutting numeric defaults and wire-level
// encodings shared across packages.
package constants

import "time"

// Max tolerated clock skew for a BaseFrame's timestamp.
const MaxClockSkew = 120 * time.Second

// Tree engine defaults (HashTree construction parameters).
const (
	// DefaultChunkSize is put_file's chunk boundary.
	DefaultChunkSize uint64 = 1 << 20 // 1 MiB
	// DefaultMaxBlockSize is the largest encoded block any store accepts.
	DefaultMaxBlockSize uint64 = 2 << 20 // 2 MiB
)

// Block-exchange defaults (peer session and coordinator timing/sizing).
const (
	// DefaultFragmentSize is the response-fragmentation threshold.
	DefaultFragmentSize = 16 * 1024 // 16 KiB

	// DefaultRequestTimeout bounds a single peer request.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultPeerQueryDelay is the inter-peer race delay in get(digest).
	DefaultPeerQueryDelay = 500 * time.Millisecond
	// DefaultWaitingForHashTimeout is the minimum waiting-for-hash budget;
	// the effective timeout is max(this, DefaultRequestTimeout*6).
	DefaultWaitingForHashTimeout = 30 * time.Second
	// DefaultFragmentStallTimeout bounds the gap between fragments.
	DefaultFragmentStallTimeout = 5 * time.Second
	// DefaultFragmentTotalTimeout bounds a whole reassembly.
	DefaultFragmentTotalTimeout = 60 * time.Second
	// DefaultHelloInterval is the coordinator's advertising cadence.
	DefaultHelloInterval = 10 * time.Second
	// DefaultConnectionTimeout evicts a session stuck in "new".
	DefaultConnectionTimeout = 15 * time.Second
	// DefaultStaleSweepInterval is the coordinator's cleanup cadence.
	DefaultStaleSweepInterval = 5 * time.Second

	// DefaultTheirRequestsCapacity bounds a session's their_requests LRU.
	DefaultTheirRequestsCapacity = 200
	// DefaultPendingReassembliesCapacity bounds a session's in-flight
	// fragment reassemblies.
	DefaultPendingReassembliesCapacity = 64

	// MaxHTL is the hop-to-live ceiling a fresh request is issued with.
	MaxHTL uint8 = 10
	// DefaultDecrementAtMaxProb and DefaultDecrementAtMinProb are the
	// per-peer randomized-decrement priors applied on each hop.
	DefaultDecrementAtMaxProb = 0.5
	DefaultDecrementAtMinProb = 0.5
)

// Protocol configuration
const (
	// Protocol version
	ProtocolVersion = 1

	// Default QUIC transport port
	DefaultQUICPort = 27487
)

// Error codes. Code 0 is reserved for ErrorFrame.
const (
	ErrorInvalidSig      = 1
	ErrorRateLimit       = 4
	ErrorVersionMismatch = 5
)

// Message kinds
const (
	KindPing = 1
	KindPong = 2
)
