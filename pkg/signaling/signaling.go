// Package signaling defines the bus the exchange coordinator uses to
// bootstrap peer connections: an envelope publish/subscribe
// interface kept deliberately opaque about its transport (relay, queue,
// or broker are all valid backings).
//
// Interface-first design follows pkg/transport.Transport; the in-memory
// Bus is test/demo scaffolding, not a production transport.
package signaling

import (
	"context"
	"time"
)

// Kind enumerates the envelope kinds the bus carries.
type Kind string

const (
	KindHello      Kind = "hello"
	KindOffer      Kind = "offer"
	KindAnswer     Kind = "answer"
	KindCandidate  Kind = "candidate"
	KindCandidates Kind = "candidates"
)

// Envelope is one message on the signaling bus. Recipient is empty for
// KindHello, which is broadcast and public; every other kind must be
// confidential end-to-end between PeerUUID and Recipient, a property the
// bus implementation is responsible for, not this package.
type Envelope struct {
	Kind      Kind
	PeerUUID  string
	Recipient string
	Payload   []byte
	TS        time.Time
}

// Bus is the signaling transport seam: publish/subscribe over out-of-band
// channels used to exchange connection offers before a direct link exists.
type Bus interface {
	// Publish sends one envelope. Publish does not block on delivery.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers onEnvelope to be called for every inbound
	// envelope. It returns an unsubscribe function.
	Subscribe(onEnvelope func(Envelope)) (unsubscribe func())
}
