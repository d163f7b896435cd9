package peer

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// HTLConfig holds the two independently-drawn booleans fixed at session
// establishment that control this peer's hop-to-live decrement behavior
// at the boundary values ("peer_htl_config").
type HTLConfig struct {
	DecrementAtMax bool
	DecrementAtMin bool
}

// NewHTLConfig draws decrementAtMax and decrementAtMin independently, each
// true with its own fixed probability.
func NewHTLConfig(decrementAtMaxProb, decrementAtMinProb float64) (HTLConfig, error) {
	atMax, err := coinFlip(decrementAtMaxProb)
	if err != nil {
		return HTLConfig{}, err
	}
	atMin, err := coinFlip(decrementAtMinProb)
	if err != nil {
		return HTLConfig{}, err
	}
	return HTLConfig{DecrementAtMax: atMax, DecrementAtMin: atMin}, nil
}

func coinFlip(prob float64) (bool, error) {
	if prob <= 0 {
		return false, nil
	}
	if prob >= 1 {
		return true, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return false, fmt.Errorf("peer: drawing HTL coin: %w", err)
	}
	// A uniform draw in [0, 1) from 64 random bits.
	draw := float64(binary.BigEndian.Uint64(buf[:])) / float64(1<<64)
	return draw < prob, nil
}

// Decrement applies this peer's HTL policy to an incoming hop count h,
// given the network's fixed maxHTL, returning the HTL to use on a
// forwarded request ("Per-peer HTL decrement"): middle values
// always decrement; the two boundary values (maxHTL and 1) decrement only
// per this peer's fixed coin flips.
func (c HTLConfig) Decrement(h, maxHTL uint8) uint8 {
	if h == 0 {
		return 0
	}
	if h == maxHTL {
		if c.DecrementAtMax {
			return h - 1
		}
		return h
	}
	if h == 1 {
		if c.DecrementAtMin {
			return 0
		}
		return 1
	}
	return h - 1
}

// Forwardable reports whether h is > 0, i.e. eligible to be sent on to
// another hop.
func Forwardable(h uint8) bool {
	return h > 0
}
