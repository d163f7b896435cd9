package peer

import (
	"time"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

// reassemblyState tracks one in-flight fragmented response (// "pending_reassemblies"): a fragment map, the expected total, and the
// first/last fragment timestamps used to enforce the stall and total
// timeouts.
type reassemblyState struct {
	fragments map[uint32][]byte
	total     uint32
	first     time.Time
	last      time.Time
}

func (s *Session) reassemblyInProgress(d digest.Digest) bool {
	s.reassemblyMu.Lock()
	defer s.reassemblyMu.Unlock()
	_, ok := s.reassembly.Get(d)
	return ok
}

// addFragment folds one fragment into the reassembly for d, returning the
// complete, ordered payload once every fragment 0..total-1 has arrived.
func (s *Session) addFragment(d digest.Digest, index, total uint32, data []byte) ([]byte, bool) {
	s.reassemblyMu.Lock()
	defer s.reassemblyMu.Unlock()

	st, ok := s.reassembly.Get(d)
	now := time.Now()
	if !ok {
		st = &reassemblyState{
			fragments: make(map[uint32][]byte, total),
			total:     total,
			first:     now,
		}
		s.reassembly.Add(d, st)
	}
	st.fragments[index] = data
	st.last = now

	if uint32(len(st.fragments)) < st.total {
		return nil, false
	}

	out := make([]byte, 0, len(st.fragments)*len(data))
	for i := uint32(0); i < st.total; i++ {
		frag, present := st.fragments[i]
		if !present {
			return nil, false
		}
		out = append(out, frag...)
	}
	s.reassembly.Remove(d)
	return out, true
}

// sweepStaleReassemblies drops reassemblies that have stalled or exceeded
// their total budget, accounting the fragment-timeout stat and abandoning
// the matching our_requests entry ("Timeout").
func (s *Session) sweepStaleReassemblies() {
	now := time.Now()

	s.reassemblyMu.Lock()
	var stale []digest.Digest
	for _, d := range s.reassembly.Keys() {
		st, ok := s.reassembly.Peek(d)
		if !ok {
			continue
		}
		if now.Sub(st.last) > s.cfg.FragmentStallTimeout || now.Sub(st.first) > s.cfg.FragmentTotalTimeout {
			stale = append(stale, d)
		}
	}
	for _, d := range stale {
		s.reassembly.Remove(d)
	}
	s.reassemblyMu.Unlock()

	for _, d := range stale {
		s.stats.incFragmentTimeouts()
		s.mu.Lock()
		pr, exists := s.ourRequests[d]
		if exists {
			delete(s.ourRequests, d)
		}
		s.mu.Unlock()
		if exists {
			pr.resolve(nil, false)
		}
	}
}
