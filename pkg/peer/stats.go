package peer

import "sync"

// Stats holds the per-peer counters requires: sent/received
// requests and responses, receive errors, fragment counts, reassembly
// completions, fragment timeouts.
type Stats struct {
	mu sync.Mutex

	SentRequests           uint64
	ReceivedRequests       uint64
	SentResponses          uint64
	ReceivedResponses      uint64
	ReceiveErrors          uint64
	FragmentsSent          uint64
	FragmentsReceived      uint64
	ReassemblyCompletions  uint64
	FragmentTimeouts       uint64
	InterestPushesSent     uint64
}

func (s *Stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SentRequests:          s.SentRequests,
		ReceivedRequests:      s.ReceivedRequests,
		SentResponses:         s.SentResponses,
		ReceivedResponses:     s.ReceivedResponses,
		ReceiveErrors:         s.ReceiveErrors,
		FragmentsSent:         s.FragmentsSent,
		FragmentsReceived:     s.FragmentsReceived,
		ReassemblyCompletions: s.ReassemblyCompletions,
		FragmentTimeouts:      s.FragmentTimeouts,
		InterestPushesSent:    s.InterestPushesSent,
	}
}

func (s *Stats) incSentRequests()          { s.mu.Lock(); s.SentRequests++; s.mu.Unlock() }
func (s *Stats) incReceivedRequests()      { s.mu.Lock(); s.ReceivedRequests++; s.mu.Unlock() }
func (s *Stats) incSentResponses()         { s.mu.Lock(); s.SentResponses++; s.mu.Unlock() }
func (s *Stats) incReceivedResponses()     { s.mu.Lock(); s.ReceivedResponses++; s.mu.Unlock() }
func (s *Stats) incReceiveErrors()         { s.mu.Lock(); s.ReceiveErrors++; s.mu.Unlock() }
func (s *Stats) incFragmentsSent()         { s.mu.Lock(); s.FragmentsSent++; s.mu.Unlock() }
func (s *Stats) incFragmentsReceived()     { s.mu.Lock(); s.FragmentsReceived++; s.mu.Unlock() }
func (s *Stats) incReassemblyCompletions() { s.mu.Lock(); s.ReassemblyCompletions++; s.mu.Unlock() }
func (s *Stats) incFragmentTimeouts()      { s.mu.Lock(); s.FragmentTimeouts++; s.mu.Unlock() }
func (s *Stats) incInterestPushesSent()    { s.mu.Lock(); s.InterestPushesSent++; s.mu.Unlock() }
