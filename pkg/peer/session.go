package peer

import (
	"context"
	"fmt"

	"github.com/hashmesh/hashmesh/pkg/digest"
	"github.com/hashmesh/hashmesh/pkg/wire"
)

// HandleFrame dispatches one inbound datagram from this peer: a request
// drives the fulfillment pipeline, a response feeds reassembly and
// resolves the matching our_requests entry.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	tag, req, resp, err := wire.DecodeFrame(data)
	if err != nil {
		s.stats.incReceiveErrors()
		return fmt.Errorf("peer: %w", err)
	}

	switch tag {
	case wire.TagRequest:
		d, err := wire.HashDigest(req.Hash)
		if err != nil {
			s.stats.incReceiveErrors()
			return fmt.Errorf("peer: malformed request hash: %w", err)
		}
		s.stats.incReceivedRequests()
		s.handleRequest(ctx, d, req.HTL)
		return nil
	case wire.TagResponse:
		s.stats.incReceivedResponses()
		s.handleResponse(ctx, resp)
		return nil
	default:
		return fmt.Errorf("peer: unhandled frame tag %v", tag)
	}
}

// handleRequest runs the fulfillment pipeline: serve locally,
// else forward if HTL permits, else stay silent. A peer never sends a
// negative response — absence is observed only via the requester's
// timeout ("No-amplification").
func (s *Session) handleRequest(ctx context.Context, d digest.Digest, htl uint8) {
	if data, ok, err := s.store.Get(ctx, d); err == nil && ok {
		s.sendResponse(ctx, d, data)
		return
	}

	if htl == 0 {
		return
	}

	s.recordTheirRequest(d)

	decremented := s.htl.Decrement(htl, s.cfg.MaxHTL)
	if !Forwardable(decremented) || s.forwarder == nil {
		return
	}

	data, ok := s.forwarder.Forward(ctx, d, s.ID, decremented)
	if !ok {
		return
	}
	s.sendResponse(ctx, d, data)
	s.forgetTheirRequest(d)
}

// handleResponse verifies and, if needed, reassembles an inbound response,
// then resolves the matching our_requests entry ("On receiving a
// response").
func (s *Session) handleResponse(ctx context.Context, resp *wire.ResponseBody) {
	d, err := wire.HashDigest(resp.Hash)
	if err != nil {
		s.stats.incReceiveErrors()
		return
	}

	var payload []byte
	if resp.IsFragmented() {
		s.stats.incFragmentsReceived()
		complete, ok := s.addFragment(d, *resp.FragmentIndex, *resp.FragmentTotal, resp.Data)
		if !ok {
			return
		}
		s.stats.incReassemblyCompletions()
		payload = complete
	} else {
		payload = resp.Data
	}

	if digest.Sum(payload) != d {
		s.stats.incReceiveErrors()
		return
	}

	s.resolveOurRequest(d, payload)
}

// sendResponse emits a response for d, splitting into fragments when the
// payload exceeds fragment_size.
func (s *Session) sendResponse(ctx context.Context, d digest.Digest, data []byte) {
	if len(data) <= s.cfg.FragmentSize {
		_ = s.sender.Send(ctx, wire.EncodeResponse(d, data))
		s.stats.incSentResponses()
		return
	}

	total := (len(data) + s.cfg.FragmentSize - 1) / s.cfg.FragmentSize
	for i := 0; i < total; i++ {
		start := i * s.cfg.FragmentSize
		end := start + s.cfg.FragmentSize
		if end > len(data) {
			end = len(data)
		}
		frame := wire.EncodeResponseFragment(d, data[start:end], uint32(i), uint32(total))
		if err := s.sender.Send(ctx, frame); err != nil {
			return
		}
		s.stats.incFragmentsSent()
	}
	s.stats.incSentResponses()
}
