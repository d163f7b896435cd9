// Package control implements hashmesh's local control API: a JSON
// request/response protocol, any number of request objects per connection, for introspecting
// and driving a running node (info, peers, and name-resolver operations).
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/hashmesh/hashmesh/pkg/digest"
	"github.com/hashmesh/hashmesh/pkg/node"
	"github.com/hashmesh/hashmesh/pkg/resolver"
)

// Request represents a control API request.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server implements the control API server.
type Server struct {
	mu   sync.RWMutex
	node *node.Node
}

// NewServer creates a new control API server over n.
func NewServer(n *node.Node) *Server {
	return &Server{node: n}
}

// Serve starts the control API server on the given listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			go s.handleConnection(ctx, conn)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var request Request
			if err := decoder.Decode(&request); err != nil {
				return
			}

			response := s.handleRequest(ctx, request)

			if err := encoder.Encode(response); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, request Request) Response {
	switch request.Method {
	case "GetInfo":
		return s.handleGetInfo(request)
	case "peers":
		return s.handleGetPeers(request)
	case "resolve":
		return s.handleResolve(ctx, request)
	case "publish":
		return s.handlePublish(ctx, request)
	case "list":
		return s.handleList(ctx, request)
	default:
		return Response{
			ID:    request.ID,
			Error: fmt.Sprintf("unknown method: %s", request.Method),
		}
	}
}

// handleGetInfo handles the GetInfo operation.
func (s *Server) handleGetInfo(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"bid":   s.node.BID(),
			"state": s.node.State().String(),
		},
	}
}

// handleGetPeers handles the peers operation.
func (s *Server) handleGetPeers(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := s.node.Coordinator().Peers()
	peers := make([]map[string]interface{}, len(infos))
	for i, p := range infos {
		peers[i] = map[string]interface{}{
			"id":    p.ID,
			"pool":  string(p.Pool),
			"state": p.State,
		}
	}

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"peers": peers,
		},
	}
}

// handleResolve handles the resolve operation: looks up (identity, label)
// through the node's resolver.
func (s *Server) handleResolve(ctx context.Context, request Request) Response {
	identity, label, errResp := identityAndLabel(request)
	if errResp != nil {
		return *errResp
	}

	cid, ok, err := s.node.Resolver().Resolve(ctx, identity, label)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("resolve failed: %v", err)}
	}
	if !ok {
		return Response{ID: request.ID, Result: map[string]interface{}{"found": false}}
	}

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"found": true,
			"cid":   cid.String(),
		},
	}
}

// handlePublish handles the publish operation: signs and stores a new
// mapping under the node's own identity. Only unencrypted CIDs may be
// published through this API, since digest.CID.String never carries the
// symmetric key.
func (s *Server) handlePublish(ctx context.Context, request Request) Response {
	label, ok := request.Params["label"].(string)
	if !ok || label == "" {
		return Response{ID: request.ID, Error: "label parameter is required"}
	}
	cidStr, ok := request.Params["cid"].(string)
	if !ok || cidStr == "" {
		return Response{ID: request.ID, Error: "cid parameter is required"}
	}
	d, err := digest.Parse(cidStr)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("invalid cid: %v", err)}
	}

	s.mu.RLock()
	id := s.node.Identity()
	signer := id.SigningPrivateKey
	identityStr := resolver.Identity(id.SigningPublicKey)
	s.mu.RUnlock()

	accepted, err := s.node.Resolver().Publish(ctx, identityStr, signer, label, digest.FromDigest(d), resolver.PublishOptions{})
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("publish failed: %v", err)}
	}

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"accepted": accepted,
		},
	}
}

// handleList handles the list operation: streams every (label, cid)
// pair known for an identity.
func (s *Server) handleList(ctx context.Context, request Request) Response {
	identityParam, ok := request.Params["identity"].(string)
	if !ok || identityParam == "" {
		return Response{ID: request.ID, Error: "identity parameter is required"}
	}

	var entries []map[string]interface{}
	err := s.node.Resolver().List(ctx, identityParam, func(e resolver.Entry) {
		entries = append(entries, map[string]interface{}{
			"label":      e.Label,
			"cid":        e.CID.String(),
			"visibility": string(e.Visibility),
		})
	})
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("list failed: %v", err)}
	}

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"entries": entries,
		},
	}
}

func identityAndLabel(request Request) (string, string, *Response) {
	identity, ok := request.Params["identity"].(string)
	if !ok || identity == "" {
		return "", "", &Response{ID: request.ID, Error: "identity parameter is required"}
	}
	label, ok := request.Params["label"].(string)
	if !ok || label == "" {
		return "", "", &Response{ID: request.ID, Error: "label parameter is required"}
	}
	return identity, label, nil
}
