package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/hashmesh/hashmesh/pkg/identity"
	"github.com/hashmesh/hashmesh/pkg/peer"
	"github.com/hashmesh/hashmesh/pkg/security/noiseik"
	"github.com/hashmesh/hashmesh/pkg/transport"
)

// frameConn adapts a transport.Conn into peer.Sender by prefixing every
// outbound datagram with its 4-byte big-endian length, and offers a
// matching reader for the inbound side. Block-exchange datagrams carry no
// length of their own (the exchange wire format's tag-byte framing
// assumes a message-oriented channel), so a stream transport like TCP needs this
// prefix to find frame boundaries; QUIC streams get the same treatment for
// uniformity.
type frameConn struct {
	conn transport.Conn

	writeMu sync.Mutex
}

func newFrameConn(conn transport.Conn) *frameConn {
	return &frameConn{conn: conn}
}

// maxFrameSize bounds a single exchange datagram; fragmentation keeps
// individual frames well under this.
const maxFrameSize = 16 << 20

func (f *frameConn) Send(_ context.Context, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("node: frame of %d bytes exceeds max %d", len(data), maxFrameSize)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := f.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := f.conn.Write(data)
	return err
}

func (f *frameConn) readFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(f.conn, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("node: inbound frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(f.conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

var _ peer.Sender = (*frameConn)(nil)

// admitInboundConn runs the responder side of the hello/verify exchange over
// an accepted connection, then admits the resulting session keyed by the
// caller's authenticated BID.
func (n *Node) admitInboundConn(conn transport.Conn) (*peer.Session, error) {
	fc := newFrameConn(conn)

	clientHelloData, err := fc.readFrame()
	if err != nil {
		return nil, fmt.Errorf("node: read ClientHello: %w", err)
	}
	var clientHello noiseik.ClientHello
	if err := clientHello.Unmarshal(clientHelloData); err != nil {
		return nil, fmt.Errorf("node: malformed ClientHello: %w", err)
	}

	pub, err := identity.PublicKeyFromBID(clientHello.From)
	if err != nil {
		return nil, fmt.Errorf("node: ClientHello from invalid BID: %w", err)
	}
	if err := clientHello.Verify(pub); err != nil {
		return nil, fmt.Errorf("node: ClientHello signature verification failed: %w", err)
	}

	hs := noiseik.NewHandshake(n.identity, n.swarmID)
	serverHello, err := hs.ProcessClientHello(&clientHello)
	if err != nil {
		return nil, fmt.Errorf("node: process ClientHello: %w", err)
	}

	serverHelloData, err := serverHello.Marshal()
	if err != nil {
		return nil, fmt.Errorf("node: marshal ServerHello: %w", err)
	}
	if err := fc.Send(n.ctx, serverHelloData); err != nil {
		return nil, fmt.Errorf("node: send ServerHello: %w", err)
	}

	return n.admitSession(conn, fc, clientHello.From)
}

// connectOutboundConn runs the initiator side of the hello/verify exchange
// over a freshly dialed connection, then admits the resulting session keyed
// by the remote's authenticated BID.
func (n *Node) connectOutboundConn(ctx context.Context, conn transport.Conn) (*peer.Session, error) {
	fc := newFrameConn(conn)

	hs := noiseik.NewHandshake(n.identity, n.swarmID)
	clientHello, err := hs.CreateClientHello()
	if err != nil {
		return nil, fmt.Errorf("node: create ClientHello: %w", err)
	}
	clientHelloData, err := clientHello.Marshal()
	if err != nil {
		return nil, fmt.Errorf("node: marshal ClientHello: %w", err)
	}
	if err := fc.Send(ctx, clientHelloData); err != nil {
		return nil, fmt.Errorf("node: send ClientHello: %w", err)
	}

	serverHelloData, err := fc.readFrame()
	if err != nil {
		return nil, fmt.Errorf("node: read ServerHello: %w", err)
	}
	var serverHello noiseik.ServerHello
	if err := serverHello.Unmarshal(serverHelloData); err != nil {
		return nil, fmt.Errorf("node: malformed ServerHello: %w", err)
	}

	pub, err := identity.PublicKeyFromBID(serverHello.From)
	if err != nil {
		return nil, fmt.Errorf("node: ServerHello from invalid BID: %w", err)
	}
	if err := serverHello.Verify(pub); err != nil {
		return nil, fmt.Errorf("node: ServerHello signature verification failed: %w", err)
	}
	if serverHello.SwarmID != n.swarmID {
		return nil, fmt.Errorf("node: ServerHello swarm mismatch: want %s, got %s", n.swarmID, serverHello.SwarmID)
	}

	return n.admitSession(conn, fc, serverHello.From)
}

// admitSession wraps conn as a peer session identified by id (an
// authenticated BID established by the hello/verify exchange above),
// admits it into the coordinator, and starts its inbound read loop.
func (n *Node) admitSession(conn transport.Conn, fc *frameConn, id string) (*peer.Session, error) {
	sess, err := peer.New(id, fc, n.store, n.coord, n.peerCfg)
	if err != nil {
		return nil, fmt.Errorf("node: failed to build session: %w", err)
	}
	if err := n.coord.Admit(sess); err != nil {
		sess.Close()
		return nil, err
	}

	go n.readLoop(conn, fc, sess)
	return sess, nil
}

func (n *Node) readLoop(conn transport.Conn, fc *frameConn, sess *peer.Session) {
	defer conn.Close()
	defer sess.Close()
	defer n.coord.MarkClosed(sess.ID)

	n.coord.MarkActive(sess.ID)
	for {
		data, err := fc.readFrame()
		if err != nil {
			return
		}
		if err := sess.HandleFrame(n.ctx, data); err != nil {
			return
		}
	}
}
