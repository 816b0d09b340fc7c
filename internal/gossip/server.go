// Package gossip implements the topic-tagged, length-prefixed TCP
// transport every task's inbound/outbound channels are wired to: a
// HELLO handshake followed by a framed stream of gob-encoded
// Envelopes.
package gossip

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pallaschain/pallas/internal/core"
)

var (
	ErrServerAlreadyRunning = errors.New("gossip server is already running")
	ErrServerNotRunning     = errors.New("gossip server is not running")
	ErrHandshakeFailed      = errors.New("gossip handshake failed")
	ErrPeerNotConnected     = errors.New("peer is not connected")
)

const dialTimeout = 5 * time.Second

// Handler processes one topic's payload from a peer. It is invoked on
// the connection's own read loop goroutine, so handlers that need to
// touch shared state must hand off to their owning task's channel
// rather than blocking here.
type Handler func(from *Peer, payload []byte)

// Server is the node's gossip endpoint: one listener, a set of
// handshaked peers, and a topic-keyed handler table.
type Server struct {
	selfID     []byte
	listenAddr string

	mu       sync.RWMutex
	listener net.Listener
	peers    map[string]*Peer
	handlers map[Topic]Handler

	height func() uint64 // reports this node's current epoch, for HELLO

	quit chan struct{}
	wg   sync.WaitGroup

	logger *log.Logger

	OnPeerConnected    func(p *Peer)
	OnPeerDisconnected func(p *Peer)
}

func init() { registerGobTypes() }

// New builds a Server. heightFn reports the node's current epoch at
// handshake time; it may be nil.
func New(listenAddr string, selfID []byte, heightFn func() uint64) *Server {
	return &Server{
		selfID:     selfID,
		listenAddr: listenAddr,
		peers:      make(map[string]*Peer),
		handlers:   make(map[Topic]Handler),
		height:     heightFn,
		quit:       make(chan struct{}),
		logger:     log.New(os.Stdout, "GOSSIP: ", log.LstdFlags),
	}
}

// Handle registers fn as the handler for topic. Call before Start.
func (s *Server) Handle(topic Topic, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = fn
}

// Start begins listening and accepting inbound connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("gossip: listen on %s: %w", s.listenAddr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Printf("listening on %s", s.listenAddr)
	return nil
}

// Stop closes the listener, disconnects every peer, and waits for all
// connection goroutines to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrServerNotRunning
	}
	close(s.quit)
	s.listener.Close()
	s.listener = nil
	for addr, p := range s.peers {
		p.Close()
		delete(s.peers, addr)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Println("stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Printf("accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn, false)
	}
}

// Connect dials address and performs the handshake as the initiator.
func (s *Server) Connect(address string) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("gossip: dial %s: %w", address, err)
	}
	p, err := s.handshake(conn, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (s *Server) handleConnection(conn net.Conn, initiator bool) {
	defer s.wg.Done()
	if _, err := s.handshake(conn, initiator); err != nil {
		s.logger.Printf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
	}
}

// handshake exchanges HELLO envelopes (initiator sends first,
// responder replies) and, on success, starts the peer's read loop.
func (s *Server) handshake(conn net.Conn, initiator bool) (*Peer, error) {
	p := newPeer(conn, s.selfID)

	var epoch uint64
	if s.height != nil {
		epoch = s.height()
	}
	hello := HelloPayload{Version: protocolVersion, NodeID: s.selfID, ListenAddr: s.listenAddr, Height: core.Height{Epoch: epoch}}
	env, err := newEnvelope(TopicHello, s.selfID, hello)
	if err != nil {
		return nil, err
	}

	exchange := func() (*HelloPayload, error) {
		if err := p.writeEnvelope(env); err != nil {
			return nil, err
		}
		reply, err := readEnvelope(conn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		if reply.Topic != TopicHello {
			return nil, fmt.Errorf("%w: expected HELLO, got %s", ErrHandshakeFailed, reply.Topic)
		}
		var payload HelloPayload
		if err := DecodePayload(reply.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		return &payload, nil
	}

	var theirs *HelloPayload
	if initiator {
		theirs, err = exchange()
	} else {
		remote, err2 := readEnvelope(conn)
		if err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err2)
		}
		if remote.Topic != TopicHello {
			return nil, fmt.Errorf("%w: expected HELLO, got %s", ErrHandshakeFailed, remote.Topic)
		}
		var payload HelloPayload
		if err2 := DecodePayload(remote.Payload, &payload); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err2)
		}
		theirs = &payload
		err = p.writeEnvelope(env)
	}
	if err != nil {
		return nil, err
	}
	if theirs.Version != protocolVersion {
		return nil, fmt.Errorf("%w: incompatible version %q", ErrHandshakeFailed, theirs.Version)
	}
	p.id = theirs.NodeID

	s.addPeer(p)
	s.wg.Add(1)
	go s.readLoop(p)
	return p, nil
}

func (s *Server) addPeer(p *Peer) {
	s.mu.Lock()
	s.peers[p.Address()] = p
	s.mu.Unlock()
	if s.OnPeerConnected != nil {
		s.OnPeerConnected(p)
	}
}

func (s *Server) removePeer(p *Peer) {
	s.mu.Lock()
	_, existed := s.peers[p.Address()]
	delete(s.peers, p.Address())
	s.mu.Unlock()
	if existed {
		p.Close()
		if s.OnPeerDisconnected != nil {
			s.OnPeerDisconnected(p)
		}
	}
}

func (s *Server) readLoop(p *Peer) {
	defer s.wg.Done()
	defer s.removePeer(p)

	for {
		env, err := readEnvelope(p.Conn())
		if err != nil {
			return
		}
		p.touch()

		s.mu.RLock()
		fn := s.handlers[env.Topic]
		s.mu.RUnlock()
		if fn == nil {
			continue
		}
		fn(p, env.Payload)
	}
}

// Broadcast sends payload under topic to every connected peer.
func (s *Server) Broadcast(topic Topic, payload interface{}) {
	env, err := newEnvelope(topic, s.selfID, payload)
	if err != nil {
		s.logger.Printf("broadcast encode failed for %s: %v", topic, err)
		return
	}
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		go func(p *Peer) {
			if err := p.writeEnvelope(env); err != nil {
				s.logger.Printf("broadcast to %s failed: %v", p.Address(), err)
			}
		}(p)
	}
}

// Send delivers payload under topic to a single peer, used by the
// Chain Loader's unicast request/response exchanges.
func (s *Server) Send(p *Peer, topic Topic, payload interface{}) error {
	env, err := newEnvelope(topic, s.selfID, payload)
	if err != nil {
		return err
	}
	return p.writeEnvelope(env)
}

// Peers returns the currently connected peer set.
func (s *Server) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}
