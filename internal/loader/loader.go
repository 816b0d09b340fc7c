// Package loader implements the chain loader: a dedicated,
// handshake-free request/response service that lets a node catch a
// lagging peer up, or catch itself up, by a windowed pull of committed
// blocks. It runs its own listener rather than routing through the
// gossip server's peer table, keeping sync traffic off the broadcast
// connections.
package loader

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/gossip"
)

const dialTimeout = 5 * time.Second

// Loader both answers other nodes' sync requests (the server half) and
// drives this node's own catch-up when it falls behind (the syncer
// half).
type Loader struct {
	chain      *core.ChainState
	selfID     []byte
	listenAddr string
	pullWindow int

	// resync re-enters the Consensus Engine at the chain's new tip
	// once catch-up completes (consensus.Engine.ResyncAt).
	resync func(core.Height) error
	// peerAddrs lists addresses worth trying, in order.
	peerAddrs func() []string

	logger *log.Logger
}

// New builds a Loader. pullWindow bounds how many blocks are sent per
// BlocksRequest (the loader_speed_in_epoch tunable).
func New(chain *core.ChainState, selfID []byte, listenAddr string, pullWindow int, peerAddrs func() []string, resync func(core.Height) error) *Loader {
	return &Loader{
		chain:      chain,
		selfID:     selfID,
		listenAddr: listenAddr,
		pullWindow: pullWindow,
		peerAddrs:  peerAddrs,
		resync:     resync,
		logger:     log.New(os.Stdout, "LOADER: ", log.LstdFlags),
	}
}

// ListenAndServe runs the responder side until the listener is closed
// or an unrecoverable accept error occurs; intended to be run in its
// own goroutine by the composition root.
func (l *Loader) ListenAndServe() error {
	ln, err := net.Listen("tcp", l.listenAddr)
	if err != nil {
		return fmt.Errorf("loader: listen on %s: %w", l.listenAddr, err)
	}
	return l.Serve(ln)
}

// Serve answers sync requests on an already-bound listener.
func (l *Loader) Serve(ln net.Listener) error {
	l.logger.Printf("serving chain sync on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go l.serveConn(conn)
	}
}

// serveConn answers exactly the requests a peer sends on one
// connection, closing it once the peer disconnects; no handshake.
func (l *Loader) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		topic, payload, err := gossip.ReceiveOn(conn)
		if err != nil {
			return
		}
		if topic != gossip.TopicChainLoader {
			l.logger.Printf("ignoring unexpected topic %s on sync connection", topic)
			continue
		}
		if err := l.dispatch(conn, payload); err != nil {
			l.logger.Printf("serving sync request from %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (l *Loader) dispatch(conn net.Conn, payload []byte) error {
	var req gossip.ChainLoaderRequest
	if err := gossip.DecodePayload(payload, &req); err != nil {
		return fmt.Errorf("unrecognized chain_loader payload: %w", err)
	}
	switch {
	case req.Status != nil:
		_, height := l.chain.Tip()
		return gossip.SendOn(conn, gossip.TopicChainLoader, l.selfID, gossip.StatusResponse{Height: height})
	case req.Blocks != nil:
		blocks := l.collectBlocks(req.Blocks.From, req.Blocks.Count)
		return gossip.SendOn(conn, gossip.TopicChainLoader, l.selfID, gossip.BlocksResponse{Blocks: blocks})
	default:
		return fmt.Errorf("chain_loader request carries no body")
	}
}

// collectBlocks returns up to count blocks starting immediately after
// from, stopping early at the local tip.
func (l *Loader) collectBlocks(from core.Height, count int) []core.Block {
	blocks := make([]core.Block, 0, count)
	h := l.chain.NextHeightAfter(from)
	for i := 0; i < count; i++ {
		b, ok := l.chain.BlockAt(h)
		if !ok {
			break
		}
		blocks = append(blocks, b)
		h = l.chain.NextHeightAfter(h)
	}
	return blocks
}

// Sync is the Syncer half: called with a height some peer is known to
// have gone past. It tries each known peer in turn, pulling windows of
// blocks until this node's tip matches or exceeds target, then
// re-enters consensus at the new tip.
func (l *Loader) Sync(target core.Height) {
	for _, addr := range l.peerAddrs() {
		if err := l.syncWithPeer(addr); err != nil {
			l.logger.Printf("sync with %s failed: %v", addr, err)
			continue
		}
		_, height := l.chain.Tip()
		if height.Less(target) {
			continue // this peer didn't have it either, try the next
		}
		if l.resync != nil {
			if err := l.resync(l.chain.NextHeight()); err != nil {
				l.logger.Printf("failed to resume consensus after sync: %v", err)
			}
		}
		return
	}
	l.logger.Printf("could not reach %s: no peer served the needed blocks", target)
}

func (l *Loader) syncWithPeer(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := gossip.SendOn(conn, gossip.TopicChainLoader, l.selfID, gossip.ChainLoaderRequest{Status: &gossip.StatusRequest{}}); err != nil {
		return err
	}
	topic, payload, err := gossip.ReceiveOn(conn)
	if err != nil {
		return err
	}
	if topic != gossip.TopicChainLoader {
		return fmt.Errorf("unexpected topic %s for status reply", topic)
	}
	var status gossip.StatusResponse
	if err := gossip.DecodePayload(payload, &status); err != nil {
		return err
	}

	_, local := l.chain.Tip()
	for local.Less(status.Height) {
		if err := gossip.SendOn(conn, gossip.TopicChainLoader, l.selfID, gossip.ChainLoaderRequest{Blocks: &gossip.BlocksRequest{From: local, Count: l.pullWindow}}); err != nil {
			return err
		}
		topic, payload, err := gossip.ReceiveOn(conn)
		if err != nil {
			return err
		}
		if topic != gossip.TopicChainLoader {
			return fmt.Errorf("unexpected topic %s for blocks reply", topic)
		}
		var resp gossip.BlocksResponse
		if err := gossip.DecodePayload(payload, &resp); err != nil {
			return err
		}
		if len(resp.Blocks) == 0 {
			return fmt.Errorf("peer returned no blocks past %s", local)
		}
		for _, b := range resp.Blocks {
			if _, err := l.chain.TryAppend(b); err != nil {
				return fmt.Errorf("applying synced block at %s: %w", b.Header().Height, err)
			}
		}
		_, local = l.chain.Tip()
	}
	return nil
}
