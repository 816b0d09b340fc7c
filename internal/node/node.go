// Package node is the composition root: it wires the chain, mempool,
// consensus and loader tasks together over the channels each owns,
// and owns the goroutines that pump messages between them and the
// gossip transport.
package node

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pallaschain/pallas/internal/builder"
	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/consensus"
	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/genesis"
	"github.com/pallaschain/pallas/internal/gossip"
	"github.com/pallaschain/pallas/internal/loader"
	"github.com/pallaschain/pallas/internal/mempool"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/validator"
)

const consensusKeyFile = "consensus.key"

// Node owns every task and the goroutines that pump messages between
// them and the gossip transport. It does not itself hold consensus
// state: that is the Engine's alone, one owner per datum.
type Node struct {
	cfg *config.Config

	chain    *core.ChainState
	mempool  *mempool.Mempool
	engine   *consensus.Engine
	loader   *loader.Loader
	gossip   *gossip.Server
	metrics  *Metrics
	identity *crypto.NodeIdentity
	sk       *crypto.SecretKey

	boltStore *store.BoltStore

	logger *log.Logger
	quit   chan struct{}
}

// New assembles a Node from cfg but does not start any goroutine.
func New(cfg *config.Config) (*Node, error) {
	if err := config.CommitIdentity(cfg.ChainIdentity); err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("node: create data dir %s: %w", cfg.DataDir, err)
		}
	}

	identity, err := loadOrCreateNodeIdentity(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	sk, err := loadOrCreateConsensusKey(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	blockStore, boltStore, err := openBlockStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	chain, err := bootstrapChain(cfg, blockStore)
	if err != nil {
		return nil, err
	}

	bv := core.NewValidator(validator.NewLeaderResolver(chain), validator.NewQuorumVerifier(chain))
	chain.SetValidator(bv)

	mp := mempool.New(cfg.MaxUTXOInMempool)
	bld := builder.New(mp, chain.UTXOs(), cfg.MaxUTXOInBlock, cfg.TxWaitTimeout)
	engine := consensus.New(cfg, chain, bv, mp, bld, sk)

	selfID := crypto.SerializeNodePublicKey(identity.Pub)
	gs := gossip.New(cfg.ListenAddr, selfID, func() uint64 { return chain.Epoch() })

	n := &Node{
		cfg:       cfg,
		chain:     chain,
		mempool:   mp,
		engine:    engine,
		gossip:    gs,
		metrics:   NewMetrics(),
		identity:  identity,
		sk:        sk,
		boltStore: boltStore,
		logger:    log.New(os.Stdout, "NODE: ", log.LstdFlags),
		quit:      make(chan struct{}),
	}

	n.loader = loader.New(chain, selfID, cfg.LoaderAddr, cfg.LoaderSpeedInEpoch, n.peerAddrs, engine.ResyncAt)

	chain.OnCommit = func(b core.Block) {
		mp.Prune(b)
		n.metrics.ObserveCommit(b)
	}

	n.wireGossip()
	return n, nil
}

func loadOrCreateNodeIdentity(dataDir string) (*crypto.NodeIdentity, error) {
	if dataDir == "" {
		return crypto.GenerateNodeIdentity()
	}
	path := filepath.Join(dataDir, "node.key")
	if _, err := os.Stat(path); err == nil {
		return crypto.LoadIdentityPEM(path)
	}
	id, err := crypto.GenerateNodeIdentity()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveIdentityPEM(id, path); err != nil {
		return nil, err
	}
	return id, nil
}

func loadOrCreateConsensusKey(dataDir string) (*crypto.SecretKey, error) {
	if dataDir == "" {
		return crypto.GenerateSecretKey()
	}
	path := filepath.Join(dataDir, consensusKeyFile)
	if raw, err := os.ReadFile(path); err == nil {
		return crypto.SecretKeyFromBytes(raw), nil
	}
	sk, err := crypto.GenerateSecretKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, sk.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("node: save consensus key: %w", err)
	}
	return sk, nil
}

func openBlockStore(dataDir string) (core.BlockStore, *store.BoltStore, error) {
	if dataDir == "" {
		return core.NewMemStore(), nil, nil
	}
	bs, err := store.OpenBoltStore(filepath.Join(dataDir, "chain.db"))
	if err != nil {
		return nil, nil, err
	}
	return bs, bs, nil
}

// bootstrapChain restores a populated store or, for an empty one,
// seeds the chain from the embedded genesis macro-block for cfg's
// chain identity.
func bootstrapChain(cfg *config.Config, blockStore core.BlockStore) (*core.ChainState, error) {
	chain := core.NewChainState(blockStore, nil, cfg.BlocksInEpoch, cfg.MaxUTXOInTx, cfg.MaxUTXOInBlock, uint64(cfg.StakeEpochs))

	_, hasTip, err := blockStore.Tip()
	if err != nil {
		return nil, fmt.Errorf("node: read store tip: %w", err)
	}
	if hasTip {
		if err := chain.Restore(); err != nil {
			return nil, fmt.Errorf("node: restore chain state: %w", err)
		}
		return chain, nil
	}

	g, err := genesis.Block(cfg.ChainIdentity)
	if err != nil {
		return nil, err
	}
	if err := chain.Bootstrap(g); err != nil {
		return nil, fmt.Errorf("node: bootstrap genesis: %w", err)
	}
	return chain, nil
}

// wireGossip connects the Engine's outbound channels to the gossip
// Server's broadcast path and registers inbound handlers that decode
// wire payloads back into the Engine's and Mempool's inbound channels.
func (n *Node) wireGossip() {
	n.gossip.Handle(gossip.TopicConsensus, func(from *gossip.Peer, payload []byte) {
		var msg consensus.Message
		if err := gossip.DecodePayload(payload, &msg); err != nil {
			n.logger.Printf("dropping malformed consensus message from %s: %v", from.Address(), err)
			return
		}
		select {
		case n.engine.ConsensusIn <- msg:
		case <-n.quit:
		}
	})
	n.gossip.Handle(gossip.TopicSealedBlock, func(from *gossip.Peer, payload []byte) {
		var b core.Block
		if err := gossip.DecodePayload(payload, &b); err != nil {
			n.logger.Printf("dropping malformed sealed block from %s: %v", from.Address(), err)
			return
		}
		select {
		case n.engine.SealedIn <- b:
		case <-n.quit:
		}
	})
	n.gossip.Handle(gossip.TopicTx, func(from *gossip.Peer, payload []byte) {
		var tx core.Transaction
		if err := gossip.DecodePayload(payload, &tx); err != nil {
			n.logger.Printf("dropping malformed transaction from %s: %v", from.Address(), err)
			return
		}
		if err := n.mempool.Insert(&tx, n.chain.UTXOs()); err != nil {
			n.logger.Printf("rejecting gossiped tx: %v", err)
		}
	})
}

func (n *Node) peerAddrs() []string {
	var addrs []string
	for _, p := range n.gossip.Peers() {
		addrs = append(addrs, p.Address())
	}
	return addrs
}

// Start brings up every task's goroutines: the gossip server, the
// chain loader responder, the consensus engine, and the pumps that
// forward the engine's outbound messages onto the gossip transport.
func (n *Node) Start() error {
	if err := n.gossip.Start(); err != nil {
		return err
	}
	go func() {
		if err := n.loader.ListenAndServe(); err != nil {
			n.logger.Printf("loader stopped: %v", err)
		}
	}()
	for _, addr := range n.cfg.BootstrapPeers {
		if _, err := n.gossip.Connect(addr); err != nil {
			n.logger.Printf("failed to connect to bootstrap peer %s: %v", addr, err)
		}
	}
	if err := n.engine.Start(); err != nil {
		return err
	}
	go n.pumpOutbound()
	if n.cfg.MetricsAddr != "" {
		go n.metrics.Serve(n.cfg.MetricsAddr)
	}
	n.logger.Printf("started on %s (chain=%s)", n.cfg.ListenAddr, n.cfg.ChainIdentity)
	return nil
}

func (n *Node) pumpOutbound() {
	for {
		select {
		case <-n.quit:
			return
		case msg := <-n.engine.ConsensusOut:
			n.gossip.Broadcast(gossip.TopicConsensus, msg)
		case b := <-n.engine.SealedOut:
			n.gossip.Broadcast(gossip.TopicSealedBlock, b)
		case h := <-n.engine.Behind:
			n.metrics.ObserveBehind()
			go n.loader.Sync(h)
		case ev := <-n.engine.EvidenceOut:
			n.metrics.ObserveEvidence()
			n.logger.Printf("equivocation evidence recorded for validator %x at %s view %d", ev.Validator, ev.First.Height, ev.First.View)
		case err := <-n.engine.Fatal:
			n.logger.Fatalf("fatal chain error, node must restart and resync: %v", err)
		}
	}
}

// SubmitTransaction admits tx into the local mempool and gossips it,
// the path a wallet integration would use to get a transaction into
// circulation.
func (n *Node) SubmitTransaction(tx *core.Transaction) error {
	if err := n.mempool.Insert(tx, n.chain.UTXOs()); err != nil {
		return err
	}
	n.gossip.Broadcast(gossip.TopicTx, tx)
	return nil
}

// Stop closes quit first so the outbound pump and in-flight handler
// goroutines observe it, then stops the engine and the gossip server
// and closes the bolt store if one is open. The chain loader's
// listener is not closed.
func (n *Node) Stop() error {
	close(n.quit)
	if err := n.engine.Stop(); err != nil {
		n.logger.Printf("stopping engine: %v", err)
	}
	if err := n.gossip.Stop(); err != nil {
		n.logger.Printf("stopping gossip: %v", err)
	}
	if n.boltStore != nil {
		if err := n.boltStore.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Chain exposes the chain state for read-only CLI reporting
// (chain-info).
func (n *Node) Chain() *core.ChainState { return n.chain }
