package gossip

import (
	"encoding/gob"

	"github.com/pallaschain/pallas/internal/consensus"
	"github.com/pallaschain/pallas/internal/core"
)

// Topic tags an Envelope's payload so one transport can carry every
// message shape the node produces, routed by string rather than a
// per-type dispatch switch.
type Topic string

const (
	TopicHello       Topic = "hello"
	TopicConsensus   Topic = "consensus"   // consensus.Message (proposal/prevote/precommit)
	TopicSealedBlock Topic = "sealed_block" // core.Block, leader's or an auto-committer's seal
	TopicTx          Topic = "tx"           // core.Transaction, mempool gossip
	TopicChainLoader Topic = "chain_loader" // ChainLoaderRequest / StatusResponse / BlocksResponse
)

// HelloPayload is exchanged immediately after a connection is
// established: protocol version, sender identity and chain position.
type HelloPayload struct {
	Version    string
	NodeID     []byte
	ListenAddr string
	Height     core.Height
}

const protocolVersion = "pallas/1"

// StatusRequest/StatusResponse/BlocksRequest/BlocksResponse are the
// chain loader's wire types, carried over TopicChainLoader. Defined
// here rather than in internal/loader so that package can depend on
// gossip without a cycle back.
type StatusRequest struct{}

type StatusResponse struct {
	Height core.Height
}

// BlocksRequest asks for a contiguous window of blocks starting just
// after From.
type BlocksRequest struct {
	From  core.Height
	Count int
}

type BlocksResponse struct {
	Blocks []core.Block
}

// ChainLoaderRequest is the single request shape on the chain_loader
// topic; exactly one field is set. Gob matches struct fields by name
// and silently ignores the rest, so two bare request types on one
// topic cannot be told apart by trial decoding — the tag can.
type ChainLoaderRequest struct {
	Status *StatusRequest
	Blocks *BlocksRequest
}

// registerGobTypes must run once before any Envelope is encoded or
// decoded: gob needs every concrete type that crosses the wire as a
// Payload to be registered.
func registerGobTypes() {
	gob.Register(HelloPayload{})
	gob.Register(consensus.Message{})
	gob.Register(core.Block{})
	gob.Register(core.Transaction{})
	gob.Register(StatusRequest{})
	gob.Register(StatusResponse{})
	gob.Register(BlocksRequest{})
	gob.Register(BlocksResponse{})
	gob.Register(ChainLoaderRequest{})
}
