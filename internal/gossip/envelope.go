package gossip

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
)

// Envelope is the single wire type for every message this node sends:
// a topic tag plus an opaque gob-encoded body, so one
// framing/handshake implementation serves consensus votes, sealed
// blocks, mempool gossip and chain-sync requests alike.
type Envelope struct {
	Topic    Topic
	SenderID []byte
	Payload  []byte
}

func newEnvelope(topic Topic, senderID []byte, payload interface{}) (*Envelope, error) {
	body, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Topic: topic, SenderID: senderID, Payload: body}, nil
}

func (e *Envelope) serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("gossip: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, fmt.Errorf("gossip: decode envelope: %w", err)
	}
	return &e, nil
}

// EncodePayload gob-encodes a topic body for inclusion in an Envelope.
func EncodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gossip: encode payload %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodePayload decodes an Envelope's Payload into target, which must
// be a pointer to the concrete type the sender encoded.
func DecodePayload(data []byte, target interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(target); err != nil {
		return fmt.Errorf("gossip: decode payload into %T: %w", target, err)
	}
	return nil
}

// SendOn frames and writes a single Envelope directly onto conn,
// bypassing the peer/handler machinery. The chain loader uses this to
// run a synchronous request/response exchange over its own dialed
// connection.
func SendOn(conn net.Conn, topic Topic, senderID []byte, payload interface{}) error {
	env, err := newEnvelope(topic, senderID, payload)
	if err != nil {
		return err
	}
	return (&Peer{conn: conn}).writeEnvelope(env)
}

// ReceiveOn blocks for the next Envelope on conn and returns its topic
// and raw payload for the caller to DecodePayload into the type it
// expects for that topic.
func ReceiveOn(conn net.Conn) (Topic, []byte, error) {
	env, err := readEnvelope(conn)
	if err != nil {
		return "", nil, err
	}
	return env.Topic, env.Payload, nil
}
