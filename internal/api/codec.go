package api

import (
	"encoding/json"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec serializes WebSocket envelopes. Clients pick one at connect time
// with the ?encoding= query parameter; JSON text frames are the default,
// CBOR binary frames are available for CTAP-native tooling.
type Codec interface {
	Name() string
	// WireType is the websocket frame type this codec's output uses.
	WireType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// DecodeEnvelope splits an incoming frame into its routing fields and
	// the still-encoded payload.
	DecodeEnvelope(data []byte) (*Envelope, error)
}

// Envelope is a decoded incoming message. Payload stays in the codec's
// wire encoding until the handler knows which type to decode into.
type Envelope struct {
	Type    string
	ID      string
	Payload []byte
}

// outMessage is the outgoing envelope shape shared by both codecs.
type outMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string  { return "json" }
func (jsonCodec) WireType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &Envelope{Type: msg.Type, ID: msg.ID, Payload: msg.Payload}, nil
}

// cborEncMode is the canonical encoder shared by all CBOR clients.
var cborEncMode, _ = cbor.CanonicalEncOptions().EncMode()

type cborCodec struct{}

func (cborCodec) Name() string  { return "cbor" }
func (cborCodec) WireType() int { return websocket.BinaryMessage }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload cbor.RawMessage `json:"payload"`
	}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &Envelope{Type: msg.Type, ID: msg.ID, Payload: msg.Payload}, nil
}

// codecForRequest picks the codec for a WebSocket upgrade request.
func codecForRequest(r *http.Request) Codec {
	if r.URL.Query().Get("encoding") == "cbor" {
		return cborCodec{}
	}
	return jsonCodec{}
}
