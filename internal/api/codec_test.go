package api

import (
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/picoforge/passkey-agent/internal/fido"
)

func TestCodecForRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/ws", nil)
	if c := codecForRequest(r); c.Name() != "json" {
		t.Errorf("expected json default, got %q", c.Name())
	}

	r = httptest.NewRequest("GET", "/v1/ws?encoding=cbor", nil)
	if c := codecForRequest(r); c.Name() != "cbor" {
		t.Errorf("expected cbor, got %q", c.Name())
	}

	r = httptest.NewRequest("GET", "/v1/ws?encoding=xml", nil)
	if c := codecForRequest(r); c.Name() != "json" {
		t.Errorf("unknown encodings fall back to json, got %q", c.Name())
	}
}

func TestCodecWireTypes(t *testing.T) {
	if (jsonCodec{}).WireType() != websocket.TextMessage {
		t.Error("json codec must use text frames")
	}
	if (cborCodec{}).WireType() != websocket.BinaryMessage {
		t.Error("cbor codec must use binary frames")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	codecs := []Codec{jsonCodec{}, cborCodec{}}

	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			wire, err := c.Marshal(outMessage{
				Type: "unlock",
				ID:   "req-7",
				Payload: map[string]string{
					"pin": "123456",
				},
			})
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			env, err := c.DecodeEnvelope(wire)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if env.Type != "unlock" || env.ID != "req-7" {
				t.Errorf("routing fields lost: %+v", env)
			}

			var payload struct {
				PIN string `json:"pin"`
			}
			if err := c.Unmarshal(env.Payload, &payload); err != nil {
				t.Fatalf("payload decode failed: %v", err)
			}
			if payload.PIN != "123456" {
				t.Errorf("payload lost: %+v", payload)
			}
		})
	}
}

func TestCBORHonorsJSONFieldNames(t *testing.T) {
	// Domain structs carry json tags only; the CBOR codec must pick them up
	// so both encodings agree on field names.
	cred := fido.StoredCredential{CredentialID: "abc", RPID: "example.org"}

	wire, err := (cborCodec{}).Marshal(cred)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]interface{}
	if err := cbor.Unmarshal(wire, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m["credentialId"] != "abc" {
		t.Errorf("expected credentialId key, got %v", m)
	}
	if m["rpId"] != "example.org" {
		t.Errorf("expected rpId key, got %v", m)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := (jsonCodec{}).DecodeEnvelope([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := (cborCodec{}).DecodeEnvelope([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for malformed CBOR")
	}
}

func TestWebSocketCBOREncoding(t *testing.T) {
	setupAPI(t)
	conn := dialTestWS(t, "?encoding=cbor")

	wire, err := cborEncMode.Marshal(map[string]interface{}{
		"type": "get_state",
		"id":   "req-1",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frameType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frameType != websocket.BinaryMessage {
		t.Errorf("expected binary frame, got %d", frameType)
	}

	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload cbor.RawMessage `json:"payload"`
	}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Type != "state" || msg.ID != "req-1" {
		t.Fatalf("unexpected envelope %+v", msg)
	}

	var snap struct {
		LockState string `json:"lockState"`
	}
	if err := cbor.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if snap.LockState != "locked" {
		t.Errorf("expected locked, got %q", snap.LockState)
	}
}
