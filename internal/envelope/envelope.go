// Package envelope implements the JSON wire format exchanged between the relay
// and its WebSocket clients.
//
// Every frame is a single envelope object:
//
//	{"messageType": "users" | "register" | "message", "dataArray": [...], "data": "..."}
//
// users envelopes carry the registered display names in dataArray; register
// and message envelopes carry their payload in data.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every error returned from Decode.
var ErrDecode = errors.New("envelope: decode failed")

// Kind is the envelope discriminant carried in the messageType field.
type Kind string

const (
	// Users is sent by the relay with the full list of registered names.
	Users Kind = "users"
	// Register is sent by a client to claim a display name.
	Register Kind = "register"
	// Message carries chat text from a client, or a rendered chat payload
	// from the relay.
	Message Kind = "message"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Users, Register, Message:
		return true
	default:
		return false
	}
}

// Envelope is a decoded wire message. Only the field that belongs to Kind is
// meaningful; the other one is carried but ignored by the relay.
type Envelope struct {
	Kind      Kind
	DataArray []string
	Data      *string
}

type wireEnvelope struct {
	MessageType Kind      `json:"messageType"`
	DataArray   *[]string `json:"dataArray,omitempty"`
	Data        *string   `json:"data,omitempty"`
}

// NewUsers builds a users envelope. A nil slice is sent as an empty list.
func NewUsers(names []string) Envelope {
	if names == nil {
		names = []string{}
	}
	return Envelope{Kind: Users, DataArray: names}
}

// NewRegister builds a register envelope for the given display name.
func NewRegister(name string) Envelope {
	return Envelope{Kind: Register, Data: &name}
}

// NewMessage builds a message envelope whose data is taken verbatim.
func NewMessage(data string) Envelope {
	return Envelope{Kind: Message, Data: &data}
}

// Text returns the scalar payload and whether it was present.
func (e Envelope) Text() (string, bool) {
	if e.Data == nil {
		return "", false
	}
	return *e.Data, true
}

// Encode serializes the envelope into a text frame.
func Encode(e Envelope) ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("envelope: encode unknown message type %q", e.Kind)
	}

	w := wireEnvelope{MessageType: e.Kind, Data: e.Data}
	if e.DataArray != nil || e.Kind == Users {
		names := e.DataArray
		if names == nil {
			names = []string{}
		}
		w.DataArray = &names
	}

	return marshal(w)
}

// Decode parses a text frame. Unknown top-level fields are ignored; a missing
// or unknown messageType, or a payload of the wrong JSON type, is an error
// wrapping ErrDecode.
func Decode(frame []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if !w.MessageType.Valid() {
		return Envelope{}, fmt.Errorf("%w: unknown message type %q", ErrDecode, w.MessageType)
	}

	e := Envelope{Kind: w.MessageType, Data: w.Data}
	if w.DataArray != nil {
		e.DataArray = *w.DataArray
	}
	return e, nil
}

// marshal encodes v without HTML escaping so chat text reaches clients as typed.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
