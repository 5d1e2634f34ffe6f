package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is wrapped by every decode error: invalid JSON, a missing
// envelope field, an unknown nested type or a missing required field.
var ErrMalformed = errors.New("malformed signaling message")

// Event is a decoded signaling message.
type Event interface {
	event()
}

// Offer carries the initiator's session description.
type Offer struct{ SDP string }

// Answer carries the responder's session description.
type Answer struct{ SDP string }

// Candidate is a trickled ICE candidate. Label is the m-line index and ID
// the media stream identification (sdpMid).
type Candidate struct {
	Label     int
	ID        string
	Candidate string
}

// Bye asks the receiver to tear the session down.
type Bye struct{}

// PassThrough is any non-RTC envelope. Raw is the message exactly as it was
// received.
type PassThrough struct {
	Type string
	Raw  []byte
}

func (Offer) event()       {}
func (Answer) event()      {}
func (Candidate) event()   {}
func (Bye) event()         {}
func (PassThrough) event() {}

// Decode parses a wire envelope into a typed event.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing TYPE", ErrMalformed)
	}
	if env.Type != EnvelopeRTC {
		return PassThrough{Type: env.Type, Raw: append([]byte(nil), raw...)}, nil
	}

	nested, err := unwrapMessage(env.Message)
	if err != nil {
		return nil, err
	}

	var msg message
	if err := json.Unmarshal(nested, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid RTC message: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case MsgTypeOffer, MsgTypeAnswer:
		if msg.SDP == nil {
			return nil, fmt.Errorf("%w: %s without sdp", ErrMalformed, msg.Type)
		}
		if msg.Type == MsgTypeOffer {
			return Offer{SDP: *msg.SDP}, nil
		}
		return Answer{SDP: *msg.SDP}, nil

	case MsgTypeCandidate:
		if msg.Label == nil || msg.ID == nil || msg.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate requires label, id and candidate", ErrMalformed)
		}
		if *msg.Label < 0 || *msg.Label > math.MaxUint16 {
			return nil, fmt.Errorf("%w: candidate label %d out of range", ErrMalformed, *msg.Label)
		}
		return Candidate{Label: *msg.Label, ID: *msg.ID, Candidate: *msg.Candidate}, nil

	case MsgTypeBye:
		return Bye{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing RTC type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: unknown RTC type %q", ErrMalformed, msg.Type)
	}
}

// unwrapMessage returns the nested RTC message bytes, whether MESSAGE holds
// a JSON string or an inline object.
func unwrapMessage(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: missing MESSAGE", ErrMalformed)
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: invalid MESSAGE string: %v", ErrMalformed, err)
		}
		return []byte(s), nil
	case '{':
		return trimmed, nil
	default:
		return nil, fmt.Errorf("%w: MESSAGE must be a string or object", ErrMalformed)
	}
}

// Encode builds the wire envelope for an outbound event. PassThrough events
// are returned verbatim.
func Encode(ev Event) ([]byte, error) {
	var msg message
	switch e := ev.(type) {
	case Offer:
		msg = message{Type: MsgTypeOffer, SDP: &e.SDP}
	case Answer:
		msg = message{Type: MsgTypeAnswer, SDP: &e.SDP}
	case Candidate:
		msg = message{Type: MsgTypeCandidate, Label: &e.Label, ID: &e.ID, Candidate: &e.Candidate}
	case Bye:
		msg = message{Type: MsgTypeBye}
	case PassThrough:
		return append([]byte(nil), e.Raw...), nil
	default:
		return nil, fmt.Errorf("cannot encode %T", ev)
	}

	nested, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return wrap(EnvelopeRTC, string(nested))
}

// EncodeApp builds a non-RTC envelope carrying an application message,
// e.g. chat text, that the remote side hands to its pass-through hook.
func EncodeApp(typ, text string) ([]byte, error) {
	if typ == "" || typ == EnvelopeRTC {
		return nil, fmt.Errorf("invalid application envelope type %q", typ)
	}
	return wrap(typ, text)
}

// AppText extracts the MESSAGE string of a pass-through envelope.
func AppText(p PassThrough) (string, error) {
	var env struct {
		Message string `json:"MESSAGE"`
	}
	if err := json.Unmarshal(p.Raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Message, nil
}

func wrap(typ, text string) ([]byte, error) {
	msg, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Message: msg})
}
