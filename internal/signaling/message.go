// Package signaling carries negotiation messages between two participants:
// the envelope codec for offer/answer/candidate/bye messages, and the
// WebSocket relay (server and client) that moves them.
package signaling

import "encoding/json"

// EnvelopeRTC is the outer TYPE of envelopes that carry negotiation messages.
// Every other TYPE is application traffic and is passed through untouched.
const EnvelopeRTC = "RTC"

// MessageType identifies the kind of nested RTC message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
	MsgTypeBye       MessageType = "bye"
)

// envelope is the outer wire message. MESSAGE is normally a JSON string
// holding the nested message; an inline object is accepted on decode.
type envelope struct {
	Type    string          `json:"TYPE"`
	Message json.RawMessage `json:"MESSAGE"`
}

// message is the nested RTC payload. Pointer fields let the decoder tell a
// missing field from a zero value.
type message struct {
	Type      MessageType `json:"type"`
	SDP       *string     `json:"sdp,omitempty"`
	Label     *int        `json:"label,omitempty"`
	ID        *string     `json:"id,omitempty"`
	Candidate *string     `json:"candidate,omitempty"`
}

// Frame is the unit exchanged with the relay server. Data carries an
// encoded envelope; Error is only set on frames produced by the relay.
type Frame struct {
	To    string `json:"to,omitempty"`
	From  string `json:"from,omitempty"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
