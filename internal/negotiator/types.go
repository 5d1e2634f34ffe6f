// Package negotiator implements the offer/answer state machine for one call
// between two participants.
//
// A Negotiator owns the session's role, phase and local/remote session
// descriptions. Inbound signaling messages and media engine completions may
// arrive on any goroutine; every read-decide-write sequence runs under a
// single mutex so exactly one offer or answer leaves per negotiation round.
package negotiator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMediaNotReady  = errors.New("local media is not ready")
	ErrAlreadyStarted = errors.New("negotiation already started")
	ErrTerminated     = errors.New("session terminated")
	ErrRemoteUnknown  = errors.New("remote user unknown")
	ErrRemoteMismatch = errors.New("remote user already bound to another session")
)

// Role decides which side creates the offer. It is fixed for the lifetime
// of a session.
type Role int

const (
	RoleCaller Role = iota // initiator, creates the offer
	RoleCallee             // responder, answers
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole accepts "caller"/"initiator" and "callee"/"responder".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "caller", "initiator":
		return RoleCaller, nil
	case "callee", "responder":
		return RoleCallee, nil
	default:
		return 0, fmt.Errorf("invalid role %q: must be caller or callee", s)
	}
}

// Kind is the type of a session description.
type Kind int

const (
	KindOffer Kind = iota
	KindAnswer
)

func (k Kind) String() string {
	if k == KindOffer {
		return "offer"
	}
	return "answer"
}

// Description is an SDP session description together with its kind.
type Description struct {
	Kind Kind
	SDP  string
}

// Candidate is an ICE candidate, either gathered locally or received from
// the remote side.
type Candidate struct {
	Mid       string // media stream identification (sdpMid)
	LineIndex int    // m-line index (sdpMLineIndex)
	SDP       string // the candidate attribute line
}

// User identifies a participant by name and signaling session id.
type User struct {
	Name      string
	SessionID string
}

// Known reports whether the user has a signaling address.
func (u User) Known() bool { return u.SessionID != "" }

// Phase is the session's position in the negotiation lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMediaReady
	PhaseMediaFailed
	PhaseNegotiating
	PhaseConnected
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMediaReady:
		return "media-ready"
	case PhaseMediaFailed:
		return "media-failed"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Engine is the media engine as seen by the negotiator. Every operation is
// fire-and-forget; results come back through the EngineObserver, possibly on
// another goroutine. Implementations must not call the observer
// synchronously from within an operation.
type Engine interface {
	SetObserver(EngineObserver)
	CreateOffer()
	CreateAnswer()
	SetLocalDescription(Description)
	SetRemoteDescription(Description)
	AddICECandidate(Candidate) error
	Close() error
}

// EngineObserver receives media engine completions. OnSetSuccess does not
// say which description was applied.
type EngineObserver interface {
	OnCreateSuccess(Description)
	OnCreateFailure(error)
	OnSetSuccess()
	OnSetFailure(error)
	OnICECandidate(Candidate)
}

// Transport delivers an encoded signaling envelope to a remote session id.
type Transport interface {
	Send(payload []byte, to string) error
}
