package negotiator

import (
	"sync"
	"time"

	"github.com/1ureka/simplertc/internal/signaling"
	"github.com/1ureka/simplertc/internal/util"
)

// Config holds the fixed parameters of one session.
type Config struct {
	Role  Role
	Local User

	// Timeout bounds how long the session may stay Negotiating before it is
	// torn down with a bye. Zero disables the bound.
	Timeout time.Duration

	// OnPassThrough receives every non-RTC envelope untouched. It runs on
	// the goroutine that delivered the message, outside the session lock.
	OnPassThrough func(from string, msg signaling.PassThrough)
}

// pendingOp is the set-description operation currently in flight.
type pendingOp int

const (
	opNone pendingOp = iota
	opSetLocal
	opSetRemote
)

// completion names the four distinct meanings of an engine set-success.
type completion int

const (
	completionUnexpected completion = iota
	callerLocalOfferSet
	callerRemoteAnswerSet
	calleeRemoteOfferSet
	calleeLocalAnswerSet
)

// Negotiator is the per-call session state machine.
type Negotiator struct {
	role          Role
	local         User
	engine        Engine
	transport     Transport
	timeout       time.Duration
	onPassThrough func(string, signaling.PassThrough)

	mu            sync.Mutex
	phase         Phase
	remote        User
	localDesc     *Description
	remoteDesc    *Description
	pendingRemote *Description
	pending       pendingOp
	creating      bool
	begun         bool
	offerSent     bool
	terminated    bool
	candidates    []Candidate // remote candidates waiting for the remote description
	timer         *time.Timer
	onPhase       func(Phase)
	changes       []Phase // phase changes to announce once mu is released
	delivering    bool

	connected     chan struct{}
	connectedOnce sync.Once
	done          chan struct{}
	doneOnce      sync.Once
}

var _ EngineObserver = (*Negotiator)(nil)

// New creates a session in PhaseIdle and registers itself as the engine's
// observer.
func New(cfg Config, engine Engine, transport Transport) *Negotiator {
	n := &Negotiator{
		role:          cfg.Role,
		local:         cfg.Local,
		engine:        engine,
		transport:     transport,
		timeout:       cfg.Timeout,
		onPassThrough: cfg.OnPassThrough,
		connected:     make(chan struct{}),
		done:          make(chan struct{}),
	}
	engine.SetObserver(n)
	return n
}

// OnPhaseChange registers the single phase observer. It is called once per
// transition, in order, after the session lock has been released, and never
// concurrently with itself.
func (n *Negotiator) OnPhaseChange(fn func(Phase)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onPhase = fn
}

// unlock releases mu and then announces the phase changes queued while it
// was held, so observers may call back into the Negotiator. Only one
// goroutine delivers at a time; changes queued by others meanwhile, including
// re-entrant calls from the observer, are delivered by it in queue order.
func (n *Negotiator) unlock() {
	if n.onPhase == nil {
		n.changes = nil
	}
	if n.delivering || len(n.changes) == 0 {
		n.mu.Unlock()
		return
	}

	n.delivering = true
	for len(n.changes) > 0 && n.onPhase != nil {
		p, fn := n.changes[0], n.onPhase
		n.changes = n.changes[1:]
		n.mu.Unlock()
		fn(p)
		n.mu.Lock()
	}
	n.changes = nil
	n.delivering = false
	n.mu.Unlock()
}

// setPhase moves the session forward. Phases only advance, except that
// Disconnected is reachable from anywhere.
func (n *Negotiator) setPhase(p Phase) {
	if p == n.phase || (p < n.phase && p != PhaseDisconnected) {
		return
	}
	util.LogDebug("session %s: %s -> %s", n.local.SessionID, n.phase, p)
	n.phase = p
	n.changes = append(n.changes, p)

	if p == PhaseConnected {
		n.stopTimer()
		n.connectedOnce.Do(func() { close(n.connected) })
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (n *Negotiator) Role() Role  { return n.role }
func (n *Negotiator) Local() User { return n.local }

func (n *Negotiator) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

func (n *Negotiator) Remote() User {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote
}

// LocalDescription returns the locally created description, if any.
func (n *Negotiator) LocalDescription() (Description, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.localDesc == nil {
		return Description{}, false
	}
	return *n.localDesc, true
}

// RemoteDescription returns the remote description once it has been applied.
func (n *Negotiator) RemoteDescription() (Description, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.remoteDesc == nil {
		return Description{}, false
	}
	return *n.remoteDesc, true
}

// Connected is closed once the offer/answer exchange has completed.
func (n *Negotiator) Connected() <-chan struct{} { return n.connected }

// Done is closed when the session is terminated.
func (n *Negotiator) Done() <-chan struct{} { return n.done }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// MediaReady records that local media was acquired.
func (n *Negotiator) MediaReady() {
	n.mu.Lock()
	defer n.unlock()
	if n.terminated || n.phase != PhaseIdle {
		util.LogWarning("media ready reported in phase %s, ignored", n.phase)
		return
	}
	n.setPhase(PhaseMediaReady)
}

// MediaFailed records that local media could not be acquired. The attempt
// is over; nothing is retried.
func (n *Negotiator) MediaFailed(err error) {
	n.mu.Lock()
	defer n.unlock()
	if n.terminated || n.phase != PhaseIdle {
		return
	}
	util.LogError("failed to acquire local media: %v", err)
	n.setPhase(PhaseMediaFailed)
}

// BeginNegotiation starts the exchange with remote. The caller creates its
// offer; the callee only records remote (which may be zero) and waits for
// one. It may be called once, after MediaReady.
func (n *Negotiator) BeginNegotiation(remote User) error {
	n.mu.Lock()
	defer n.unlock()

	switch {
	case n.terminated:
		return ErrTerminated
	case n.begun:
		util.LogWarning("begin negotiation called twice, ignored")
		return ErrAlreadyStarted
	case n.phase == PhaseIdle || n.phase == PhaseMediaFailed:
		util.LogWarning("begin negotiation before media is ready, ignored")
		return ErrMediaNotReady
	case n.role == RoleCaller && n.phase != PhaseMediaReady:
		return ErrAlreadyStarted
	}

	if remote.Known() {
		if n.remote.Known() && n.remote.SessionID != remote.SessionID {
			return ErrRemoteMismatch
		}
		n.remote = remote
	}
	if n.role == RoleCaller && !n.remote.Known() {
		util.LogWarning("caller cannot begin negotiation without a remote session id")
		return ErrRemoteUnknown
	}

	n.begun = true
	if n.phase == PhaseMediaReady {
		n.setPhase(PhaseNegotiating)
		n.armTimer()
	}

	if n.role == RoleCaller {
		util.LogInfo("creating offer for %s", n.remote.SessionID)
		n.creating = true
		n.engine.CreateOffer()
	} else {
		util.LogInfo("waiting for an offer")
	}
	return nil
}

// Terminate closes the media engine and, if notifyRemote is set, sends a
// bye to the remote user. It is a no-op when the session is Idle (never
// started, or already terminated).
func (n *Negotiator) Terminate(notifyRemote bool) {
	n.mu.Lock()
	defer n.unlock()
	n.terminate(notifyRemote)
}

func (n *Negotiator) terminate(notifyRemote bool) {
	if n.phase == PhaseIdle {
		return
	}
	n.stopTimer()

	if err := n.engine.Close(); err != nil {
		util.LogWarning("failed to close media engine: %v", err)
	}
	if notifyRemote {
		n.send(signaling.Bye{})
	}

	n.setPhase(PhaseDisconnected)
	n.terminated = true
	n.phase = PhaseIdle
	n.candidates = nil
	n.doneOnce.Do(func() { close(n.done) })
}

func (n *Negotiator) armTimer() {
	if n.timeout <= 0 || n.timer != nil {
		return
	}
	n.timer = time.AfterFunc(n.timeout, n.expire)
}

func (n *Negotiator) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
	}
}

func (n *Negotiator) expire() {
	n.mu.Lock()
	defer n.unlock()
	if n.terminated || n.phase != PhaseNegotiating {
		return
	}
	util.LogWarning("negotiation did not complete within %s, hanging up", n.timeout)
	n.terminate(true)
}

// ---------------------------------------------------------------------------
// Media engine completions
// ---------------------------------------------------------------------------

// OnCreateSuccess stores the created description and applies it locally.
// Nothing is sent before the local set completes.
func (n *Negotiator) OnCreateSuccess(desc Description) {
	n.mu.Lock()
	defer n.unlock()
	if n.terminated {
		return
	}
	if !n.creating {
		util.LogWarning("unexpected %s creation, ignored", desc.Kind)
		return
	}
	n.creating = false

	if want := n.expectedLocalKind(); desc.Kind != want {
		util.LogError("%s created a local %s, expected %s; ignored", n.role, desc.Kind, want)
		return
	}
	if n.localDesc != nil {
		util.LogWarning("local description already set, ignoring new %s", desc.Kind)
		return
	}

	util.LogDebug("%s sdp was created (%d bytes)", desc.Kind, len(desc.SDP))
	d := desc
	n.localDesc = &d
	n.pending = opSetLocal
	n.engine.SetLocalDescription(d)
}

// OnCreateFailure logs the failure; the session stays where it is.
func (n *Negotiator) OnCreateFailure(err error) {
	n.mu.Lock()
	defer n.unlock()
	n.creating = false
	util.LogError("failed to create session description: %v", err)
}

// OnSetSuccess is the decision point: it classifies the completion from the
// operation in flight and the role, and performs that case's single action.
func (n *Negotiator) OnSetSuccess() {
	n.mu.Lock()
	defer n.unlock()
	if n.terminated {
		return
	}

	op := n.pending
	n.pending = opNone

	switch n.classify(op) {
	case callerLocalOfferSet:
		util.LogDebug("local offer applied, sending to %s", n.remote.SessionID)
		if n.sendDescription(*n.localDesc) {
			n.offerSent = true
		}

	case callerRemoteAnswerSet:
		util.LogDebug("remote answer applied")
		n.commitRemote()
		n.setPhase(PhaseConnected)

	case calleeRemoteOfferSet:
		util.LogDebug("remote offer applied, creating answer")
		n.commitRemote()
		n.creating = true
		n.engine.CreateAnswer()

	case calleeLocalAnswerSet:
		util.LogDebug("local answer applied, sending to %s", n.remote.SessionID)
		if n.sendDescription(*n.localDesc) {
			n.setPhase(PhaseConnected)
		}

	default:
		util.LogWarning("set-description success with nothing in flight, ignored")
	}
}

// classify maps a set completion to its meaning. With the pending operation
// known this matches the (local present, remote present, role) table: the
// caller's local offer is applied with no remote description, the callee's
// local answer with both present, and so on.
func (n *Negotiator) classify(op pendingOp) completion {
	switch {
	case op == opSetLocal && n.role == RoleCaller && n.localDesc != nil:
		return callerLocalOfferSet
	case op == opSetLocal && n.role == RoleCallee && n.localDesc != nil && n.remoteDesc != nil:
		return calleeLocalAnswerSet
	case op == opSetRemote && n.role == RoleCaller && n.pendingRemote != nil:
		return callerRemoteAnswerSet
	case op == opSetRemote && n.role == RoleCallee && n.pendingRemote != nil:
		return calleeRemoteOfferSet
	default:
		return completionUnexpected
	}
}

// OnSetFailure logs the failure. A failed remote description is forgotten
// so a fresh one may be applied; the session otherwise stalls.
func (n *Negotiator) OnSetFailure(err error) {
	n.mu.Lock()
	defer n.unlock()
	if n.pending == opSetRemote {
		n.pendingRemote = nil
	}
	n.pending = opNone
	util.LogError("failed to set session description: %v", err)
}

// OnICECandidate trickles a locally gathered candidate to the remote user.
func (n *Negotiator) OnICECandidate(c Candidate) {
	n.mu.Lock()
	defer n.unlock()
	if n.terminated {
		return
	}
	if !n.remote.Known() {
		util.LogWarning("dropping local ICE candidate: remote user unknown")
		return
	}
	if n.send(signaling.Candidate{Label: c.LineIndex, ID: c.Mid, Candidate: c.SDP}) {
		util.Stats.AddCandidateSent()
	}
}

// ---------------------------------------------------------------------------
// Inbound signaling
// ---------------------------------------------------------------------------

// HandleSignal decodes one inbound envelope from the session id from and
// routes it. Malformed messages are logged and dropped; non-RTC envelopes go
// to the pass-through hook.
func (n *Negotiator) HandleSignal(from string, raw []byte) {
	ev, err := signaling.Decode(raw)
	if err != nil {
		util.LogWarning("dropping signaling message from %s: %v", from, err)
		util.Stats.AddDropped()
		return
	}

	if pt, ok := ev.(signaling.PassThrough); ok {
		if n.onPassThrough != nil {
			n.onPassThrough(from, pt)
		}
		return
	}

	n.mu.Lock()
	defer n.unlock()
	n.handleEvent(from, ev)
}

func (n *Negotiator) handleEvent(from string, ev signaling.Event) {
	if n.terminated {
		util.LogDebug("session terminated, dropping %T from %s", ev, from)
		return
	}
	if from != "" {
		if !n.remote.Known() {
			n.remote = User{SessionID: from}
		} else if from != n.remote.SessionID {
			util.LogWarning("dropping %T from %s: session is bound to %s", ev, from, n.remote.SessionID)
			util.Stats.AddDropped()
			return
		}
	}

	switch e := ev.(type) {
	case signaling.Offer:
		n.receiveDescription(Description{Kind: KindOffer, SDP: e.SDP})
	case signaling.Answer:
		n.receiveDescription(Description{Kind: KindAnswer, SDP: e.SDP})
	case signaling.Candidate:
		n.receiveCandidate(Candidate{Mid: e.ID, LineIndex: e.Label, SDP: e.Candidate})
	case signaling.Bye:
		util.LogInfo("remote user hung up")
		n.terminate(false)
	}
}

// receiveDescription validates a remote description against the role and
// phase and applies it. Mismatches are dropped, never fatal.
func (n *Negotiator) receiveDescription(desc Description) {
	if reason := n.rejectRemote(desc.Kind); reason != "" {
		util.LogWarning("dropping remote %s: %s", desc.Kind, reason)
		util.Stats.AddDropped()
		return
	}

	if n.phase == PhaseMediaReady {
		n.setPhase(PhaseNegotiating)
		n.armTimer()
	}
	d := desc
	n.pendingRemote = &d
	n.pending = opSetRemote
	n.engine.SetRemoteDescription(d)
}

func (n *Negotiator) rejectRemote(kind Kind) string {
	if n.pending != opNone || n.pendingRemote != nil || n.remoteDesc != nil {
		return "a remote description is already applied or in flight"
	}
	switch kind {
	case KindOffer:
		if n.role != RoleCallee {
			return "caller does not accept offers"
		}
		if n.phase != PhaseMediaReady && n.phase != PhaseNegotiating {
			return "not ready to negotiate (phase " + n.phase.String() + ")"
		}
		if n.localDesc != nil || n.creating {
			return "local description already exists"
		}
	case KindAnswer:
		if n.role != RoleCaller {
			return "callee does not accept answers"
		}
		if !n.offerSent || n.phase != PhaseNegotiating {
			return "no offer has been sent"
		}
	}
	return ""
}

// receiveCandidate applies a remote candidate, or buffers it until the
// remote description has been applied.
func (n *Negotiator) receiveCandidate(c Candidate) {
	util.Stats.AddCandidateRecv()
	switch n.phase {
	case PhaseMediaReady, PhaseNegotiating, PhaseConnected:
	default:
		util.LogWarning("dropping remote ICE candidate in phase %s", n.phase)
		util.Stats.AddDropped()
		return
	}

	if n.remoteDesc == nil {
		util.LogDebug("buffering remote ICE candidate (mid=%s)", c.Mid)
		n.candidates = append(n.candidates, c)
		return
	}
	n.applyCandidate(c)
}

// commitRemote records the in-flight remote description as applied and
// flushes buffered candidates in arrival order.
func (n *Negotiator) commitRemote() {
	n.remoteDesc = n.pendingRemote
	n.pendingRemote = nil

	buffered := n.candidates
	n.candidates = nil
	for _, c := range buffered {
		n.applyCandidate(c)
	}
}

func (n *Negotiator) applyCandidate(c Candidate) {
	if err := n.engine.AddICECandidate(c); err != nil {
		util.LogWarning("failed to add remote ICE candidate: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Outbound signaling
// ---------------------------------------------------------------------------

func (n *Negotiator) expectedLocalKind() Kind {
	if n.role == RoleCaller {
		return KindOffer
	}
	return KindAnswer
}

func (n *Negotiator) sendDescription(d Description) bool {
	var ev signaling.Event = signaling.Answer{SDP: d.SDP}
	if d.Kind == KindOffer {
		ev = signaling.Offer{SDP: d.SDP}
	}
	if !n.send(ev) {
		return false
	}
	if d.Kind == KindOffer {
		util.Stats.AddOffer()
	} else {
		util.Stats.AddAnswer()
	}
	return true
}

// send encodes ev and hands it to the transport, addressed to the remote
// user. Failures are logged and not retried.
func (n *Negotiator) send(ev signaling.Event) bool {
	if !n.remote.Known() {
		util.LogWarning("cannot send %T: remote user unknown", ev)
		return false
	}
	payload, err := signaling.Encode(ev)
	if err != nil {
		util.LogError("failed to encode %T: %v", ev, err)
		return false
	}
	if err := n.transport.Send(payload, n.remote.SessionID); err != nil {
		util.LogError("failed to send %T to %s: %v", ev, n.remote.SessionID, err)
		return false
	}
	return true
}
