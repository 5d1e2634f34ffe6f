package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/simplertc/internal/negotiator"
	"github.com/1ureka/simplertc/internal/util"
)

// opQueueSize bounds the engine's pending operations. The negotiator keeps
// at most one create/set in flight, so this never fills in practice.
const opQueueSize = 16

// Options configures an Engine.
type Options struct {
	ICEServers []webrtc.ICEServer

	// Optional capture sources. VideoFile is an IVF (VP8) file and AudioFile
	// an Ogg/Opus file; both are streamed in a loop once connected.
	VideoFile string
	AudioFile string

	// Renderer receives remote media. Nil installs a CountingRenderer.
	Renderer Renderer
}

// Engine implements negotiator.Engine over a single pion PeerConnection.
//
// Create/set operations are queued to one worker goroutine and complete
// through the registered observer, never synchronously. Remote tracks are
// handed to a render worker that shares no lock with negotiation.
type Engine struct {
	pc       *webrtc.PeerConnection
	ops      chan func()
	capture  *capture
	render   *renderWorker
	renderer Renderer

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.RWMutex
	observer negotiator.EngineObserver
	pcState  webrtc.PeerConnectionState
}

var _ negotiator.Engine = (*Engine)(nil)

// NewEngine creates an Engine backed by a new PeerConnection. The engine
// stops when ctx is cancelled, Close is called or the connection fails.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := newPeerConnection(api, opts.ICEServers)
	if err != nil {
		return nil, err
	}

	eCtx, eCancel := context.WithCancel(ctx)

	renderer := opts.Renderer
	if renderer == nil {
		renderer = NewCountingRenderer()
	}

	e := &Engine{
		pc:       pc,
		ops:      make(chan func(), opQueueSize),
		capture:  &capture{videoFile: opts.VideoFile, audioFile: opts.AudioFile},
		render:   newRenderWorker(eCtx, renderer),
		renderer: renderer,
		ctx:      eCtx,
		cancel:   eCancel,
		closed:   make(chan struct{}),
		pcState:  webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(e.handleICECandidate)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		e.mu.Lock()
		e.pcState = state
		e.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			e.capture.start(eCtx)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			eCancel()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("remote %s track received (%s)", track.Kind(), track.Codec().MimeType)
		e.render.attach(eCtx, track)
	})

	go e.loop()

	return e, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// AcquireLocalMedia creates the local tracks and opens the configured
// capture sources. An unopenable source fails the whole acquisition.
func (e *Engine) AcquireLocalMedia(video, audio bool) error {
	if !video && !audio {
		return errors.New("neither video nor audio requested")
	}
	return e.capture.acquire(e.pc, video, audio)
}

// Done returns a channel that is closed when the engine shuts down or the
// connection fails.
func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Closed returns a channel that is closed once the PeerConnection has
// finished closing.
func (e *Engine) Closed() <-chan struct{} {
	return e.closed
}

// Close stops capture, rendering and the operation worker, and closes the
// PeerConnection in the background so it never blocks on pion callbacks
// that are waiting for the negotiator.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		go func() {
			defer close(e.closed)
			err := errors.Join(e.pc.Close(), e.capture.close())
			if err != nil {
				util.LogWarning("error while closing media engine: %v", err)
			}
		}()
	})
	return nil
}

// ConnectionState returns the last observed PeerConnection state.
func (e *Engine) ConnectionState() webrtc.PeerConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pcState
}

// Renderer returns the renderer remote media is dispatched to.
func (e *Engine) Renderer() Renderer { return e.renderer }

// ---------------------------------------------------------------------------
// negotiator.Engine
// ---------------------------------------------------------------------------

func (e *Engine) SetObserver(o negotiator.EngineObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = o
}

func (e *Engine) CreateOffer() {
	e.enqueue(func(o negotiator.EngineObserver) {
		sd, err := e.pc.CreateOffer(nil)
		if err != nil {
			o.OnCreateFailure(err)
			return
		}
		util.LogDebug("created offer: %s", Summarize(sd.SDP))
		o.OnCreateSuccess(negotiator.Description{Kind: negotiator.KindOffer, SDP: sd.SDP})
	})
}

func (e *Engine) CreateAnswer() {
	e.enqueue(func(o negotiator.EngineObserver) {
		sd, err := e.pc.CreateAnswer(nil)
		if err != nil {
			o.OnCreateFailure(err)
			return
		}
		util.LogDebug("created answer: %s", Summarize(sd.SDP))
		o.OnCreateSuccess(negotiator.Description{Kind: negotiator.KindAnswer, SDP: sd.SDP})
	})
}

func (e *Engine) SetLocalDescription(d negotiator.Description) {
	e.enqueue(func(o negotiator.EngineObserver) {
		if err := e.pc.SetLocalDescription(toPion(d)); err != nil {
			o.OnSetFailure(err)
			return
		}
		o.OnSetSuccess()
	})
}

func (e *Engine) SetRemoteDescription(d negotiator.Description) {
	e.enqueue(func(o negotiator.EngineObserver) {
		util.LogDebug("applying remote %s: %s", d.Kind, Summarize(d.SDP))
		if err := e.pc.SetRemoteDescription(toPion(d)); err != nil {
			o.OnSetFailure(err)
			return
		}
		o.OnSetSuccess()
	})
}

// AddICECandidate applies a remote candidate. Unlike the other operations it
// completes synchronously; pion does not call back into the observer here.
func (e *Engine) AddICECandidate(c negotiator.Candidate) error {
	if c.LineIndex < 0 || c.LineIndex > math.MaxUint16 {
		return fmt.Errorf("candidate m-line index %d out of range", c.LineIndex)
	}
	mid := c.Mid
	index := uint16(c.LineIndex)
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.SDP,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// enqueue hands op to the worker goroutine. Ops submitted after Close are
// dropped.
func (e *Engine) enqueue(op func(negotiator.EngineObserver)) {
	e.mu.RLock()
	o := e.observer
	e.mu.RUnlock()
	if o == nil {
		util.LogWarning("media engine has no observer, dropping operation")
		return
	}

	select {
	case e.ops <- func() { op(o) }:
	case <-e.ctx.Done():
	}
}

// loop is the single worker running engine operations in submission order.
func (e *Engine) loop() {
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handleICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		util.LogDebug("ICE gathering complete")
		return
	}

	e.mu.RLock()
	o := e.observer
	e.mu.RUnlock()
	if o == nil {
		return
	}

	init := c.ToJSON()
	cand := negotiator.Candidate{SDP: init.Candidate}
	if init.SDPMid != nil {
		cand.Mid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		cand.LineIndex = int(*init.SDPMLineIndex)
	}
	o.OnICECandidate(cand)
}

func toPion(d negotiator.Description) webrtc.SessionDescription {
	typ := webrtc.SDPTypeAnswer
	if d.Kind == negotiator.KindOffer {
		typ = webrtc.SDPTypeOffer
	}
	return webrtc.SessionDescription{Type: typ, SDP: d.SDP}
}
