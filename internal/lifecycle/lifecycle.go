// Package lifecycle exposes a call's coarse progress (media acquired, media
// failed, disconnected) to the application.
package lifecycle

import (
	"sync"

	"github.com/1ureka/simplertc/internal/negotiator"
	"github.com/1ureka/simplertc/internal/util"
)

// Step is the coarse lifecycle state reported to listeners.
type Step int

const (
	StepNone Step = iota
	StepGUMSuccess
	StepGUMFailed
	StepDisconnected
)

func (s Step) String() string {
	switch s {
	case StepGUMSuccess:
		return "GUM_SUCCESS"
	case StepGUMFailed:
		return "GUM_FAILED"
	case StepDisconnected:
		return "DISCONNECTED"
	default:
		return "NONE"
	}
}

// Media acquires the local camera/microphone (or their stand-ins).
type Media interface {
	AcquireLocalMedia(video, audio bool) error
}

type subscription struct {
	id int
	fn func(Step)
}

// Controller drives a negotiator through a call and notifies listeners of
// step changes. Every transition is delivered exactly once, synchronously,
// on the goroutine that caused it.
type Controller struct {
	n     *negotiator.Negotiator
	media Media

	mu     sync.Mutex
	step   Step
	subs   []subscription
	nextID int
}

// New wires a Controller to n. It takes over n's phase observer.
func New(n *negotiator.Negotiator, media Media) *Controller {
	c := &Controller{n: n, media: media}
	n.OnPhaseChange(c.onPhase)
	return c
}

// Subscribe registers fn for step changes and returns a function that
// removes it again.
func (c *Controller) Subscribe(fn func(Step)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Step returns the current step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Start acquires local media. A failure is terminal for this call: it is
// reported as GUM_FAILED and never retried.
func (c *Controller) Start(video, audio bool) error {
	if err := c.media.AcquireLocalMedia(video, audio); err != nil {
		c.n.MediaFailed(err)
		return err
	}
	c.n.MediaReady()
	return nil
}

// Begin starts negotiating with remote.
func (c *Controller) Begin(remote negotiator.User) error {
	return c.n.BeginNegotiation(remote)
}

// Stop ends the call, sending a bye when notifyRemote is set.
func (c *Controller) Stop(notifyRemote bool) {
	c.n.Terminate(notifyRemote)
}

func (c *Controller) onPhase(p negotiator.Phase) {
	var step Step
	switch p {
	case negotiator.PhaseMediaReady:
		step = StepGUMSuccess
	case negotiator.PhaseMediaFailed:
		step = StepGUMFailed
	case negotiator.PhaseDisconnected:
		step = StepDisconnected
	default:
		return
	}

	c.mu.Lock()
	if c.step == step {
		c.mu.Unlock()
		return
	}
	c.step = step
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	util.LogDebug("lifecycle step: %s", step)
	for _, s := range subs {
		s.fn(step)
	}
}
