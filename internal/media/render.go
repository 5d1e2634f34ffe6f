package media

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/simplertc/internal/util"
)

const renderBufferSize = 256 // queued remote packets across all tracks

// renderItem is either the start of a remote track or one of its packets.
type renderItem struct {
	kind  webrtc.RTPCodecType
	codec webrtc.RTPCodecParameters
	pkt   *rtp.Packet // nil announces a new track
}

// renderWorker is the single goroutine that drives the Renderer. Track
// readers feed it through inbox, so renderers never need their own locking
// for writes.
type renderWorker struct {
	inbox    chan renderItem
	renderer Renderer
}

// newRenderWorker starts the render loop. The renderer is closed when ctx
// is cancelled.
func newRenderWorker(ctx context.Context, r Renderer) *renderWorker {
	w := &renderWorker{
		inbox:    make(chan renderItem, renderBufferSize),
		renderer: r,
	}
	go w.loop(ctx)
	return w
}

func (w *renderWorker) loop(ctx context.Context) {
	defer func() {
		if err := w.renderer.Close(); err != nil {
			util.LogWarning("failed to close renderer: %v", err)
		}
	}()

	for {
		select {
		case item := <-w.inbox:
			if item.pkt == nil {
				if err := w.renderer.StartTrack(item.kind, item.codec); err != nil {
					util.LogError("renderer rejected %s track: %v", item.kind, err)
				}
				continue
			}
			if err := w.renderer.WriteRTP(item.kind, item.pkt); err != nil {
				util.LogDebug("failed to render %s packet: %v", item.kind, err)
				continue
			}
			util.Stats.AddRecv(len(item.pkt.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// attach announces track to the renderer and starts reading its packets.
func (w *renderWorker) attach(ctx context.Context, track *webrtc.TrackRemote) {
	kind, codec := track.Kind(), track.Codec()
	if !w.push(ctx, renderItem{kind: kind, codec: codec}) {
		return
	}

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					util.LogDebug("remote %s track stopped: %v", kind, err)
				}
				return
			}
			if !w.push(ctx, renderItem{kind: kind, codec: codec, pkt: pkt}) {
				return
			}
		}
	}()
}

// push enqueues item, blocking while the renderer is behind. It reports
// false once ctx is cancelled.
func (w *renderWorker) push(ctx context.Context, item renderItem) bool {
	select {
	case w.inbox <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
