package media

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// Renderer consumes remote media. All calls come from the render worker's
// goroutine, in order: StartTrack for each new track, then its packets.
type Renderer interface {
	StartTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecParameters) error
	WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error
	Close() error
}

// TrackStats is what a CountingRenderer has seen on one kind of track.
type TrackStats struct {
	MimeType string
	Packets  int
	Bytes    int
}

// CountingRenderer only counts packets. It is the default when nothing is
// recorded.
type CountingRenderer struct {
	mu     sync.Mutex
	tracks map[webrtc.RTPCodecType]*TrackStats
}

func NewCountingRenderer() *CountingRenderer {
	return &CountingRenderer{tracks: make(map[webrtc.RTPCodecType]*TrackStats)}
}

func (r *CountingRenderer) StartTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks[kind] = &TrackStats{MimeType: codec.MimeType}
	return nil
}

func (r *CountingRenderer) WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tracks[kind]
	if !ok {
		return fmt.Errorf("no %s track started", kind)
	}
	ts.Packets++
	ts.Bytes += len(pkt.Payload)
	return nil
}

func (r *CountingRenderer) Close() error { return nil }

// Stats returns a snapshot of the counters for kind.
func (r *CountingRenderer) Stats(kind webrtc.RTPCodecType) (TrackStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tracks[kind]
	if !ok {
		return TrackStats{}, false
	}
	return *ts, true
}

// RecordingRenderer writes remote VP8 video to an IVF file and remote Opus
// audio to an Ogg file. A kind with an empty path, or an unsupported codec,
// is counted but not written.
type RecordingRenderer struct {
	VideoPath string
	AudioPath string

	*CountingRenderer
	writers map[webrtc.RTPCodecType]media.Writer
}

func NewRecordingRenderer(videoPath, audioPath string) *RecordingRenderer {
	return &RecordingRenderer{
		VideoPath:        videoPath,
		AudioPath:        audioPath,
		CountingRenderer: NewCountingRenderer(),
		writers:          make(map[webrtc.RTPCodecType]media.Writer),
	}
}

func (r *RecordingRenderer) StartTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecParameters) error {
	if err := r.CountingRenderer.StartTrack(kind, codec); err != nil {
		return err
	}
	if _, ok := r.writers[kind]; ok {
		return fmt.Errorf("%s track already recording", kind)
	}

	w, err := r.newWriter(kind, codec)
	if err != nil || w == nil {
		return err
	}
	r.writers[kind] = w
	return nil
}

func (r *RecordingRenderer) newWriter(kind webrtc.RTPCodecType, codec webrtc.RTPCodecParameters) (media.Writer, error) {
	mime := codec.MimeType
	switch {
	case kind == webrtc.RTPCodecTypeVideo && r.VideoPath != "":
		if !strings.EqualFold(mime, webrtc.MimeTypeVP8) {
			return nil, fmt.Errorf("cannot record %s video, only VP8", mime)
		}
		return ivfwriter.New(r.VideoPath)

	case kind == webrtc.RTPCodecTypeAudio && r.AudioPath != "":
		if !strings.EqualFold(mime, webrtc.MimeTypeOpus) {
			return nil, fmt.Errorf("cannot record %s audio, only Opus", mime)
		}
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		return oggwriter.New(r.AudioPath, opusSampleRate, channels)
	}
	return nil, nil
}

func (r *RecordingRenderer) WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	if err := r.CountingRenderer.WriteRTP(kind, pkt); err != nil {
		return err
	}
	if w, ok := r.writers[kind]; ok {
		return w.WriteRTP(pkt)
	}
	return nil
}

// Close finalizes every open recording.
func (r *RecordingRenderer) Close() error {
	var errs []error
	for kind, w := range r.writers {
		errs = append(errs, w.Close())
		delete(r.writers, kind)
	}
	return errors.Join(errs...)
}
