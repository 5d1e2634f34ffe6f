package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/simplertc/internal/util"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusSampleRate    = 48000
	streamID          = "simplertc"
)

// capture owns the local tracks and their optional file sources.
type capture struct {
	videoFile string
	audioFile string

	mu       sync.Mutex
	video    *webrtc.TrackLocalStaticSample
	audio    *webrtc.TrackLocalStaticSample
	videoSrc *os.File
	audioSrc *os.File

	startOnce sync.Once
}

// acquire adds the requested tracks to pc and opens their sources.
func (c *capture) acquire(pc *webrtc.PeerConnection, video, audio bool) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if err != nil {
			_ = c.closeSourcesLocked()
		}
	}()

	if video {
		if c.videoFile != "" {
			if c.videoSrc, err = os.Open(c.videoFile); err != nil {
				return fmt.Errorf("failed to open video source: %w", err)
			}
		}
		c.video, err = addTrack(pc, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video")
		if err != nil {
			return err
		}
	}

	if audio {
		if c.audioFile != "" {
			if c.audioSrc, err = os.Open(c.audioFile); err != nil {
				return fmt.Errorf("failed to open audio source: %w", err)
			}
		}
		c.audio, err = addTrack(pc, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  2,
		}, "audio")
		if err != nil {
			return err
		}
	}

	return nil
}

func addTrack(pc *webrtc.PeerConnection, codec webrtc.RTPCodecCapability, id string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create local %s track: %w", id, err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s track: %w", id, err)
	}

	// RTCP must be read for the interceptors (NACK, reports) to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return track, nil
}

// start begins streaming the configured sources. Only the first call has an
// effect; tracks without a source stay silent.
func (c *capture) start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.video != nil && c.videoSrc != nil {
			go streamIVF(ctx, c.videoSrc, c.video)
		}
		if c.audio != nil && c.audioSrc != nil {
			go streamOgg(ctx, c.audioSrc, c.audio)
		}
	})
}

func (c *capture) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeSourcesLocked()
}

func (c *capture) closeSourcesLocked() error {
	var errs []error
	if c.videoSrc != nil {
		errs = append(errs, c.videoSrc.Close())
		c.videoSrc = nil
	}
	if c.audioSrc != nil {
		errs = append(errs, c.audioSrc.Close())
		c.audioSrc = nil
	}
	return errors.Join(errs...)
}

// streamIVF writes VP8 frames from f to track at the file's frame rate,
// looping at end of file.
func streamIVF(ctx context.Context, f io.ReadSeeker, track *webrtc.TrackLocalStaticSample) {
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		util.LogError("invalid IVF video source: %v", err)
		return
	}

	interval := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		interval = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if reader, err = rewindIVF(f); err != nil {
				util.LogError("failed to rewind video source: %v", err)
				return
			}
			continue
		}
		if err != nil {
			util.LogError("failed to read video frame: %v", err)
			return
		}

		if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			util.LogDebug("failed to write video sample: %v", err)
		}
	}
}

func rewindIVF(f io.ReadSeeker) (*ivfreader.IVFReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := ivfreader.NewWith(f)
	return reader, err
}

// streamOgg writes Opus pages from f to track, pacing by granule position,
// looping at end of file.
func streamOgg(ctx context.Context, f io.ReadSeeker, track *webrtc.TrackLocalStaticSample) {
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		util.LogError("invalid Ogg audio source: %v", err)
		return
	}

	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				util.LogError("failed to rewind audio source: %v", err)
				return
			}
			if reader, _, err = oggreader.NewWith(f); err != nil {
				util.LogError("failed to rewind audio source: %v", err)
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			util.LogError("failed to read audio page: %v", err)
			return
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			util.LogDebug("failed to write audio sample: %v", err)
		}
	}
}
