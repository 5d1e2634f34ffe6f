package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/simplertc/internal/negotiator"
)

const sampleSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestSummarize(t *testing.T) {
	assert.Equal(t, "session 4215775240449105457 [0:audio(111) 1:video(96 97)]", Summarize(sampleSDP))
	assert.Equal(t, "unparsed sdp (7 bytes)", Summarize("garbage"))
}

func TestCountingRenderer(t *testing.T) {
	r := NewCountingRenderer()

	err := r.WriteRTP(webrtc.RTPCodecTypeAudio, &rtp.Packet{Payload: []byte{1}})
	assert.Error(t, err, "packets before StartTrack are rejected")

	require.NoError(t, r.StartTrack(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, r.WriteRTP(webrtc.RTPCodecTypeAudio, &rtp.Packet{Payload: make([]byte, 10)}))
	}

	stats, ok := r.Stats(webrtc.RTPCodecTypeAudio)
	require.True(t, ok)
	assert.Equal(t, TrackStats{MimeType: webrtc.MimeTypeOpus, Packets: 3, Bytes: 30}, stats)

	_, ok = r.Stats(webrtc.RTPCodecTypeVideo)
	assert.False(t, ok)
}

func TestRecordingRendererWritesContainers(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "remote.ivf")
	audioPath := filepath.Join(dir, "remote.ogg")
	r := NewRecordingRenderer(videoPath, audioPath)

	require.NoError(t, r.StartTrack(webrtc.RTPCodecTypeVideo, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}))
	require.NoError(t, r.StartTrack(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	}))
	require.NoError(t, r.Close())

	ivf, err := os.ReadFile(videoPath)
	require.NoError(t, err)
	assert.Equal(t, "DKIF", string(ivf[:4]))

	ogg, err := os.ReadFile(audioPath)
	require.NoError(t, err)
	assert.Equal(t, "OggS", string(ogg[:4]))
}

func TestRecordingRendererRejectsUnsupportedCodec(t *testing.T) {
	r := NewRecordingRenderer(filepath.Join(t.TempDir(), "remote.ivf"), "")

	err := r.StartTrack(webrtc.RTPCodecTypeVideo, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
	})
	assert.Error(t, err)

	// audio has no path: counted only
	require.NoError(t, r.StartTrack(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
	}))
	require.NoError(t, r.WriteRTP(webrtc.RTPCodecTypeAudio, &rtp.Packet{Payload: []byte{1, 2}}))
	assert.NoError(t, r.Close())
}

func TestAcquireLocalMediaFailsOnMissingSource(t *testing.T) {
	e, err := NewEngine(context.Background(), Options{VideoFile: filepath.Join(t.TempDir(), "missing.ivf")})
	require.NoError(t, err)
	defer e.Close()

	assert.Error(t, e.AcquireLocalMedia(true, false))
	assert.Error(t, e.AcquireLocalMedia(false, false))
}

func TestAddICECandidateRejectsOutOfRangeIndex(t *testing.T) {
	e, err := NewEngine(context.Background(), Options{})
	require.NoError(t, err)
	defer e.Close()

	for _, index := range []int{-1, 65536} {
		err := e.AddICECandidate(negotiator.Candidate{Mid: "0", LineIndex: index, SDP: "candidate:1 1 UDP 2122260223 10.0.0.1 50000 typ host"})
		assert.ErrorContains(t, err, "out of range")
	}
}

// frame is one signaling message in flight between two loopback peers.
type frame struct {
	from, to string
	payload  []byte
}

type loopTransport struct {
	id  string
	out chan<- frame
}

func (l *loopTransport) Send(payload []byte, to string) error {
	select {
	case l.out <- frame{from: l.id, to: to, payload: payload}:
		return nil
	default:
		return assert.AnError
	}
}

func TestEngineNegotiatesWithPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wire := make(chan frame, 1024)
	peers := map[string]*negotiator.Negotiator{}

	newPeer := func(id string, role negotiator.Role) (*negotiator.Negotiator, *Engine) {
		e, err := NewEngine(ctx, Options{})
		require.NoError(t, err)
		require.NoError(t, e.AcquireLocalMedia(true, true))
		n := negotiator.New(negotiator.Config{Role: role, Local: negotiator.User{SessionID: id}}, e, &loopTransport{id: id, out: wire})
		n.MediaReady()
		peers[id] = n
		return n, e
	}

	alice, aliceEngine := newPeer("alice", negotiator.RoleCaller)
	bob, bobEngine := newPeer("bob", negotiator.RoleCallee)

	go func() {
		for {
			select {
			case f := <-wire:
				peers[f.to].HandleSignal(f.from, f.payload)
			case <-ctx.Done():
				return
			}
		}
	}()

	require.NoError(t, bob.BeginNegotiation(negotiator.User{}))
	require.NoError(t, alice.BeginNegotiation(negotiator.User{SessionID: "bob"}))

	for _, n := range []*negotiator.Negotiator{alice, bob} {
		select {
		case <-n.Connected():
		case <-time.After(10 * time.Second):
			t.Fatalf("%s did not complete negotiation", n.Local().SessionID)
		}
	}

	offer, ok := alice.LocalDescription()
	require.True(t, ok)
	assert.Equal(t, negotiator.KindOffer, offer.Kind)
	answer, ok := bob.LocalDescription()
	require.True(t, ok)
	assert.Equal(t, negotiator.KindAnswer, answer.Kind)
	assert.Contains(t, answer.SDP, "VP8")

	alice.Terminate(true)
	bob.Terminate(false)

	for _, e := range []*Engine{aliceEngine, bobEngine} {
		select {
		case <-e.Closed():
		case <-time.After(10 * time.Second):
			t.Fatal("engine did not close")
		}
	}
}
