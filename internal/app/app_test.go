package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/simplertc/internal/config"
	"github.com/1ureka/simplertc/internal/lifecycle"
	"github.com/1ureka/simplertc/internal/negotiator"
	"github.com/1ureka/simplertc/internal/signaling"
)

type captureTransport struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (c *captureTransport) Send(payload []byte, to string) error {
	if c.err != nil {
		return c.err
	}
	ev, err := signaling.Decode(payload)
	if err != nil {
		return err
	}
	text, err := signaling.AppText(ev.(signaling.PassThrough))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[to] = append(c.sent[to], text)
	return nil
}

func TestReadLinesSkipsBlankLines(t *testing.T) {
	var got []string
	for line := range readLines(strings.NewReader("hello\n\n   \nworld  \n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"hello", "world"}, got)
}

func TestChatLoopSendsToRemote(t *testing.T) {
	for name, tc := range map[string]struct {
		remote string
		want   map[string][]string
	}{
		"remote known":   {remote: "bob", want: map[string][]string{"bob": {"hi bob", "bye"}}},
		"remote unknown": {remote: "", want: map[string][]string{}},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			tr := &captureTransport{sent: map[string][]string{}}

			lines := make(chan string)
			done := make(chan error, 1)
			go func() { done <- chatLoop(ctx, lines, tr, func() string { return tc.remote }) }()

			lines <- "hi bob"
			lines <- "bye"
			close(lines)

			cancel()
			require.NoError(t, <-done)

			tr.mu.Lock()
			defer tr.mu.Unlock()
			assert.Equal(t, tc.want, tr.sent)
		})
	}
}

func TestChatLoopSurvivesSendFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &captureTransport{sent: map[string][]string{}, err: errors.New("relay gone")}

	lines := make(chan string, 1)
	lines <- "hello"

	done := make(chan error, 1)
	go func() { done <- chatLoop(ctx, lines, tr, func() string { return "bob" }) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRunRelayStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunRelay(ctx, &config.Config{Listen: "127.0.0.1:0", PIN: "1234"}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRunRelayReportsListenError(t *testing.T) {
	err := RunRelay(context.Background(), &config.Config{Listen: "256.0.0.1:bad"})
	assert.Error(t, err)
}

// callLog keeps media, engine and inbox activity in one ordered log.
type callLog struct {
	mu     sync.Mutex
	events []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type logEngine struct{ log *callLog }

func (logEngine) SetObserver(negotiator.EngineObserver)         {}
func (e logEngine) CreateOffer()                                { e.log.add("create-offer") }
func (logEngine) CreateAnswer()                                 {}
func (logEngine) SetLocalDescription(negotiator.Description)    {}
func (e logEngine) SetRemoteDescription(negotiator.Description) { e.log.add("set-remote") }
func (logEngine) AddICECandidate(negotiator.Candidate) error    { return nil }
func (logEngine) Close() error                                  { return nil }

type logMedia struct {
	log *callLog
	err error
}

func (m logMedia) AcquireLocalMedia(bool, bool) error {
	m.log.add("acquire")
	return m.err
}

// eagerInbox delivers its frames as soon as Listen is called.
type eagerInbox struct {
	log    *callLog
	frames [][]byte
}

func (in *eagerInbox) Listen(ctx context.Context, fn func(from string, payload []byte)) error {
	in.log.add("listen")
	for _, f := range in.frames {
		fn("alice", f)
	}
	<-ctx.Done()
	return nil
}

func TestJoinReadsSignalingOnlyAfterMediaIsReady(t *testing.T) {
	log := &callLog{}
	n := negotiator.New(negotiator.Config{Role: negotiator.RoleCallee, Local: negotiator.User{SessionID: "bob"}}, logEngine{log: log}, &captureTransport{})
	ctrl := lifecycle.New(n, logMedia{log: log})

	offer, err := signaling.Encode(signaling.Offer{SDP: "v=0"})
	require.NoError(t, err)
	in := &eagerInbox{log: log, frames: [][]byte{offer}}

	ctx, cancel := context.WithCancel(context.Background())
	g, _, err := join(ctx, &config.Config{Role: negotiator.RoleCallee, Video: true, Audio: true}, ctrl, n, in)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(log.list()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"acquire", "listen", "set-remote"}, log.list())
	assert.Equal(t, "alice", n.Remote().SessionID)

	cancel()
	assert.NoError(t, g.Wait())
}

func TestJoinFailureStartsNothing(t *testing.T) {
	testCases := []struct {
		name  string
		cfg   *config.Config
		media error
	}{
		{name: "media unavailable", cfg: &config.Config{Role: negotiator.RoleCallee, Video: true}, media: errors.New("no camera")},
		{name: "caller without peer", cfg: &config.Config{Role: negotiator.RoleCaller, Video: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			log := &callLog{}
			n := negotiator.New(negotiator.Config{Role: tc.cfg.Role, Local: negotiator.User{SessionID: "bob"}}, logEngine{log: log}, &captureTransport{})
			ctrl := lifecycle.New(n, logMedia{log: log, err: tc.media})
			in := &eagerInbox{log: log}

			g, gctx, err := join(context.Background(), tc.cfg, ctrl, n, in)
			assert.Error(t, err)
			assert.Nil(t, g)
			assert.Nil(t, gctx)
			assert.NotContains(t, log.list(), "listen")
			assert.Equal(t, lifecycle.StepDisconnected, ctrl.Step())
		})
	}
}
