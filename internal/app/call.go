package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/simplertc/internal/config"
	"github.com/1ureka/simplertc/internal/lifecycle"
	"github.com/1ureka/simplertc/internal/media"
	"github.com/1ureka/simplertc/internal/negotiator"
	"github.com/1ureka/simplertc/internal/signaling"
	"github.com/1ureka/simplertc/internal/util"
)

// ChatType is the envelope TYPE used for text typed during a call.
const ChatType = "CHAT"

// errCallEnded stops the errgroup once the session is over.
var errCallEnded = errors.New("call ended")

// RunCall orchestrates one call:
//  1. Connect to the relay under the local session id
//  2. Build the media engine and negotiator
//  3. Acquire local media (GUM_SUCCESS / GUM_FAILED), then start reading
//     signaling
//  4. Negotiate with the peer, relaying chat lines from stdin
//  5. Hang up on Ctrl+C, on bye, or when the connection fails
func RunCall(ctx context.Context, cfg *config.Config, stdin io.Reader) error {
	// ── 1. Signaling ───────────────────────────────────────────────────
	client, err := signaling.Dial(ctx, cfg.URL, cfg.ID, cfg.PIN)
	if err != nil {
		return err
	}
	defer client.Close()
	util.LogInfo("connected to relay as %s (%s)", cfg.ID, cfg.Role)

	// ── 2. Engine & negotiator ─────────────────────────────────────────
	var renderer media.Renderer
	if cfg.RecordVideo != "" || cfg.RecordAudio != "" {
		renderer = media.NewRecordingRenderer(cfg.RecordVideo, cfg.RecordAudio)
	}

	engine, err := media.NewEngine(ctx, media.Options{
		ICEServers: cfg.ResolveICEServers(ctx),
		VideoFile:  cfg.CaptureVideo,
		AudioFile:  cfg.CaptureAudio,
		Renderer:   renderer,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	n := negotiator.New(negotiator.Config{
		Role:          cfg.Role,
		Local:         negotiator.User{Name: cfg.Name, SessionID: cfg.ID},
		Timeout:       cfg.NegotiationTimeout,
		OnPassThrough: printAppMessage,
	}, engine, client)

	ctrl := lifecycle.New(n, engine)
	unsubscribe := ctrl.Subscribe(printStep)
	defer unsubscribe()

	// ── 3. Local media & negotiation ───────────────────────────────────
	g, gctx, err := join(ctx, cfg, ctrl, n, client)
	if err != nil {
		return err
	}

	// ── 4. Call ────────────────────────────────────────────────────────
	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(gctx, cfg.StatsInterval)
	}

	g.Go(func() error {
		select {
		case <-n.Connected():
			util.LogSuccess("call established with %s", n.Remote().SessionID)
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		return chatLoop(gctx, readLines(stdin), client, func() string { return n.Remote().SessionID })
	})

	// ── 5. Teardown ────────────────────────────────────────────────────
	g.Go(func() error {
		select {
		case <-gctx.Done():
			ctrl.Stop(true)
		case <-engine.Done():
			util.LogWarning("media connection lost")
			ctrl.Stop(true)
		case <-n.Done():
		}
		return errCallEnded
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errCallEnded) {
		return err
	}
	return nil
}

// inbox is the receiving side of the signaling client.
type inbox interface {
	Listen(ctx context.Context, fn func(from string, payload []byte)) error
}

// join acquires local media and begins negotiating, and only then starts
// reading signaling. Frames that arrive earlier wait on the connection
// instead of reaching a session that cannot accept them yet. On error no
// goroutine has been started.
func join(ctx context.Context, cfg *config.Config, ctrl *lifecycle.Controller, n *negotiator.Negotiator, in inbox) (*errgroup.Group, context.Context, error) {
	if err := ctrl.Start(cfg.Video, cfg.Audio); err != nil {
		ctrl.Stop(false)
		return nil, nil, fmt.Errorf("failed to acquire local media: %w", err)
	}
	if err := ctrl.Begin(negotiator.User{SessionID: cfg.Peer}); err != nil {
		ctrl.Stop(false)
		return nil, nil, fmt.Errorf("failed to begin negotiation: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return in.Listen(gctx, n.HandleSignal)
	})
	return g, gctx, nil
}

// readLines forwards non-empty lines of r on the returned channel, which is
// closed at EOF. The reader goroutine cannot be interrupted and lives until
// r is exhausted.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines <- line
			}
		}
	}()
	return lines
}

// chatLoop sends every line as a CHAT envelope to the current remote user
// until ctx is cancelled. EOF on the input only stops chatting.
func chatLoop(ctx context.Context, lines <-chan string, tr negotiator.Transport, remote func() string) error {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			to := remote()
			if to == "" {
				util.LogWarning("no one to chat with yet")
				continue
			}
			payload, err := signaling.EncodeApp(ChatType, line)
			if err != nil {
				return err
			}
			if err := tr.Send(payload, to); err != nil {
				util.LogWarning("failed to send chat message: %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func printAppMessage(from string, msg signaling.PassThrough) {
	text, err := signaling.AppText(msg)
	if err != nil {
		util.LogWarning("unreadable %s message from %s: %v", msg.Type, from, err)
		return
	}
	if msg.Type == ChatType {
		pterm.Printfln("%s %s", pterm.FgCyan.Sprintf("[%s]", from), text)
		return
	}
	util.LogInfo("%s message from %s: %s", msg.Type, from, text)
}

func printStep(step lifecycle.Step) {
	switch step {
	case lifecycle.StepGUMSuccess:
		util.LogSuccess("local media ready")
	case lifecycle.StepGUMFailed:
		util.LogError("local media unavailable")
	case lifecycle.StepDisconnected:
		util.LogInfo("call disconnected")
	}
}
