package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1ureka/simplertc/internal/app"
	"github.com/1ureka/simplertc/internal/config"
	"github.com/1ureka/simplertc/internal/negotiator"
	"github.com/1ureka/simplertc/internal/signaling"
	"github.com/1ureka/simplertc/internal/util"
)

func (c *cli) newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the WebSocket signaling relay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.viper(cmd, map[string]string{config.KeyListen: "listen"})
			if err != nil {
				return err
			}
			if gen, _ := cmd.Flags().GetBool("gen-pin"); gen && v.GetString(config.KeyPIN) == "" {
				v.Set(config.KeyPIN, signaling.GeneratePIN(6))
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return app.RunRelay(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("listen", ":8443", "Address to listen on")
	cmd.Flags().Bool("gen-pin", false, "Protect the relay with a random PIN")
	return cmd
}

func (c *cli) newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Join a call as caller or callee.",
		Long: `Join a call through the relay. The caller needs the callee's session id;
the callee waits for an offer from whoever calls first. Lines typed on stdin
are sent to the other participant as chat messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.viper(cmd, map[string]string{
				config.KeyRole:               "role",
				config.KeyID:                 "id",
				config.KeyName:               "name",
				config.KeyPeer:               "peer",
				config.KeyURL:                "url",
				config.KeyVideo:              "video",
				config.KeyAudio:              "audio",
				config.KeyCaptureVideo:       "capture-video",
				config.KeyCaptureAudio:       "capture-audio",
				config.KeyRecordVideo:        "record-video",
				config.KeyRecordAudio:        "record-audio",
				config.KeyICEServers:         "ice-server",
				config.KeyICEURL:             "ice-url",
				config.KeyNegotiationTimeout: "timeout",
				config.KeyStatsInterval:      "stats-interval",
			})
			if err != nil {
				return err
			}
			promptMissing(v)

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if cfg.URL, err = normalizeWSURL(cfg.URL); err != nil {
				return err
			}
			if err := cfg.ValidateCall(); err != nil {
				return err
			}

			if err := app.RunCall(cmd.Context(), cfg, os.Stdin); err != nil {
				return err
			}
			util.LogInfo("call closed")
			return nil
		},
	}

	f := cmd.Flags()
	f.String("role", "", "Role: caller or callee")
	f.String("id", "", "Local session id (default: random UUID)")
	f.String("name", "", "Display name (default: session id)")
	f.String("peer", "", "Remote session id (caller only)")
	f.String("url", "", "Relay WebSocket URL, e.g. ws://127.0.0.1:8443/ws")
	f.Bool("video", true, "Send video")
	f.Bool("audio", true, "Send audio")
	f.String("capture-video", "", "IVF (VP8) file streamed as local video")
	f.String("capture-audio", "", "Ogg (Opus) file streamed as local audio")
	f.String("record-video", "", "Record remote video to this IVF file")
	f.String("record-audio", "", "Record remote audio to this Ogg file")
	f.StringSlice("ice-server", nil, "STUN/TURN server URL (repeatable)")
	f.String("ice-url", "", "Fetch ICE servers from this HTTP endpoint")
	f.Duration("timeout", 30*time.Second, "Give up negotiating after this long (0 disables)")
	f.Duration("stats-interval", 5*time.Second, "Stats report interval (0 disables)")
	return cmd
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// promptMissing asks interactively for the role, relay URL and (for the
// caller) the peer id when none were given.
func promptMissing(v *viper.Viper) {
	if v.GetString(config.KeyRole) == "" {
		role, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Caller — Start the call", "Callee — Wait for a call"}).
			WithDefaultText("Select your role").
			Show()
		pterm.Println()

		if strings.HasPrefix(role, "Caller") {
			v.Set(config.KeyRole, "caller")
		} else {
			v.Set(config.KeyRole, "callee")
		}
	}

	if v.GetString(config.KeyURL) == "" {
		v.Set(config.KeyURL, askURL())
	}

	role, err := negotiator.ParseRole(v.GetString(config.KeyRole))
	if err == nil && role == negotiator.RoleCaller && v.GetString(config.KeyPeer) == "" {
		peer, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Session id to call").
			Show()
		pterm.Println()
		v.Set(config.KeyPeer, strings.TrimSpace(peer))
	}
}

// normalizeWSURL validates a raw WebSocket URL and points it at /ws.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. ws://127.0.0.1:8443/ws)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
