// Package app contains the top-level orchestration for the relay and call
// commands.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/simplertc/internal/config"
	"github.com/1ureka/simplertc/internal/signaling"
	"github.com/1ureka/simplertc/internal/util"
)

// RunRelay serves the signaling relay until ctx is cancelled.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	server := signaling.NewServer(cfg.PIN)
	port, err := server.Start(cfg.Listen)
	if err != nil {
		return err
	}
	defer server.Close()

	pin := cfg.PIN
	if pin == "" {
		pin = "(none)"
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║         WebSocket Signaling Relay        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", port)
	fmt.Printf("║  PIN  : %-32s ║\n", pin)
	fmt.Printf("║  Path : %-32s ║\n", "/ws?id=<session>")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	util.LogSuccess("relay listening on port %d", port)
	<-ctx.Done()
	util.LogInfo("shutting down relay (%d sessions connected)", len(server.Peers()))
	return nil
}
