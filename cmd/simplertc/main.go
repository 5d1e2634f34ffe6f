// simplertc — CLI entry point.
//
// This tool runs a two-party WebRTC call: a relay forwards signaling
// messages between sessions, and each participant negotiates a media
// session (VP8 video, Opus audio) with the other over it.
//
//	simplertc relay --listen :8443 --pin 1234
//	simplertc call --role callee --id bob --url ws://host:8443/ws
//	simplertc call --role caller --id alice --peer bob --url ws://host:8443/ws
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1ureka/simplertc/internal/config"
	"github.com/1ureka/simplertc/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand.
type cli struct {
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "simplertc",
		Short:         "Two-party WebRTC calls over a WebSocket signaling relay.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().Bool("trace", false, "Enable trace logging, including pion internals")
	root.PersistentFlags().String("pin", "", "Relay PIN")

	root.AddCommand(c.newRelayCmd(), c.newCallCmd())
	return root
}

// viper builds the configuration source for cmd: flags in bindings win over
// SIMPLERTC_* variables, which win over the config file.
func (c *cli) viper(cmd *cobra.Command, bindings map[string]string) (*viper.Viper, error) {
	v, err := config.NewViper(c.cfgFile)
	if err != nil {
		return nil, err
	}

	bindings[config.KeyDebug] = "debug"
	bindings[config.KeyPIN] = "pin"
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return nil, fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, err
		}
	}

	if v.GetBool(config.KeyDebug) {
		util.EnableDebug()
	}
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		util.EnableTrace()
	}

	pterm.Info.Printfln("simplertc — v%s", version)
	pterm.Println()
	return v, nil
}
