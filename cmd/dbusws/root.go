package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nugget/dbus-ws-bridge/internal/buildinfo"
)

var rootCmd = &cobra.Command{
	Use:   "dbusws",
	Short: "dbusws bridges a host's D-Bus session or system bus over WebSocket",
	Long: `dbusws exposes a single bidirectional JSON-framed WebSocket endpoint
that lets a remote client invoke D-Bus methods and subscribe to D-Bus
signals without native D-Bus bindings of its own.`,
	Version: buildinfo.String(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}
