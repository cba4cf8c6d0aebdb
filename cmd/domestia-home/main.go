// Domestia-home bridges a Domestia controller to HTTP, MQTT and Lua
// automations.
//
// Usage:
//
//	domestia-home serve --config config.yaml
//	domestia-home discover --host 192.168.1.50
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "domestia-home",
		Short:         "Domestia controller bridge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newDiscoverCmd(),
		newStatusCmd(),
		newSendCmd(),
		newMACCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "domestia-home %s\n", version)
		},
	}
}
