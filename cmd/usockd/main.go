// File: cmd/usockd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// usockd hosts the endpoints of a configuration document until SIGINT or
// SIGTERM.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "usockd: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config    string
	protocol  string
	role      string
	address   string
	port      uint16
	name      string
	logLevel  string
	logFormat string
	capacity  int
	watch     bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "usockd",
		Short: "Multiplexed TCP/UDP socket endpoints",
		Long: `usockd opens every endpoint of its configuration and serves them from
one dispatch loop and one sender loop.

Without --config a single TCP server on 127.0.0.1:8080 answers every
payload with "Hey Client!" and a running count. The endpoint flags
override the first endpoint of the document.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := resolveDocument(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), doc, f, cmd.ErrOrStderr())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fl.StringVar(&f.protocol, "protocol", "tcp", "endpoint protocol (tcp|udp)")
	fl.StringVar(&f.role, "role", "server", "endpoint role (client|server)")
	fl.StringVar(&f.address, "address", "127.0.0.1", "IPv4 address to bind or connect to")
	fl.Uint16Var(&f.port, "port", 8080, "port to bind or connect to")
	fl.StringVar(&f.name, "name", "Universal_Socket->Socket_Tester", "endpoint display name")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	fl.StringVar(&f.logFormat, "log-format", "text", "log format (text|json)")
	fl.IntVar(&f.capacity, "capacity", 0, "registry capacity (0 keeps the configured value)")
	fl.BoolVar(&f.watch, "watch", false, "reload log level and reply prefix when the config file changes")
	return cmd
}
