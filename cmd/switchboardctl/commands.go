// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/connection"
	"github.com/bureau-foundation/switchboard/lib/control"
	"github.com/bureau-foundation/switchboard/lib/version"
)

// SocketEnvironmentVariable overrides the default control socket path.
const SocketEnvironmentVariable = "SWITCHBOARD_SOCKET"

// usageError is a command-line mistake. It exits with status 2.
type usageError struct {
	message string
}

func (e *usageError) Error() string { return e.message }
func (e *usageError) ExitCode() int { return 2 }

func usagef(format string, args ...any) error {
	return &usageError{message: fmt.Sprintf(format, args...)}
}

// globals are the flags shared by every command.
type globals struct {
	socket  string
	json    bool
	raw     bool
	timeout time.Duration
	stdout  io.Writer
}

// command is one switchboardctl subcommand.
type command struct {
	name    string
	summary string
	flags   func(*pflag.FlagSet)
	run     func(ctx context.Context, g *globals, args []string) error
}

func defaultSocket() string {
	if socket := os.Getenv(SocketEnvironmentVariable); socket != "" {
		return socket
	}
	if cfg, err := config.Load(); err == nil {
		return cfg.Control.SocketPath
	}
	return config.DefaultSocketPath()
}

func run(args []string, stdout io.Writer) error {
	g := &globals{stdout: stdout}
	var showVersion bool

	flagSet := pflag.NewFlagSet("switchboardctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&g.socket, "socket", "", "control socket path (default: $"+SocketEnvironmentVariable+", then the config file)")
	flagSet.BoolVar(&g.json, "json", false, "print results as JSON")
	flagSet.BoolVar(&g.raw, "raw", false, "print the raw CBOR response in diagnostic notation")
	flagSet.DurationVar(&g.timeout, "timeout", 10*time.Second, "how long to wait for the daemon")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, flagSet)
			return nil
		}
		return &usageError{message: err.Error()}
	}

	if showVersion {
		version.Fprint(stdout, "switchboardctl")
		return nil
	}
	if g.json && g.raw {
		return usagef("--json and --raw are mutually exclusive")
	}
	if flagSet.NArg() == 0 {
		printUsage(stdout, flagSet)
		return usagef("no command given")
	}
	if g.socket == "" {
		g.socket = defaultSocket()
	}

	name := flagSet.Arg(0)
	for _, cmd := range commands() {
		if cmd.name != name {
			continue
		}
		commandFlags := pflag.NewFlagSet("switchboardctl "+name, pflag.ContinueOnError)
		if cmd.flags != nil {
			cmd.flags(commandFlags)
		}
		if err := commandFlags.Parse(flagSet.Args()[1:]); err != nil {
			return &usageError{message: err.Error()}
		}

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		return cmd.run(ctx, g, commandFlags.Args())
	}
	return usagef("unknown command %q", name)
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: switchboardctl [flags] <command> [args]\n\nCommands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-13s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}

func commands() []command {
	var connectOptions struct {
		network     string
		handler     string
		acceptRate  float64
		acceptBurst int
	}
	var forceful bool

	return []command{
		{
			name:    "list",
			summary: "show listeners",
			run: func(ctx context.Context, g *globals, args []string) error {
				if len(args) != 0 {
					return usagef("list takes no arguments")
				}
				var listeners []connection.ListenerStatus
				return g.call(ctx, control.ActionList, nil, &listeners, func() error {
					return printListeners(g.stdout, listeners)
				})
			},
		},
		{
			name:    "connections",
			summary: "show connections a listener is serving",
			run: func(ctx context.Context, g *globals, args []string) error {
				if len(args) != 1 {
					return usagef("usage: connections NAME")
				}
				var connections []connection.ConnectionInfo
				return g.call(ctx, control.ActionConnections, map[string]any{"name": args[0]}, &connections, func() error {
					return printConnections(g.stdout, connections)
				})
			},
		},
		{
			name:    "connect",
			summary: "open a new listener",
			flags: func(flags *pflag.FlagSet) {
				flags.StringVar(&connectOptions.network, "network", "tcp", "tcp, tcp4, tcp6, or unix")
				flags.StringVar(&connectOptions.handler, "handler", "echo", "handler kind: echo, greeter, digest, or status")
				flags.Float64Var(&connectOptions.acceptRate, "accept-rate", 0, "maximum connections accepted per second (0 = unlimited)")
				flags.IntVar(&connectOptions.acceptBurst, "accept-burst", 1, "accept rate burst")
			},
			run: func(ctx context.Context, g *globals, args []string) error {
				if len(args) != 2 {
					return usagef("usage: connect NAME ADDRESS")
				}
				fields := map[string]any{
					"name":    args[0],
					"address": args[1],
					"network": connectOptions.network,
					"handler": connectOptions.handler,
				}
				if connectOptions.acceptRate > 0 {
					fields["accept_rate"] = connectOptions.acceptRate
					fields["accept_burst"] = connectOptions.acceptBurst
				}
				var status connection.ListenerStatus
				return g.call(ctx, control.ActionConnect, fields, &status, func() error {
					_, err := fmt.Fprintf(g.stdout, "%s listening on %s %s\n", status.Name, status.Network, status.Address)
					return err
				})
			},
		},
		{
			name:    "disconnect",
			summary: "close a listener and its connections",
			flags: func(flags *pflag.FlagSet) {
				flags.BoolVar(&forceful, "forceful", false, "cancel connections immediately instead of after the grace period")
			},
			run: func(ctx context.Context, g *globals, args []string) error {
				if len(args) != 1 {
					return usagef("usage: disconnect NAME")
				}
				var response control.DisconnectResponse
				fields := map[string]any{"name": args[0], "forceful": forceful}
				return g.call(ctx, control.ActionDisconnect, fields, &response, func() error {
					if response.Incomplete != "" {
						_, err := fmt.Fprintf(g.stdout, "%s disconnected; some connections ignored cancellation: %s\n",
							response.Name, response.Incomplete)
						return err
					}
					_, err := fmt.Fprintf(g.stdout, "%s disconnected\n", response.Name)
					return err
				})
			},
		},
		{
			name:    "actions",
			summary: "list control actions the daemon supports",
			run: func(ctx context.Context, g *globals, args []string) error {
				var actions []string
				return g.call(ctx, control.ActionActions, nil, &actions, func() error {
					for _, action := range actions {
						if _, err := fmt.Fprintln(g.stdout, action); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	}
}

// call performs action and prints the result: as CBOR diagnostic
// notation with --raw, as JSON with --json, otherwise with print.
func (g *globals) call(ctx context.Context, action string, fields map[string]any, result any, print func() error) error {
	if g.raw {
		raw, err := control.CallRaw(ctx, g.socket, action, fields)
		if err != nil {
			return err
		}
		diagnostic, err := codec.Diagnose(raw)
		if err != nil {
			return fmt.Errorf("formatting response: %w", err)
		}
		_, err = fmt.Fprintln(g.stdout, diagnostic)
		return err
	}

	if err := control.Call(ctx, g.socket, action, fields, result); err != nil {
		return err
	}
	if g.json {
		encoder := json.NewEncoder(g.stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	return print()
}

func printListeners(w io.Writer, listeners []connection.ListenerStatus) error {
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "NAME\tNETWORK\tADDRESS\tSTATE\tACTIVE\tACCEPTED\tSINCE")
	for _, listener := range listeners {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			listener.Name, listener.Network, listener.Address, listener.State,
			listener.Active, listener.Accepted, listener.Since.Format(time.RFC3339))
	}
	return table.Flush()
}

func printConnections(w io.Writer, connections []connection.ConnectionInfo) error {
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tREMOTE\tSINCE")
	for _, info := range connections {
		fmt.Fprintf(table, "%s\t%s\t%s\n", info.ID, info.RemoteAddress, info.Since.Format(time.RFC3339))
	}
	if err := table.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, strconv.Itoa(len(connections))+" connections")
	return err
}
