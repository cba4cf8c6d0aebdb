package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"domestia-go-home/internal/discovery"
	"domestia-go-home/internal/network"
	"domestia-go-home/internal/protocol"
)

// toolFlags are shared by the one-shot commands that talk to a controller
// directly.
type toolFlags struct {
	host    string
	port    int
	timeout time.Duration
	verbose bool
}

func (f *toolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "Controller host or IP address")
	cmd.Flags().IntVar(&f.port, "port", network.DefaultPort, "Controller TCP port")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Second, "Per-request timeout")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log protocol traffic to stderr")
	_ = cmd.MarkFlagRequired("host")
}

func (f *toolFlags) dial(ctx context.Context, stderr io.Writer) (*network.Client, *slog.Logger, error) {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	client := network.New(network.Addr(f.host, f.port), logger)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", client.Addr(), err)
	}
	return client, logger, nil
}

func newDiscoverCmd() *cobra.Command {
	var f toolFlags
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the outputs of a controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, logger, err := f.dial(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			devs, err := discovery.New(client, f.timeout, logger).LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devs)
		},
	}
	f.register(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var f toolFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the decoded state of every output once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, logger, err := f.dial(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			devs, err := discovery.New(client, f.timeout, logger).LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := client.ReadStatus(cmd.Context(), f.timeout)
			if err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			states, ok := discovery.DecodeStatus(raw)
			if !ok {
				return fmt.Errorf("status reply of %d bytes: %w", len(raw), discovery.ErrShortResponse)
			}
			discovery.Apply(devs, states)
			return printStatus(cmd.OutOrStdout(), devs, states)
		},
	}
	f.register(cmd)
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		f     toolFlags
		await bool
	)
	cmd := &cobra.Command{
		Use:   "send <byte>...",
		Short: "Send a raw command and optionally print the reply",
		Example: `  # read the type table
  domestia-home send --host 192.168.1.50 --await 66

  # switch output 1 on
  domestia-home send --host 192.168.1.50 150 1 0xFE`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseBytes(args)
			if err != nil {
				return err
			}
			payload := rawCommand(body)
			client, _, err := f.dial(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			op := protocol.OpName(protocol.CommandOp(payload))
			if !await {
				if err := client.Send(cmd.Context(), payload); err != nil {
					return err
				}
				fmt.Fprintf(out, "sent %s\n", op)
				return nil
			}
			reply, err := client.SendAwait(cmd.Context(), payload, f.timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s reply (%d bytes): % x\n", op, len(reply), reply)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&await, "await", false, "Wait for and print the reply")
	return cmd
}

func newMACCmd() *cobra.Command {
	var f toolFlags
	cmd := &cobra.Command{
		Use:   "mac",
		Short: "Ask the controller for its MAC address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := f.dial(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			reply, err := client.SendAwait(cmd.Context(), protocol.MACRequest(), f.timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatMAC(reply))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// formatMAC renders a 6-byte reply as a colon separated MAC. Other replies
// are printed as hex.
func formatMAC(reply []byte) string {
	if len(reply) != 6 {
		return fmt.Sprintf("unexpected reply (%d bytes): % X", len(reply), reply)
	}
	parts := make([]string, len(reply))
	for i, b := range reply {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// parseBytes parses decimal, 0x hex or 0 octal byte values.
func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, 0, len(args))
	for _, a := range args {
		for _, field := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ' ' }) {
			v, err := strconv.ParseUint(field, 0, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid byte %q: %w", field, err)
			}
			out = append(out, byte(v))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bytes to send")
	}
	return out, nil
}

// rawCommand prepends the command header unless body already starts with
// the marker byte.
func rawCommand(body []byte) []byte {
	if body[0] == protocol.Marker {
		return body
	}
	cmd := make([]byte, 0, protocol.HeaderLen+len(body))
	cmd = append(cmd, protocol.Marker, 0x00, 0x00, byte(len(body)))
	return append(cmd, body...)
}

func deviceName(d discovery.Device) string {
	if name := d.DisplayName(); name != "" {
		return name
	}
	return discovery.FallbackName(d.DeviceID())
}

func printDevices(w io.Writer, devs []discovery.Device) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOUTPUT\tTYPE\tCATEGORY\tNAME")
	for _, d := range devs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n",
			d.DeviceID(), d.DeviceID()+1, d.OutputType(), d.Category(), deviceName(d))
	}
	return tw.Flush()
}

func printStatus(w io.Writer, devs []discovery.Device, states []byte) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE")
	for _, d := range devs {
		var state string
		switch v := d.(type) {
		case *discovery.Light:
			state = "off"
			if v.On {
				state = "on"
			}
			if v.Type.IsDimmer() {
				state += fmt.Sprintf(" (level %d)", v.Level)
			}
		case *discovery.Cover:
			state = fmt.Sprintf("%d%%", v.Position)
			switch {
			case v.Closing:
				state += " closing"
			case v.Opening:
				state += " opening"
			}
		default:
			id := d.DeviceID()
			if id >= len(states) {
				continue
			}
			state = fmt.Sprintf("raw %d", states[id])
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", d.DeviceID(), deviceName(d), state)
	}
	return tw.Flush()
}
