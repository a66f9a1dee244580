package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/agent"
	"github.com/parasync/parasync/internal/quictransport"
)

type statusOptions struct {
	Host string
	Port int
	QUIC bool
}

func newStatusCmd() *cobra.Command {
	opts := &statusOptions{Port: 9876}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Ping a running parasync server/agent and report round-trip latency",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.Host = args[0]
			return runStatus(opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Port, "port", opts.Port, "Port to connect to")
	f.BoolVar(&opts.QUIC, "quic", false, "Query a quic-server instead of a TCP agent")
	return cmd
}

func runStatus(opts *statusOptions) error {
	if opts.QUIC {
		return statusQUIC(opts)
	}
	return statusAgent(opts)
}

func statusAgent(opts *statusOptions) error {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	defer conn.Close()

	client, err := agent.Dial(conn, nil)
	if err != nil {
		return fmt.Errorf("handshake with %s: %w", addr, err)
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		return fmt.Errorf("ping %s: %w", addr, err)
	}
	fmt.Fprintf(os.Stdout, "%s: up, agent protocol, rtt %s\n", addr, time.Since(start).Round(time.Microsecond))
	return nil
}

func statusQUIC(opts *statusOptions) error {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := quictransport.NewClient(ctx, addr, quictransport.DefaultClientConfig(opts.Host))
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	defer client.Close()

	rtt, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping %s: %w", addr, err)
	}
	fmt.Fprintf(os.Stdout, "%s: up, QUIC transport, rtt %s\n", addr, rtt.Round(time.Microsecond))
	return nil
}
