package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/agent"
)

type agentOptions struct {
	Stdio  bool
	Listen string
}

func newAgentCmd() *cobra.Command {
	opts := &agentOptions{Listen: ":9876"}
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the remote agent, over stdin/stdout (for SSH launch) or TCP",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAgent(opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Stdio, "stdio", false, "Serve one connection over stdin/stdout instead of listening on TCP")
	f.StringVar(&opts.Listen, "listen", opts.Listen, "TCP address to listen on when --stdio is not set")
	return cmd
}

type stdioRW struct{}

func (stdioRW) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioRW) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func runAgent(opts *agentOptions) error {
	srv := agent.NewServer()

	if opts.Stdio {
		err := srv.HandleConnection(stdioRW{})
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	fmt.Fprintf(os.Stderr, "agent listening on %s\n", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func(c net.Conn) {
			defer c.Close()
			if err := srv.HandleConnection(c); err != nil && err != io.EOF {
				fmt.Fprintf(os.Stderr, "agent connection error: %v\n", err)
			}
		}(conn)
	}
}
