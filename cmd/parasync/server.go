package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/agent"
)

type serverOptions struct {
	Listen string
}

func newServerCmd() *cobra.Command {
	opts := &serverOptions{Listen: ":9876"}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a long-lived agent-protocol TCP daemon for --direct-tcp transfers",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", opts.Listen, "TCP address to listen on")
	return cmd
}

func runServer(opts *serverOptions) error {
	srv := agent.NewServer()

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	fmt.Fprintf(os.Stdout, "parasync server listening on %s\n", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func(c net.Conn) {
			defer c.Close()
			fmt.Fprintf(os.Stdout, "connection from %s\n", c.RemoteAddr())
			if err := srv.HandleConnection(c); err != nil && err != io.EOF {
				fmt.Fprintf(os.Stderr, "connection error: %v\n", err)
			}
		}(conn)
	}
}
