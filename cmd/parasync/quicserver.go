package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/quictransport"
)

type quicServerOptions struct {
	Listen   string
	Root     string
	CertFile string
	KeyFile  string
	Hostname string
	CertDir  string
}

func newQUICServerCmd() *cobra.Command {
	opts := &quicServerOptions{Listen: ":9877", Root: "."}
	cmd := &cobra.Command{
		Use:   "quic-server",
		Short: "Serve a directory over the QUIC/TLS 1.3 transport",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runQUICServer(opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Listen, "listen", opts.Listen, "UDP address to listen on")
	f.StringVar(&opts.Root, "root", opts.Root, "Directory to serve")
	f.StringVar(&opts.CertFile, "cert", "", "TLS certificate file (generates a cached self-signed cert if empty)")
	f.StringVar(&opts.KeyFile, "key", "", "TLS key file")
	f.StringVar(&opts.Hostname, "hostname", "localhost", "SAN hostname for a generated self-signed certificate")
	f.StringVar(&opts.CertDir, "cert-dir", "", "Directory to cache a generated self-signed cert under (default: no caching)")
	return cmd
}

func runQUICServer(opts *quicServerOptions) error {
	cert, err := resolveCert(opts)
	if err != nil {
		return err
	}

	cfg := quictransport.DefaultServerConfig(opts.Listen, cert)
	srv, err := quictransport.NewServer(cfg, opts.Root)
	if err != nil {
		return err
	}
	defer srv.Close()

	fmt.Fprintf(os.Stdout, "parasync quic-server listening on %s, serving %s\n", srv.Addr(), opts.Root)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return srv.Serve(ctx)
}

func resolveCert(opts *quicServerOptions) (*quictransport.CertificateManager, error) {
	if opts.CertFile != "" {
		return quictransport.FromFiles(opts.CertFile, opts.KeyFile)
	}
	if opts.CertDir != "" {
		certPath := opts.CertDir + "/quic-cert.pem"
		keyPath := opts.CertDir + "/quic-key.pem"
		if cert, err := quictransport.FromFiles(certPath, keyPath); err == nil {
			return cert, nil
		}
		cert, err := quictransport.GenerateSelfSigned(opts.Hostname)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(opts.CertDir, 0o700); err == nil {
			_ = cert.SaveToFiles(certPath, keyPath)
		}
		return cert, nil
	}
	return quictransport.GenerateSelfSigned(opts.Hostname)
}
