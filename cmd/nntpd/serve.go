package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nntpd/nntpd/internal/nntpd"
	"github.com/nntpd/nntpd/internal/store/memstore"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the NNTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":1119", "cleartext listen address")
	cmd.Flags().String("tls-listen", "", "implicit-TLS listen address (empty disables)")
	cmd.Flags().String("tls-cert", "", "TLS certificate file (PEM)")
	cmd.Flags().String("tls-key", "", "TLS private key file (PEM)")
	cmd.Flags().Bool("tls-self-signed", false, "generate an ephemeral self-signed certificate instead of loading one")
	cmd.Flags().String("path-host", "localhost", "hostname recorded in generated Path/Message-ID headers")
	cmd.Flags().String("hierarchy-delimiter", ".", "catalog name component separator")
	cmd.Flags().Bool("posting-allowed", true, "allow posting by default")
	cmd.Flags().Bool("require-auth", false, "require AUTHINFO before GROUP, LISTGROUP, POST and IHAVE")
	cmd.Flags().Duration("idle-timeout", 10*time.Minute, "connection idle timeout")
	cmd.Flags().Duration("write-timeout", 30*time.Second, "per-write deadline")
	cmd.Flags().Duration("shutdown-timeout", 15*time.Second, "grace period before force-closing sessions on shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := bindConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := nntpd.DefaultConfig()
	cfg.PathHost = v.GetString("path-host")
	cfg.HierarchyDelimiter = v.GetString("hierarchy-delimiter")
	cfg.PostingAllowed = v.GetBool("posting-allowed")
	cfg.RequireAuth = v.GetBool("require-auth")
	cfg.IdleTimeout = v.GetDuration("idle-timeout")
	cfg.WriteTimeout = v.GetDuration("write-timeout")

	cfg.Endpoints = append(cfg.Endpoints, nntpd.Endpoint{
		Address:  v.GetString("listen"),
		Security: nntpd.Cleartext,
	})

	switch {
	case v.GetBool("tls-self-signed"):
		cert, err := nntpd.SelfSignedCertificate(cfg.PathHost)
		if err != nil {
			return fmt.Errorf("nntpd: generating self-signed certificate: %w", err)
		}
		cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	case v.GetString("tls-cert") != "":
		cert, err := tls.LoadX509KeyPair(v.GetString("tls-cert"), v.GetString("tls-key"))
		if err != nil {
			return fmt.Errorf("nntpd: loading TLS material: %w", err)
		}
		cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	if tlsListen := v.GetString("tls-listen"); tlsListen != "" {
		if cfg.TLSConfig == nil {
			return fmt.Errorf("nntpd: --tls-listen requires TLS material (--tls-cert/--tls-key or --tls-self-signed)")
		}
		cfg.Endpoints = append(cfg.Endpoints, nntpd.Endpoint{
			Address:  tlsListen,
			Security: nntpd.ImplicitTLS,
		})
	}

	backing := memstore.New()
	srv := nntpd.NewServer(cfg, backing, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	log.Infow("nntpd listening", "endpoints", cfg.Endpoints)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	return srv.Shutdown(shutdownCtx, v.GetDuration("shutdown-timeout"))
}
