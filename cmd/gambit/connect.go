package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gordian-engine/gambit"
	"github.com/gordian-engine/gambit/gmetrics"
	"github.com/gordian-engine/gambit/gquic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	cfg, envErr := loadConfig(nil)

	var debug bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a game and play from standard input",
		Long: `Authenticate, negotiate a session key, and join the game.

Each line of standard input is one of:

  code [param]   queue an input
  !code [param]  queue an input the server must acknowledge
  /code          queue a debug command
  .pause         stop ticking
  .resume        resume ticking

Interrupt to disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if debug {
				cfg.LogLevel = slog.LevelDebug
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			return runConnect(cmd.Context(), cfg, cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "Server host name")
	f.IntVar(&cfg.AuthPort, "auth-port", cfg.AuthPort, "Authentication endpoint port")
	f.IntVar(&cfg.KeyExchangePort, "key-exchange-port", cfg.KeyExchangePort, "Key exchange endpoint port")
	f.IntVar(&cfg.GamePort, "game-port", cfg.GamePort, "Game endpoint port")
	f.StringVarP(&cfg.Username, "user", "u", cfg.Username, "Username")
	f.StringVarP(&cfg.Password, "password", "p", cfg.Password, "Password")
	f.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "Ticks per second")
	f.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Bound on each startup phase")
	f.StringVar(&cfg.CACertFile, "ca-cert", cfg.CACertFile, "PEM file of the CA that signed the server certificate")
	f.BoolVar(&cfg.InsecureSkipVerify, "insecure-skip-verify", cfg.InsecureSkipVerify, "Do not verify the server certificate")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	f.BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runConnect(ctx context.Context, cfg config, stdin io.Reader, stderr io.Writer) error {
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	tlsConf, err := cfg.tlsConfig()
	if err != nil {
		return err
	}

	uc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}
	defer uc.Close()

	qt := gquic.MakeTransport(uc)
	defer qt.Close()

	var metrics *gmetrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = gmetrics.New(gmetrics.Config{Registry: reg})

		srv, err := serveMetrics(log.With("sys", "metrics"), cfg.MetricsAddr, reg)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	cmds := newCommandQueue(16)

	c := gambit.NewClient(log.With("sys", "client"), gambit.ClientConfig{
		AuthAddr:        cfg.authAddr(),
		KeyExchangeAddr: cfg.keyExchangeAddr(),
		GameAddr:        cfg.gameAddr(),

		Dialer: gquic.Dialer{
			TLSConf:       tlsConf,
			QUICTransport: qt,
			QUICConfig:    gquic.DefaultConfig(),
		},

		HandshakeTimeout: cfg.HandshakeTimeout,

		Engine: gambit.EngineConfig{TickRate: cfg.TickRate},

		Renderer: newLogRenderer(log.With("sys", "renderer"), time.Second),
		Commands: cmds,
		Metrics:  metrics,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.Start(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("failed to join game: %w", err)
	}

	// The scanner cannot be interrupted, so this goroutine is not awaited.
	go func() {
		if err := readInputs(ctx, log.With("sys", "stdin"), stdin, c.Inputs(), cmds, c); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("Stopped reading inputs", "err", err)
			}
			return
		}
		log.Info("Standard input closed; still connected")
	}()

	<-ctx.Done()
	log.Info("Disconnecting")
	cancel()
	c.Wait()

	return nil
}

func (c config) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{
		ServerName: c.Host,
		MinVersion: tls.VersionTLS13,

		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CACertFile)
		}
		tc.RootCAs = pool
	}

	return tc, nil
}

func serveMetrics(log *slog.Logger, addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", "err", err)
		}
	}()
	log.Info("Serving metrics", "addr", ln.Addr().String())

	return srv, nil
}
