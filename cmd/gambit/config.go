package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gordian-engine/gambit"
)

const envPrefix = "GAMBIT_"

// config is the connect command's configuration.
// Every field is read from a GAMBIT_ prefixed environment variable
// and then overridden by any flag set on the command line.
type config struct {
	Host string `env:"HOST" envDefault:"localhost"`

	AuthPort        int `env:"AUTH_PORT" envDefault:"13352"`
	KeyExchangePort int `env:"KEY_EXCHANGE_PORT" envDefault:"13351"`
	GamePort        int `env:"GAME_PORT" envDefault:"13350"`

	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	TickRate         int           `env:"TICK_RATE" envDefault:"30"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`

	// PEM file holding the certificate authority that signed the server certificate.
	// The system roots are used when empty.
	CACertFile         string `env:"CA_CERT"`
	InsecureSkipVerify bool   `env:"INSECURE_SKIP_VERIFY"`

	// Address for a Prometheus metrics listener; disabled when empty.
	MetricsAddr string `env:"METRICS_ADDR"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// loadConfig parses the configuration from environ,
// or from the process environment if environ is nil.
func loadConfig(environ map[string]string) (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// validate reports every problem with the final configuration.
func (c config) validate() error {
	var errs error

	if c.Host == "" {
		errs = errors.Join(errs, errors.New("host must not be empty"))
	}
	for name, port := range map[string]int{
		"auth port":         c.AuthPort,
		"key exchange port": c.KeyExchangePort,
		"game port":         c.GamePort,
	} {
		if port <= 0 || port > 65535 {
			errs = errors.Join(errs, fmt.Errorf("%s must be in 1-65535 (got %d)", name, port))
		}
	}
	if c.Username == "" {
		errs = errors.Join(errs, errors.New("username must be set"))
	}
	if c.TickRate <= 0 || c.TickRate > gambit.MaxTickRate {
		errs = errors.Join(errs, fmt.Errorf(
			"tick rate must be in 1-%d (got %d)", gambit.MaxTickRate, c.TickRate,
		))
	}
	if c.HandshakeTimeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf(
			"handshake timeout must be positive (got %s)", c.HandshakeTimeout,
		))
	}

	return errs
}

func (c config) authAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.AuthPort))
}

func (c config) keyExchangeAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.KeyExchangePort))
}

func (c config) gameAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.GamePort))
}
