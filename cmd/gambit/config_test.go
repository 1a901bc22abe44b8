package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_defaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.Host)
	require.Equal(t, "localhost:13352", cfg.authAddr())
	require.Equal(t, "localhost:13351", cfg.keyExchangeAddr())
	require.Equal(t, "localhost:13350", cfg.gameAddr())
	require.Equal(t, 30, cfg.TickRate)
	require.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Empty(t, cfg.Username)
	require.Empty(t, cfg.MetricsAddr)
}

func TestLoadConfig_environment(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(map[string]string{
		"GAMBIT_HOST":              "::1",
		"GAMBIT_GAME_PORT":         "4000",
		"GAMBIT_USERNAME":          "alice",
		"GAMBIT_TICK_RATE":         "60",
		"GAMBIT_HANDSHAKE_TIMEOUT": "250ms",
		"GAMBIT_LOG_LEVEL":         "DEBUG",

		// Unprefixed variables are ignored.
		"USERNAME": "bob",
	})
	require.NoError(t, err)

	require.Equal(t, "[::1]:4000", cfg.gameAddr())
	require.Equal(t, "[::1]:13352", cfg.authAddr())
	require.Equal(t, "alice", cfg.Username)
	require.Equal(t, 60, cfg.TickRate)
	require.Equal(t, 250*time.Millisecond, cfg.HandshakeTimeout)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfig_badValue(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(map[string]string{
		"GAMBIT_AUTH_PORT": "not-a-port",
	})
	require.Error(t, err)
}

func TestConfig_validate(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(map[string]string{"GAMBIT_USERNAME": "alice"})
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	bad := cfg
	bad.Username = ""
	bad.GamePort = 70000
	bad.TickRate = 0
	bad.HandshakeTimeout = -time.Second

	err = bad.validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "username")
	require.ErrorContains(t, err, "game port")
	require.ErrorContains(t, err, "tick rate")
	require.ErrorContains(t, err, "handshake timeout")
}

func TestConnectCmd_flagsOverrideEnvironment(t *testing.T) {
	t.Setenv("GAMBIT_HOST", "from-env")
	t.Setenv("GAMBIT_TICK_RATE", "20")

	cmd := connectCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--host", "from-flag"}))

	host, err := cmd.Flags().GetString("host")
	require.NoError(t, err)
	require.Equal(t, "from-flag", host)

	rate, err := cmd.Flags().GetInt("tick-rate")
	require.NoError(t, err)
	require.Equal(t, 20, rate)
}
