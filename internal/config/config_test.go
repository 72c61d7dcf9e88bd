// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schultz-is/srcds-rcon"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAddress, "")
	t.Setenv(EnvPassword, "")
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultServerName, cfg.DefaultServer)
	assert.Equal(t, "info", cfg.LogLevel)
	require.Contains(t, cfg.Servers, DefaultServerName)
	assert.Equal(t, "127.0.0.1:27015", cfg.Servers[DefaultServerName].Address)
	assert.Equal(t, "15s", cfg.Servers[DefaultServerName].Timeout)
	assert.True(t, Validate(cfg).IsValid())
}

func TestDir(t *testing.T) {
	t.Run("explicit directory wins", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "/etc/rcon")
		t.Setenv("XDG_CONFIG_HOME", "/home/x/.config")
		assert.Equal(t, "/etc/rcon", Dir())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		t.Setenv("XDG_CONFIG_HOME", "/home/x/.config")
		assert.Equal(t, filepath.Join("/home/x/.config", "rcon"), Dir())
	})
}

func TestLoad(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		dir := t.TempDir()
		p := writeFile(t, dir, "rcon.yaml", `
default_server: local
servers:
  local:
    address: 10.0.0.5:27015
    password: hunter2
    timeout: 3s
  minecraft:
    address: mc.example.com:25575
    single_packet: true
`)

		cfg, err := Load(p)
		require.NoError(t, err)

		assert.Equal(t, "local", cfg.DefaultServer)
		assert.Equal(t, "info", cfg.LogLevel, "unset values keep their defaults")
		assert.Contains(t, cfg.Servers, DefaultServerName)
		assert.Equal(t, Server{Address: "10.0.0.5:27015", Password: "hunter2", Timeout: "3s"}, cfg.Servers["local"])
		assert.True(t, cfg.Servers["minecraft"].SinglePacket)
	})

	t.Run("partial profiles are filled from defaults", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "rcon.yaml", `
servers:
  default:
    password: hunter2
  lan:
    address: 192.168.1.20:27016
`)

		cfg, err := Load(p)
		require.NoError(t, err)

		assert.Equal(t, Server{Address: "127.0.0.1:27015", Password: "hunter2", Timeout: "15s"}, cfg.Servers[DefaultServerName])
		assert.Equal(t, Server{Address: "192.168.1.20:27016", Timeout: "15s"}, cfg.Servers["lan"])
		assert.Empty(t, Validate(cfg).Errors)
	})

	t.Run("toml", func(t *testing.T) {
		dir := t.TempDir()
		p := writeFile(t, dir, "rcon.toml", `
default_server = "tf2"
log_level = "debug"

[servers.tf2]
address = "192.168.1.20:27015"
password = "secret"
`)

		cfg, err := Load(p)
		require.NoError(t, err)

		assert.Equal(t, "tf2", cfg.DefaultServer)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "192.168.1.20:27015", cfg.Servers["tf2"].Address)
		assert.Equal(t, "secret", cfg.Servers["tf2"].Password)
	})

	t.Run("search path", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "rcon.yml", "log_level: warn\n")
		t.Setenv(EnvConfigDir, dir)

		p, ok := Find()
		require.True(t, ok)
		assert.Equal(t, filepath.Join(dir, "rcon.yml"), p)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("nothing found returns defaults", func(t *testing.T) {
		t.Setenv(EnvConfigDir, t.TempDir())

		_, ok := Find()
		assert.False(t, ok)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("unknown extension", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "rcon.ini", "x=1\n")

		_, err := Load(p)
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "rcon.yaml", "servers: [unterminated\n")

		_, err := Load(p)
		assert.ErrorContains(t, err, "failed to parse config")
	})
}

func TestProfile(t *testing.T) {
	cfg := &Config{
		DefaultServer: "a",
		Servers: map[string]Server{
			"a": {Address: "a.example.com:27015", Password: "pa"},
			"b": {Address: "b.example.com:27016", Password: "pb"},
		},
	}

	t.Run("default server", func(t *testing.T) {
		clearEnv(t)

		s, err := cfg.Profile("")
		require.NoError(t, err)
		assert.Equal(t, "a.example.com:27015", s.Address)
	})

	t.Run("named server", func(t *testing.T) {
		clearEnv(t)

		s, err := cfg.Profile("b")
		require.NoError(t, err)
		assert.Equal(t, "pb", s.Password)
	})

	t.Run("unknown server", func(t *testing.T) {
		clearEnv(t)

		_, err := cfg.Profile("c")
		assert.ErrorIs(t, err, ErrUnknownServer)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv(EnvAddress, "override.example.com:1")
		t.Setenv(EnvPassword, "from-env")

		s, err := cfg.Profile("b")
		require.NoError(t, err)
		assert.Equal(t, "override.example.com:1", s.Address)
		assert.Equal(t, "from-env", s.Password)
		assert.Equal(t, "pb", cfg.Servers["b"].Password, "stored profile is untouched")
	})
}

func TestServerClientConfig(t *testing.T) {
	cc, err := Server{Timeout: "250ms", SinglePacket: true}.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, rcon.ClientConfig{Timeout: 250 * time.Millisecond, SinglePacket: true}, cc)

	cc, err = Server{}.ClientConfig()
	require.NoError(t, err)
	assert.Zero(t, cc.Timeout)

	_, err = Server{Timeout: "soon"}.ClientConfig()
	assert.ErrorContains(t, err, `invalid timeout "soon"`)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		errors   []string
		warnings []string
	}{
		{
			name: "valid",
			cfg: &Config{
				DefaultServer: "a",
				LogLevel:      "debug",
				Servers:       map[string]Server{"a": {Address: "host:27015", Password: "pw", Timeout: "5s"}},
			},
		},
		{
			name: "bad level",
			cfg: &Config{
				DefaultServer: "a",
				LogLevel:      "loud",
				Servers:       map[string]Server{"a": {Address: "host:27015", Password: "pw"}},
			},
			errors: []string{"log_level"},
		},
		{
			name:   "no servers",
			cfg:    &Config{LogLevel: "info"},
			errors: []string{"servers"},
		},
		{
			name: "missing default",
			cfg: &Config{
				DefaultServer: "z",
				LogLevel:      "info",
				Servers:       map[string]Server{"a": {Address: "host:27015", Password: "pw"}},
			},
			errors: []string{"default_server"},
		},
		{
			name: "bad profiles",
			cfg: &Config{
				DefaultServer: "a",
				LogLevel:      "info",
				Servers: map[string]Server{
					"a": {Address: "", Password: "pw"},
					"b": {Address: "nohost", Password: "pw"},
					"c": {Address: "host:99999", Password: "pw", Timeout: "later"},
					"d": {Address: ":27015", Timeout: "-1s"},
				},
			},
			errors: []string{
				"servers.a.address",
				"servers.b.address",
				"servers.c.address",
				"servers.c.timeout",
				"servers.d.address",
			},
			warnings: []string{"servers.d.timeout", "servers.d.password"},
		},
	}

	fields := func(vs []ValidationError) []string {
		var out []string
		for _, v := range vs {
			out = append(out, v.Field)
		}
		return out
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(tt.cfg)

			assert.Equal(t, tt.errors, fields(r.Errors))
			assert.Equal(t, tt.warnings, fields(r.Warnings))
			assert.Equal(t, len(tt.errors) == 0, r.IsValid())
			if r.IsValid() {
				assert.NoError(t, r.Err())
			} else {
				assert.ErrorContains(t, r.Err(), tt.errors[0])
			}
		})
	}
}
