// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Package config loads the server profiles used by the rcon command.
//
// Profiles live in a YAML or TOML file:
//
//	default_server: local
//	log_level: info
//	servers:
//	  local:
//	    address: 127.0.0.1:27015
//	    password: hunter2
//	    timeout: 10s
//	  minecraft:
//	    address: mc.example.com:25575
//	    single_packet: true
//
// Values from the file are merged over [Default]; fields a profile leaves out take the default
// profile's values. The RCON_ADDRESS and RCON_PASSWORD environment variables override the
// selected profile.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/schultz-is/srcds-rcon"
)

const (
	// EnvConfigDir overrides the directory searched for a config file.
	EnvConfigDir = "RCON_CONFIG_DIR"

	// EnvAddress overrides the address of the selected profile.
	EnvAddress = "RCON_ADDRESS"

	// EnvPassword overrides the password of the selected profile.
	EnvPassword = "RCON_PASSWORD"

	// FileName is the base name of the config file, without extension.
	FileName = "rcon"

	// DefaultServerName is the profile used when none is selected.
	DefaultServerName = "default"
)

var (
	ErrUnknownFormat = errors.New("unsupported config file extension")
	ErrUnknownServer = errors.New("unknown server profile")
)

// extensions lists supported config file extensions in lookup order.
var extensions = []string{".yaml", ".yml", ".toml"}

// Config is the root configuration structure.
type Config struct {
	DefaultServer string            `yaml:"default_server" toml:"default_server"`
	LogLevel      string            `yaml:"log_level" toml:"log_level"`
	Servers       map[string]Server `yaml:"servers" toml:"servers"`
}

// Server is a single RCON server profile.
type Server struct {
	Address      string `yaml:"address" toml:"address"`
	Password     string `yaml:"password" toml:"password"`
	Timeout      string `yaml:"timeout" toml:"timeout"`
	SinglePacket bool   `yaml:"single_packet" toml:"single_packet"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		DefaultServer: DefaultServerName,
		LogLevel:      "info",
		Servers: map[string]Server{
			DefaultServerName: defaultServer(),
		},
	}
}

// defaultServer is the template that profiles from a file are filled in from.
func defaultServer() Server {
	return Server{
		Address: fmt.Sprintf("127.0.0.1:%d", rcon.DefaultPort),
		Timeout: rcon.DefaultClientTimeout.String(),
	}
}

// Dir returns the directory searched for a config file.
// Resolution order: $RCON_CONFIG_DIR > $XDG_CONFIG_HOME/rcon > ~/.config/rcon
func Dir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "rcon")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rcon")
}

// Find returns the first config file present in [Dir].
func Find() (string, bool) {
	dir := Dir()
	if dir == "" {
		return "", false
	}
	for _, ext := range extensions {
		p := filepath.Join(dir, FileName+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// Load reads the config file at path and merges it over [Default]. An empty path searches [Dir];
// when nothing is found the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var ok bool
		if path, ok = Find(); !ok {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	tmp := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, tmp)
	case ".toml":
		err = toml.Unmarshal(data, tmp)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config from %s: %w", path, err)
	}

	// Maps are merged entry by entry, so complete each profile before the top-level merge.
	for name, fileServer := range tmp.Servers {
		base, ok := cfg.Servers[name]
		if !ok {
			base = defaultServer()
		}
		if err := mergo.Merge(&base, fileServer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server %q from %s: %w", name, path, err)
		}
		tmp.Servers[name] = base
	}

	if err := mergo.Merge(cfg, tmp, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config from %s: %w", path, err)
	}

	return cfg, nil
}

// Profile returns the named server profile with environment overrides applied. An empty name
// selects the default server.
func (c *Config) Profile(name string) (Server, error) {
	if name == "" {
		name = c.DefaultServer
	}
	s, ok := c.Servers[name]
	if !ok {
		return Server{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}

	if addr := os.Getenv(EnvAddress); addr != "" {
		s.Address = addr
	}
	if pw := os.Getenv(EnvPassword); pw != "" {
		s.Password = pw
	}
	return s, nil
}

// ClientConfig converts the profile into settings for an [rcon.Client].
func (s Server) ClientConfig() (rcon.ClientConfig, error) {
	cc := rcon.ClientConfig{SinglePacket: s.SinglePacket}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return rcon.ClientConfig{}, fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
		}
		cc.Timeout = d
	}
	return cc, nil
}
