// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Command rcon executes commands on a Source dedicated server over RCON.
//
// Usage:
//
//	rcon [flags] [command ...]
//
// With arguments, the arguments are joined into one command, executed, and the response printed.
// Without arguments, commands are read from stdin one per line until EOF, "quit", or "exit".
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/schultz-is/srcds-rcon"
	"github.com/schultz-is/srcds-rcon/internal/config"
	"github.com/schultz-is/srcds-rcon/internal/logging"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitAuth  = 3
)

const prompt = "rcon> "

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	// A second signal terminates immediately.
	context.AfterFunc(ctx, stop)

	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath   string
	server       string
	address      string
	password     string
	timeout      string
	singlePacket bool
	logLevel     string
	summary      bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rcon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: rcon [flags] [command ...]")
		fs.PrintDefaults()
	}

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML or TOML config file")
	fs.StringVar(&opts.server, "server", "", "server profile to use (default: the config's default_server)")
	fs.StringVar(&opts.address, "address", "", "server address as host:port, overriding the profile")
	fs.StringVar(&opts.password, "password", "", "RCON password, overriding the profile")
	fs.StringVar(&opts.timeout, "timeout", "", "per-operation timeout such as 5s, overriding the profile")
	fs.BoolVar(&opts.singlePacket, "single-packet", false, "read exactly one packet per response")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	fs.BoolVar(&opts.summary, "summary", false, "print a table of executed commands when done")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "rcon: %v\n", err)
		return exitUsage
	}
	if explicit["log-level"] {
		cfg.LogLevel = opts.logLevel
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Output:  stderr,
		NoColor: !isTerminal(stderr),
	})

	name := opts.server
	if name == "" {
		name = cfg.DefaultServer
	}
	profile, err := cfg.Profile(name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to select server profile")
		return exitUsage
	}
	if explicit["address"] {
		profile.Address = opts.address
	}
	if explicit["password"] {
		profile.Password = opts.password
	}
	if explicit["timeout"] {
		profile.Timeout = opts.timeout
	}
	if explicit["single-packet"] {
		profile.SinglePacket = opts.singlePacket
	}

	result := config.Validate(&config.Config{
		DefaultServer: name,
		LogLevel:      cfg.LogLevel,
		Servers:       map[string]config.Server{name: profile},
	})
	for _, w := range result.Warnings {
		logger.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !result.IsValid() {
		for _, e := range result.Errors {
			logger.Error().Str("field", e.Field).Msg(e.Message)
		}
		return exitUsage
	}

	clientConfig, err := profile.ClientConfig()
	if err != nil {
		logger.Error().Err(err).Msg("invalid server profile")
		return exitUsage
	}
	clientConfig.Logger = logging.NewSlogLogger(logging.Component(logger, "rcon"))

	log := logger.With().Str("server", name).Str("address", profile.Address).Logger()

	client, err := rcon.Dial(ctx, profile.Address, clientConfig)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect")
		return exitError
	}
	defer client.Close()

	if err := client.Authenticate(ctx, profile.Password); err != nil {
		log.Error().Err(err).Msg("failed to authenticate")
		if errors.Is(err, rcon.ErrAuth) {
			return exitAuth
		}
		return exitError
	}
	log.Debug().Msg("authenticated")

	sh := &shell{
		client: client,
		out:    stdout,
		log:    log,
	}

	var code int
	if fs.NArg() > 0 {
		code = sh.once(ctx, strings.Join(fs.Args(), " "))
	} else {
		code = sh.loop(ctx, stdin, isTerminal(stdin))
	}

	if opts.summary {
		sh.history.render(stdout)
	}
	return code
}

// shell executes commands on an authenticated client and records them.
type shell struct {
	client  *rcon.Client
	out     io.Writer
	log     zerolog.Logger
	history history
}

// once executes a single command.
func (sh *shell) once(ctx context.Context, command string) int {
	if err := sh.exec(ctx, command); err != nil {
		return exitError
	}
	return exitOK
}

// loop executes commands read line by line from in. A protocol or transport failure ends the
// loop because the connection can no longer be trusted.
func (sh *shell) loop(ctx context.Context, in io.Reader, interactive bool) int {
	code := exitOK
	scanner := bufio.NewScanner(in)

	for {
		if interactive {
			fmt.Fprint(sh.out, prompt)
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return code
		}

		if err := sh.exec(ctx, line); err != nil {
			code = exitError
			if errors.Is(err, rcon.ErrProtocol) || errors.Is(err, rcon.ErrTransport) {
				return code
			}
		}
	}

	if err := scanner.Err(); err != nil {
		sh.log.Error().Err(err).Msg("failed to read commands")
		return exitError
	}
	if interactive {
		fmt.Fprintln(sh.out)
	}
	return code
}

func (sh *shell) exec(ctx context.Context, command string) error {
	start := time.Now()
	resp, err := sh.client.Execute(ctx, command)
	sh.history.add(command, len(resp), time.Since(start), err)
	if err != nil {
		sh.log.Error().Err(err).Str("command", command).Msg("failed to execute command")
		return err
	}

	if resp != "" {
		fmt.Fprint(sh.out, resp)
		if !strings.HasSuffix(resp, "\n") {
			fmt.Fprintln(sh.out)
		}
	}
	return nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
