// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Err joins every error into one, or returns nil when the result is valid.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		result.AddError("log_level", fmt.Sprintf("unknown log level %q", cfg.LogLevel))
	}

	if len(cfg.Servers) == 0 {
		result.AddError("servers", "at least one server profile is required")
	} else if _, ok := cfg.Servers[cfg.DefaultServer]; !ok {
		result.AddError("default_server", fmt.Sprintf("no server profile named %q", cfg.DefaultServer))
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ValidateServer("servers."+name, cfg.Servers[name], result)
	}

	return result
}

// ValidateServer checks one profile, reporting problems under the field prefix.
func ValidateServer(prefix string, s Server, result *ValidationResult) {
	if strings.TrimSpace(s.Address) == "" {
		result.AddError(prefix+".address", "address is required")
	} else if host, port, err := net.SplitHostPort(s.Address); err != nil {
		result.AddError(prefix+".address", fmt.Sprintf("invalid address %q: %v", s.Address, err))
	} else {
		if host == "" {
			result.AddError(prefix+".address", "host is required")
		}
		if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			result.AddError(prefix+".address", fmt.Sprintf("invalid port %q", port))
		}
	}

	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil {
			result.AddError(prefix+".timeout", fmt.Sprintf("invalid duration %q", s.Timeout))
		} else if d < 0 {
			result.AddWarning(prefix+".timeout", "negative timeout disables the operation time limit")
		}
	}

	if s.Password == "" {
		result.AddWarning(prefix+".password", "password is empty")
	}
}
