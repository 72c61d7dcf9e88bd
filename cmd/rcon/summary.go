// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/schultz-is/srcds-rcon"
)

type entry struct {
	command  string
	bytes    int
	duration time.Duration
	err      error
}

// result is a short description of how the command ended.
func (e entry) result() string {
	if e.err == nil {
		return "ok"
	}
	var rerr *rcon.Error
	if errors.As(e.err, &rerr) {
		return rerr.Kind.String()
	}
	return "error"
}

// history records executed commands for the -summary table.
type history []entry

func (h *history) add(command string, n int, d time.Duration, err error) {
	*h = append(*h, entry{command: command, bytes: n, duration: d, err: err})
}

func (h history) render(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Command", "Bytes", "Duration", "Result"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range h {
		tw.Append([]string{
			e.command,
			fmt.Sprintf("%d", e.bytes),
			e.duration.Round(time.Millisecond).String(),
			e.result(),
		})
	}

	tw.Render()
}
