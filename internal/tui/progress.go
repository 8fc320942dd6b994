// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders formerhub progress events on a terminal.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bodaay/formerhub/pkg/formers"
)

// barTemplate prefixes the bar with the file being fetched.
const barTemplate pb.ProgressBarTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }}`

// LiveRenderer turns progress events into status lines and, on an
// interactive terminal, one progress bar per running fetch.
//
// Events are queued and drawn by a single goroutine. Progress updates are
// dropped when the queue is full; every other event is kept.
type LiveRenderer struct {
	out         io.Writer
	verbose     bool
	interactive bool

	mu     sync.Mutex
	closed bool
	events chan formers.ProgressEvent
	done   chan struct{}

	bars    map[string]*pb.ProgressBar
	started map[string]time.Time

	ok   func(a ...any) string
	warn func(a ...any) string
	dim  func(a ...any) string
}

// NewLiveRenderer draws to out. Bars are used only when out is a terminal
// and TERM is not "dumb".
func NewLiveRenderer(out io.Writer, verbose bool) *LiveRenderer {
	lr := &LiveRenderer{
		out:         out,
		verbose:     verbose,
		interactive: isInteractive(out) && ansiOkay(),
		events:      make(chan formers.ProgressEvent, 512),
		done:        make(chan struct{}),
		bars:        map[string]*pb.ProgressBar{},
		started:     map[string]time.Time{},
		ok:          color.New(color.FgGreen).SprintFunc(),
		warn:        color.New(color.FgYellow).SprintFunc(),
		dim:         color.New(color.Faint).SprintFunc(),
	}
	go lr.loop()
	return lr
}

// Handler returns a ProgressFunc feeding the renderer. It is safe for
// concurrent use and becomes a no-op after Close.
func (lr *LiveRenderer) Handler() formers.ProgressFunc {
	return func(ev formers.ProgressEvent) {
		lr.mu.Lock()
		defer lr.mu.Unlock()
		if lr.closed {
			return
		}
		if ev.Event == "fetch_progress" {
			select {
			case lr.events <- ev:
			default:
			}
			return
		}
		lr.events <- ev
	}
}

// Close draws the remaining events and stops the renderer.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.closed {
		lr.mu.Unlock()
		return
	}
	lr.closed = true
	close(lr.events)
	lr.mu.Unlock()
	<-lr.done
}

func (lr *LiveRenderer) loop() {
	defer close(lr.done)
	for ev := range lr.events {
		lr.apply(ev)
	}
	for url, bar := range lr.bars {
		bar.Finish()
		delete(lr.bars, url)
	}
}

func (lr *LiveRenderer) apply(ev formers.ProgressEvent) {
	switch ev.Event {
	case "resolve_start":
		if lr.verbose {
			lr.line(lr.dim("resolving " + ev.Identifier))
		}
	case "cache_hit":
		if lr.verbose {
			lr.line(lr.dim(fmt.Sprintf("cached %s", ev.Path)))
		}
	case "template_copy":
		lr.line(fmt.Sprintf("%s default config for %s -> %s", lr.ok("copied"), ev.Identifier, ev.Path))
	case "fetch_start":
		lr.started[ev.Identifier] = time.Now()
		if !lr.interactive {
			size := "unknown size"
			if ev.Total > 0 {
				size = humanize.Bytes(uint64(ev.Total))
			}
			lr.line(fmt.Sprintf("fetching %s (%s)", ev.Identifier, size))
			return
		}
		bar := barTemplate.New(int(max(ev.Total, 0)))
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", shortName(ev.Path))
		bar.SetWriter(lr.out)
		bar.SetRefreshRate(150 * time.Millisecond)
		bar.Start()
		lr.bars[ev.Identifier] = bar
	case "fetch_progress":
		if bar, ok := lr.bars[ev.Identifier]; ok {
			bar.SetCurrent(ev.Downloaded)
		}
	case "fetch_done":
		if bar, ok := lr.bars[ev.Identifier]; ok {
			bar.SetCurrent(ev.Downloaded)
			bar.Finish()
			delete(lr.bars, ev.Identifier)
		}
		elapsed := ""
		if t, ok := lr.started[ev.Identifier]; ok {
			elapsed = " in " + time.Since(t).Round(time.Millisecond).String()
			delete(lr.started, ev.Identifier)
		}
		lr.line(fmt.Sprintf("%s %s (%s)%s", lr.ok("fetched"), ev.Path, humanize.Bytes(uint64(ev.Downloaded)), elapsed))
	case "built":
		lr.line(fmt.Sprintf("%s %s from %s", lr.ok("built"), ev.Type, ev.Identifier))
	case "error":
		lr.line(lr.warn("error: " + ev.Message))
	default:
		if lr.verbose && ev.Message != "" {
			lr.line(lr.dim(ev.Message))
		}
	}
}

func (lr *LiveRenderer) line(s string) {
	fmt.Fprintln(lr.out, s)
}

func shortName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func isInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
