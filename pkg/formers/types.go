// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"io"
	"io/fs"
	"log/slog"
	"time"
)

// Settings configures a Hub.
//
// Only CacheDir is usually worth changing. Templates defaults to the
// directory tree under ProjectDir; callers embedding their templates pass an
// fs.FS instead.
//
// Example:
//
//	cfg := formers.DefaultSettings()
//	cfg.CacheDir = "/data/formerhub"
//	cfg.Templates = assets.Templates()
type Settings struct {
	// CacheDir is the cache root. Bare identifiers resolve to
	// <CacheDir>/<family>/<id>.yaml, checkpoints to <id>.ckpt next to it.
	// If empty, defaults to "./checkpoint_download".
	CacheDir string

	// ProjectDir is where default templates are read from when Templates is
	// nil: <ProjectDir>/configs/<family>/model_config/<id>.yaml.
	ProjectDir string

	// Templates holds the default configuration templates. Paths inside it
	// follow configs/<family>/model_config/<id>.yaml.
	Templates fs.FS

	// Endpoint is the base URL checkpoints are fetched from, as
	// <Endpoint>/<family>/<id>.ckpt. Vocabulary files of bare-name
	// tokenizers come from <Endpoint>/<family>/<file>. Empty disables
	// fetching.
	Endpoint string

	// Token is sent as a bearer token on fetches.
	Token string

	// LockTimeout bounds how long a resolver waits for the cache lock of a
	// family. Zero waits until the context is done.
	LockTimeout time.Duration

	// BareOnly treats every identifier as a bare name. Local files and
	// directories are never consulted. The HTTP server sets it.
	BareOnly bool

	// Logger receives debug and info records. Nil discards them.
	Logger *slog.Logger

	// Progress receives resolution and fetch events. May be nil.
	Progress ProgressFunc
}

// DefaultSettings returns Settings with the defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		CacheDir:   "./checkpoint_download",
		ProjectDir: ".",
	}
}

// ProgressEvent reports what a Hub is doing.
//
// Event is one of:
//   - "resolve_start": resolution of Identifier began
//   - "cache_hit": the cached config or checkpoint was reused
//   - "template_copy": a default template was copied into the cache
//   - "fetch_start", "fetch_progress", "fetch_done": checkpoint transfer
//   - "built": an object of Type was constructed
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level,omitempty"`
	Event      string    `json:"event"`
	Identifier string    `json:"identifier,omitempty"`
	Family     string    `json:"family,omitempty"`
	Path       string    `json:"path,omitempty"`
	Type       string    `json:"type,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressFunc receives progress events. It may be called from the goroutine
// running a server job, so implementations shared across jobs must be safe
// for concurrent use.
type ProgressFunc func(ProgressEvent)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func (f ProgressFunc) emit(ev ProgressEvent) {
	if f == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Level == "" {
		ev.Level = "info"
	}
	f(ev)
}
