// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// File names and extensions the resolver looks for.
const (
	ConfigExt           = ".yaml"
	CheckpointExt       = ".ckpt"
	TokenizerConfigFile = "tokenizer_config.json"

	lockFile      = ".lock"
	lockRetryWait = 50 * time.Millisecond
)

// Source tells where a resolved configuration came from.
type Source int

const (
	SourceUnresolved Source = iota
	SourceFile
	SourceDirectory
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceDirectory:
		return "directory"
	case SourceCache:
		return "cache"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of resolving an identifier.
type Resolution struct {
	Identifier string `json:"identifier"`
	Source     Source `json:"-"`

	// Path is the configuration file.
	Path string `json:"path"`

	// Dir is the directory Path lives in for directory and cache
	// resolutions; empty for a lone file.
	Dir string `json:"dir,omitempty"`

	// Family is set for cache resolutions.
	Family string `json:"family,omitempty"`

	// Copied reports that the default template was copied by this call.
	Copied bool `json:"copied,omitempty"`
}

// Resolver maps identifiers to configuration files, populating the cache
// from the default templates for bare names.
type Resolver struct {
	CacheDir    string
	Templates   fs.FS
	LockTimeout time.Duration
	BareOnly    bool
	Logger      *slog.Logger
	Progress    ProgressFunc
}

// NewResolver returns a resolver configured from cfg.
func NewResolver(cfg Settings) *Resolver {
	r := &Resolver{
		CacheDir:    cfg.CacheDir,
		Templates:   cfg.Templates,
		LockTimeout: cfg.LockTimeout,
		BareOnly:    cfg.BareOnly,
		Logger:      cfg.Logger,
		Progress:    cfg.Progress,
	}
	if r.CacheDir == "" {
		r.CacheDir = DefaultSettings().CacheDir
	}
	if r.Templates == nil {
		dir := cfg.ProjectDir
		if dir == "" {
			dir = "."
		}
		r.Templates = os.DirFS(dir)
	}
	if r.Logger == nil {
		r.Logger = discardLogger
	}
	return r
}

// TemplatePath is the location of the default template of id inside the
// templates filesystem.
func TemplatePath(family, id string) string {
	return path.Join("configs", family, "model_config", id+ConfigExt)
}

// FamilyDir returns the cache directory of family.
func (r *Resolver) FamilyDir(family string) string {
	return filepath.Join(r.CacheDir, family)
}

// Resolve maps identifier to a configuration file.
//
// An existing file must carry the .yaml extension. An existing directory
// resolves to its lexically first .yaml file. Anything else is a bare
// identifier that must be listed in support; its default template is copied
// into <CacheDir>/<family> on first use. With BareOnly set every identifier
// is bare.
func (r *Resolver) Resolve(ctx context.Context, identifier string, support SupportList) (Resolution, error) {
	if strings.TrimSpace(identifier) == "" {
		return Resolution{}, errors.Wrap(ErrInvalidArgument, "empty identifier")
	}
	r.Progress.emit(ProgressEvent{Event: "resolve_start", Identifier: identifier})

	fi, err := statLocal(r.BareOnly, identifier)
	switch {
	case err == nil && fi.IsDir():
		p, err := FindFirst(identifier, ConfigExt)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Identifier: identifier, Source: SourceDirectory, Path: p, Dir: identifier}, nil
	case err == nil:
		if filepath.Ext(identifier) != ConfigExt {
			return Resolution{}, errors.Wrapf(ErrInvalidArgument, "%s: config files must end in %s", identifier, ConfigExt)
		}
		return Resolution{Identifier: identifier, Source: SourceFile, Path: identifier}, nil
	case !errors.Is(err, fs.ErrNotExist):
		return Resolution{}, errors.Wrapf(err, "stat %s", identifier)
	}
	return r.ResolveBare(ctx, identifier, support)
}

// ResolveModelDir returns the first .yaml and the first .ckpt file of dir in
// sorted order. Both must exist.
func (r *Resolver) ResolveModelDir(dir string) (Resolution, string, error) {
	cfg, err := FindFirst(dir, ConfigExt)
	if err != nil {
		return Resolution{}, "", err
	}
	ckpt, err := FindFirst(dir, CheckpointExt)
	if err != nil {
		return Resolution{}, "", err
	}
	return Resolution{Identifier: dir, Source: SourceDirectory, Path: cfg, Dir: dir}, ckpt, nil
}

// CheckSupported validates a bare identifier against support.
func CheckSupported(identifier string, support SupportList) (string, error) {
	family := FamilyOf(identifier)
	if !support.Contains(family) || !support.Has(identifier) {
		return "", &UnsupportedError{Identifier: identifier, Families: support.Families()}
	}
	return family, nil
}

// ResolveBare resolves identifier as a bare name only, without looking at
// the filesystem first.
func (r *Resolver) ResolveBare(ctx context.Context, identifier string, support SupportList) (Resolution, error) {
	if strings.TrimSpace(identifier) == "" {
		return Resolution{}, errors.Wrap(ErrInvalidArgument, "empty identifier")
	}
	family, err := CheckSupported(identifier, support)
	if err != nil {
		return Resolution{}, err
	}
	dir := r.FamilyDir(family)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Resolution{}, errors.Wrapf(err, "create cache dir %s", dir)
	}
	res := Resolution{
		Identifier: identifier,
		Source:     SourceCache,
		Path:       filepath.Join(dir, identifier+ConfigExt),
		Dir:        dir,
		Family:     family,
	}
	if fileExists(res.Path) {
		r.Progress.emit(ProgressEvent{Event: "cache_hit", Identifier: identifier, Family: family, Path: res.Path})
		return res, nil
	}

	unlock, err := lockDir(ctx, dir, r.LockTimeout)
	if err != nil {
		return Resolution{}, err
	}
	defer unlock()

	// Another process may have copied it while we waited.
	if fileExists(res.Path) {
		r.Progress.emit(ProgressEvent{Event: "cache_hit", Identifier: identifier, Family: family, Path: res.Path})
		return res, nil
	}
	tpl := TemplatePath(family, identifier)
	data, err := fs.ReadFile(r.Templates, tpl)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Resolution{}, errors.Wrapf(ErrMissingDefault, "%s has no default template at %s", identifier, tpl)
		}
		return Resolution{}, errors.Wrapf(err, "read template %s", tpl)
	}
	if err := writeFileAtomic(res.Path, data); err != nil {
		return Resolution{}, err
	}
	res.Copied = true
	r.Logger.Info("copied default config", "identifier", identifier, "path", res.Path)
	r.Progress.emit(ProgressEvent{Event: "template_copy", Identifier: identifier, Family: family, Path: res.Path})
	return res, nil
}

// FindFirst returns the lexically first file in dir with extension ext.
// Symlinks count when they point at a file. It fails with ErrNotFound when
// there is none.
func FindFirst(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errors.Wrapf(ErrNotFound, "directory %s", dir)
		}
		return "", errors.Wrapf(err, "read dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ext {
			continue
		}
		switch {
		case e.Type().IsRegular():
			names = append(names, e.Name())
		case e.Type()&fs.ModeSymlink != 0 && fileExists(filepath.Join(dir, e.Name())):
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", errors.Wrapf(ErrNotFound, "no %s file in %s", ext, dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

// statLocal stats path, or reports fs.ErrNotExist when bare is set.
func statLocal(bare bool, path string) (fs.FileInfo, error) {
	if bare {
		return nil, fs.ErrNotExist
	}
	return os.Stat(path)
}

// lockDir takes the advisory lock of a cache directory. The returned func
// releases it.
func lockDir(ctx context.Context, dir string, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	fl := flock.New(filepath.Join(dir, lockFile))
	ok, err := fl.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", dir)
	}
	if !ok {
		return nil, errors.Errorf("lock %s: not acquired", dir)
	}
	return func() { _ = fl.Unlock() }, nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", path)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
