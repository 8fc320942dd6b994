// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Checkpoint describes a weight file that was located and checked.
type Checkpoint struct {
	Name   string `json:"name" yaml:"name"`
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// WeightLoader locates the weights a model asks for. nameOrPath is either a
// checkpoint file or a supported identifier.
type WeightLoader interface {
	LoadWeights(ctx context.Context, nameOrPath string) (*Checkpoint, error)
}

// FileLoader makes named files of a family available locally, for
// artifacts such as vocabularies that live next to the cached config.
type FileLoader interface {
	LoadFiles(ctx context.Context, family string, names ...string) (string, error)
}

// Store is the WeightLoader backed by the local cache. Checkpoints missing
// from the cache are fetched from Endpoint.
type Store struct {
	CacheDir    string
	Endpoint    string
	LockTimeout time.Duration
	BareOnly    bool
	Fetcher     *Fetcher
	Logger      *slog.Logger
	Progress    ProgressFunc
}

// NewStore returns a store configured from cfg.
func NewStore(cfg Settings) *Store {
	s := &Store{
		CacheDir:    cfg.CacheDir,
		Endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		LockTimeout: cfg.LockTimeout,
		BareOnly:    cfg.BareOnly,
		Fetcher:     NewFetcher(cfg.Token, cfg.Progress),
		Logger:      cfg.Logger,
		Progress:    cfg.Progress,
	}
	if s.CacheDir == "" {
		s.CacheDir = DefaultSettings().CacheDir
	}
	if s.Logger == nil {
		s.Logger = discardLogger
	}
	return s
}

// CheckpointPath is where the checkpoint of a bare identifier is cached.
func (s *Store) CheckpointPath(identifier string) string {
	return filepath.Join(s.CacheDir, FamilyOf(identifier), identifier+CheckpointExt)
}

// CheckpointURL is where the checkpoint of a bare identifier is fetched from.
func (s *Store) CheckpointURL(identifier string) string {
	return s.Endpoint + "/" + FamilyOf(identifier) + "/" + identifier + CheckpointExt
}

// LoadWeights implements WeightLoader.
func (s *Store) LoadWeights(ctx context.Context, nameOrPath string) (*Checkpoint, error) {
	if nameOrPath == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "empty checkpoint name")
	}
	fi, err := statLocal(s.BareOnly, nameOrPath)
	switch {
	case err == nil && fi.IsDir():
		return nil, errors.Wrapf(ErrInvalidArgument, "checkpoint %s is a directory", nameOrPath)
	case err == nil:
		return describe(nameOrPath, nameOrPath)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, errors.Wrapf(err, "stat %s", nameOrPath)
	}

	path := s.CheckpointPath(nameOrPath)
	if fileExists(path) {
		s.Progress.emit(ProgressEvent{Event: "cache_hit", Identifier: nameOrPath, Family: FamilyOf(nameOrPath), Path: path})
		return describe(nameOrPath, path)
	}
	if _, err := s.Fetch(ctx, nameOrPath); err != nil {
		return nil, err
	}
	return describe(nameOrPath, path)
}

// Fetch downloads the checkpoint of a bare identifier into the cache unless
// it is already there. It returns the cached path.
func (s *Store) Fetch(ctx context.Context, identifier string) (string, error) {
	path := s.CheckpointPath(identifier)
	if s.Endpoint == "" {
		if fileExists(path) {
			return path, nil
		}
		return "", errors.Wrapf(ErrNotFound, "checkpoint %s is not cached and no endpoint is configured", identifier)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create cache dir %s", dir)
	}
	unlock, err := lockDir(ctx, dir, s.LockTimeout)
	if err != nil {
		return "", err
	}
	defer unlock()
	if fileExists(path) {
		s.Progress.emit(ProgressEvent{Event: "cache_hit", Identifier: identifier, Family: FamilyOf(identifier), Path: path})
		return path, nil
	}

	url := s.CheckpointURL(identifier)
	s.Logger.Info("fetching checkpoint", "identifier", identifier, "url", url)
	n, err := s.Fetcher.Fetch(ctx, url, path)
	if err != nil {
		return "", errors.WithMessagef(err, "checkpoint %s", identifier)
	}
	s.Logger.Info("fetched checkpoint", "identifier", identifier, "path", path, "bytes", n)
	return path, nil
}

// FileURL is where a file of family is fetched from.
func (s *Store) FileURL(family, name string) string {
	return s.Endpoint + "/" + family + "/" + name
}

// LoadFiles implements FileLoader. Files missing from <CacheDir>/<family>
// are fetched from Endpoint under the family lock. It returns the family
// directory.
func (s *Store) LoadFiles(ctx context.Context, family string, names ...string) (string, error) {
	if family == "" {
		return "", errors.Wrap(ErrInvalidArgument, "empty family")
	}
	for _, name := range names {
		if name == "" || filepath.Base(name) != name {
			return "", errors.Wrapf(ErrInvalidArgument, "file name %q", name)
		}
	}
	dir := filepath.Join(s.CacheDir, family)
	missing := missingFiles(dir, names)
	if len(missing) == 0 {
		return dir, nil
	}
	if s.Endpoint == "" {
		return "", errors.Wrapf(ErrNotFound, "%s not cached in %s and no endpoint is configured", strings.Join(missing, ", "), dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create cache dir %s", dir)
	}
	unlock, err := lockDir(ctx, dir, s.LockTimeout)
	if err != nil {
		return "", err
	}
	defer unlock()

	for _, name := range missingFiles(dir, names) {
		url := s.FileURL(family, name)
		s.Logger.Info("fetching file", "family", family, "url", url)
		n, err := s.Fetcher.Fetch(ctx, url, filepath.Join(dir, name))
		if err != nil {
			return "", errors.WithMessagef(err, "%s file %s", family, name)
		}
		s.Logger.Info("fetched file", "family", family, "name", name, "bytes", n)
	}
	return dir, nil
}

func missingFiles(dir string, names []string) []string {
	var missing []string
	for _, name := range names {
		if !fileExists(filepath.Join(dir, name)) {
			missing = append(missing, name)
		}
	}
	return missing
}

func describe(name, path string) (*Checkpoint, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	sum, err := fileSHA256(path)
	if err != nil {
		return nil, errors.Wrapf(err, "hash %s", path)
	}
	return &Checkpoint{Name: name, Path: path, Size: fi.Size(), SHA256: sum}, nil
}
