// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bodaay/formerhub/pkg/formers"
)

// Model is a built architecture: its configuration and the checkpoint it
// loaded, if any.
type Model struct {
	Arch    string
	Cfg     formers.Config
	Weights *formers.Checkpoint
}

func (m *Model) Config() formers.Config          { return m.Cfg }
func (m *Model) Checkpoint() *formers.Checkpoint { return m.Weights }

// SavePretrained writes <name>.yaml and, when weights were loaded,
// <name>.ckpt to dir. The directory can be passed back to
// AutoModel.FromPretrained. Not safe to call concurrently on one model.
func (m *Model) SavePretrained(dir, name string) error {
	// The saved file must not point back at the original checkpoint.
	prev := m.Cfg.CheckpointNameOrPath()
	m.Cfg.SetCheckpointNameOrPath("")
	_, err := formers.SaveConfig(dir, name, m.Cfg)
	m.Cfg.SetCheckpointNameOrPath(prev)
	if err != nil {
		return err
	}
	if m.Weights == nil {
		return nil
	}
	dst := filepath.Join(dir, name+formers.CheckpointExt)
	if filepath.Clean(m.Weights.Path) == filepath.Clean(dst) {
		return nil
	}
	return copyFile(m.Weights.Path, dst)
}

// registerArch registers an architecture that accepts configs of type C.
func registerArch[C formers.Config](r *formers.Registry, arch string) {
	r.Register(formers.ModuleModel, arch, func(env formers.Env, tree *formers.Tree) (any, error) {
		v, _ := tree.Get("config")
		cfg, ok := v.(C)
		if !ok {
			var want C
			return nil, errors.Wrapf(formers.ErrInvalidArgument, "%s needs a %s, got %T", arch, formers.TypeName(want), v)
		}
		m := &Model{Arch: arch, Cfg: cfg}
		if err := m.loadWeights(env.Ctx(), env.Weights); err != nil {
			return nil, err
		}
		return m, nil
	})
}

func (m *Model) loadWeights(ctx context.Context, loader formers.WeightLoader) error {
	name := m.Cfg.CheckpointNameOrPath()
	if name == "" {
		return nil
	}
	if loader == nil {
		return errors.Wrapf(formers.ErrInvalidArgument, "%s: no weight loader for %s", m.Arch, name)
	}
	ck, err := loader.LoadWeights(ctx, name)
	if err != nil {
		return errors.WithMessagef(err, "%s weights", m.Arch)
	}
	m.Weights = ck
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	return out.Close()
}
