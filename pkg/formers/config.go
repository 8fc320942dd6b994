// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is implemented by every model configuration. Embedding BaseConfig
// is enough to satisfy it.
type Config interface {
	// ModelName is the architecture the configuration was built for
	// (e.g. "BertForPretraining"). It is stored in the config itself so a
	// config can be turned back into a full model description.
	ModelName() string
	SetModelName(name string)

	// CheckpointNameOrPath names the weights the model should load, either a
	// file path or a supported identifier. Empty means no weights.
	CheckpointNameOrPath() string
	SetCheckpointNameOrPath(nameOrPath string)
}

// BaseConfig holds the fields shared by all model configurations.
type BaseConfig struct {
	Name       string `yaml:"model_name,omitempty" json:"model_name,omitempty"`
	Checkpoint string `yaml:"checkpoint_name_or_path,omitempty" json:"checkpoint_name_or_path,omitempty"`
}

func (c *BaseConfig) ModelName() string                 { return c.Name }
func (c *BaseConfig) SetModelName(name string)          { c.Name = name }
func (c *BaseConfig) CheckpointNameOrPath() string      { return c.Checkpoint }
func (c *BaseConfig) SetCheckpointNameOrPath(p string) { c.Checkpoint = p }

// TypeName returns the concrete type name used as the "type" tag of v.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

var configType = reflect.TypeOf((*Config)(nil)).Elem()

// ToTree converts an instantiated config into the tree a YAML file would hold.
// The root and every nested Config are tagged with "type" set to their type
// name. Cyclic pointer graphs are rejected.
func ToTree(cfg Config) (*Tree, error) {
	if rv := reflect.ValueOf(cfg); cfg == nil || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return nil, errors.Wrap(ErrInvalidArgument, "nil config")
	}
	v, err := toValue(reflect.ValueOf(cfg), map[uintptr]bool{})
	if err != nil {
		return nil, err
	}
	t, ok := v.(*Tree)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidArgument, "%T does not convert to a mapping", cfg)
	}
	return t, nil
}

// InverseParse is an alias of ToTree, named after the direction it runs in:
// object to file content.
func InverseParse(cfg Config) (*Tree, error) { return ToTree(cfg) }

func isConfig(t reflect.Type) bool {
	return t.Implements(configType) || (t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(configType))
}

func toValue(v reflect.Value, seen map[uintptr]bool) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return toValue(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return nil, errors.Wrapf(ErrInvalidArgument, "cycle through %s", v.Type())
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return toValue(v.Elem(), seen)
	case reflect.Struct:
		t := NewTree()
		if isConfig(v.Type()) {
			t.Set("type", v.Type().Name())
		}
		if err := structFields(v, t, seen); err != nil {
			return nil, err
		}
		return t, nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := toValue(v.Index(i), seen)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, errors.Wrapf(ErrInvalidArgument, "map key type %s", v.Type().Key())
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		t := NewTree()
		for _, k := range keys {
			item, err := toValue(v.MapIndex(k), seen)
			if err != nil {
				return nil, err
			}
			t.Set(k.String(), item)
		}
		return t, nil
	default:
		return v.Interface(), nil
	}
}

func structFields(v reflect.Value, t *Tree, seen map[uintptr]bool) error {
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		inline := strings.Contains(opts, "inline") || (f.Anonymous && name == "")
		if inline {
			for fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					break
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				if err := structFields(fv, t, seen); err != nil {
					return err
				}
				continue
			}
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		item, err := toValue(fv, seen)
		if err != nil {
			return errors.WithMessagef(err, "field %s", f.Name)
		}
		t.Set(name, item)
	}
	return nil
}

// Wrap nests a flattened model-config tree into the shape of a full model
// file: {model: {model_config: tree, arch: {type: name}}}. The architecture
// name is taken from (and removed from) the tree's "model_name" key.
func Wrap(tree *Tree) (*Tree, error) {
	if tree == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil tree")
	}
	name, ok := tree.String("model_name")
	if !ok {
		return nil, &FieldError{Source: "model config", Field: "model_name", Keys: tree.Keys()}
	}
	tree.Delete("model_name")
	return TreeOf(
		"model", TreeOf(
			"model_config", tree,
			"arch", TreeOf("type", name),
		),
	), nil
}

// SaveConfig writes cfg as <dir>/<name>.yaml in the full model-file layout, so
// the file can be passed back to Model.FromConfigFile.
func SaveConfig(dir, name string, cfg Config) (string, error) {
	tree, err := ToTree(cfg)
	if err != nil {
		return "", err
	}
	wrapped, err := Wrap(tree)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(wrapped)
	if err != nil {
		return "", errors.Wrapf(err, "encode %s", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}
	path := filepath.Join(dir, name+ConfigExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}

// RegisterConfig registers a config type under its type name. newConfig
// returns a value holding the defaults the tree is decoded over.
func RegisterConfig[T Config](r *Registry, newConfig func() T) {
	name := TypeName(newConfig())
	r.Register(ModuleConfig, name, func(env Env, tree *Tree) (any, error) {
		cfg := newConfig()
		if err := tree.Decode(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	})
}
