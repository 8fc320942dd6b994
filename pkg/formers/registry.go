// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

// ModuleType is the category a registered constructor belongs to.
type ModuleType string

const (
	ModuleConfig    ModuleType = "config"
	ModuleModel     ModuleType = "models"
	ModuleProcessor ModuleType = "processor"
	ModuleTokenizer ModuleType = "tokenizer"
)

// Env is handed to constructors. It carries what a constructor needs beyond
// its own tree: nested builds go through Registry, weights through Weights.
type Env struct {
	Context  context.Context
	Registry *Registry
	Weights  WeightLoader
	Files    FileLoader
	Logger   *slog.Logger

	// Dir is the directory the artifacts were resolved from (a user-supplied
	// directory or a cache entry). Empty when built from a lone file.
	Dir string

	// Family is the model family for bare-name resolutions.
	Family string
}

// Ctx returns the context of the build, never nil.
func (env Env) Ctx() context.Context {
	if env.Context == nil {
		return context.Background()
	}
	return env.Context
}

// Log returns the logger of the build, never nil.
func (env Env) Log() *slog.Logger {
	if env.Logger == nil {
		return discardLogger
	}
	return env.Logger
}

// Constructor builds an instance from a tree whose "type" key has already
// been consumed.
type Constructor func(env Env, tree *Tree) (any, error)

// Module is implemented by packages providing concrete implementations.
// Register installs their constructors and support lists.
type Module interface {
	Register(r *Registry)
}

// Registry maps (module type, type name) to constructors and holds the
// support lists. It is populated once by NewRegistry and read-only after,
// so concurrent lookups need no locking.
type Registry struct {
	ctors   map[ModuleType]map[string]Constructor
	support map[ModuleType]SupportList
	frozen  bool
}

// NewRegistry registers every module and freezes the registry.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{
		ctors:   map[ModuleType]map[string]Constructor{},
		support: map[ModuleType]SupportList{},
	}
	for _, m := range modules {
		m.Register(r)
	}
	r.frozen = true
	return r
}

// Register installs a constructor. It panics on an empty name, a nil
// constructor, a duplicate, or when called after NewRegistry returned.
func (r *Registry) Register(mt ModuleType, name string, ctor Constructor) {
	if r.frozen {
		panic(fmt.Sprintf("formers: registry is frozen, cannot register %s %q", mt, name))
	}
	if name == "" {
		panic(fmt.Sprintf("formers: empty name registered for %s", mt))
	}
	if ctor == nil {
		panic(fmt.Sprintf("formers: nil constructor for %s %q", mt, name))
	}
	byName, ok := r.ctors[mt]
	if !ok {
		byName = map[string]Constructor{}
		r.ctors[mt] = byName
	}
	if _, exists := byName[name]; exists {
		panic(fmt.Sprintf("formers: %s %q already registered", mt, name))
	}
	byName[name] = ctor
}

// RegisterSupport lists identifiers of a family as supported for mt.
func (r *Registry) RegisterSupport(mt ModuleType, family string, ids ...string) {
	if r.frozen {
		panic(fmt.Sprintf("formers: registry is frozen, cannot add support for %s", family))
	}
	list, ok := r.support[mt]
	if !ok {
		list = SupportList{}
		r.support[mt] = list
	}
	list[family] = append(list[family], ids...)
}

// Support returns a copy of the support list of mt.
func (r *Registry) Support(mt ModuleType) SupportList {
	return r.support[mt].Clone()
}

// Names returns the sorted type names registered for mt.
func (r *Registry) Names(mt ModuleType) []string {
	names := make([]string, 0, len(r.ctors[mt]))
	for name := range r.ctors[mt] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the constructor registered under (mt, name).
func (r *Registry) Lookup(mt ModuleType, name string) (Constructor, error) {
	ctor, ok := r.ctors[mt][name]
	if !ok {
		return nil, &UnregisteredError{Module: mt, Name: name, Registered: r.Names(mt)}
	}
	return ctor, nil
}

// Build reads tree["type"], looks up its constructor and calls it with a copy
// of the remaining fields.
func (r *Registry) Build(env Env, mt ModuleType, tree *Tree) (any, error) {
	if tree == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "nil %s tree", mt)
	}
	name, ok := tree.String("type")
	if !ok {
		return nil, &FieldError{Source: string(mt) + " config", Field: "type", Keys: tree.Keys()}
	}
	ctor, err := r.Lookup(mt, name)
	if err != nil {
		return nil, err
	}
	args := tree.Clone()
	args.Delete("type")
	if env.Registry == nil {
		env.Registry = r
	}
	env.Log().Debug("building", "module", mt, "type", name)
	obj, err := ctor(env, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "build %s %s", mt, name)
	}
	return obj, nil
}

// BuildAs is Build with the result asserted to T.
func BuildAs[T any](r *Registry, env Env, mt ModuleType, tree *Tree) (T, error) {
	var zero T
	obj, err := r.Build(env, mt, tree)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, errors.Wrapf(ErrInvalidArgument, "%s built %T, which is not a %s", mt, obj, reflectName[T]())
	}
	return typed, nil
}

func reflectName[T any]() string {
	return fmt.Sprintf("%T", (*T)(nil))[1:]
}
