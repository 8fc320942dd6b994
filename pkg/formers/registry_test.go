// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moduleFunc func(r *Registry)

func (f moduleFunc) Register(r *Registry) { f(r) }

type widget struct {
	Size int `yaml:"size"`
	env  Env
}

func newTestRegistry() *Registry {
	return NewRegistry(moduleFunc(func(r *Registry) {
		r.Register(ModuleModel, "Widget", func(env Env, tree *Tree) (any, error) {
			w := &widget{env: env}
			if err := tree.Decode(w); err != nil {
				return nil, err
			}
			if tree.Has("type") {
				return nil, errors.New("type leaked into constructor args")
			}
			return w, nil
		})
		r.Register(ModuleModel, "Broken", func(Env, *Tree) (any, error) {
			return nil, errors.New("boom")
		})
		r.RegisterSupport(ModuleModel, "widget", "widget_small", "widget_large")
	}))
}

func TestRegistryBuild(t *testing.T) {
	r := newTestRegistry()
	tree := TreeOf("type", "Widget", "size", 3)

	obj, err := r.Build(Env{}, ModuleModel, tree)
	require.NoError(t, err)
	w := obj.(*widget)
	assert.Equal(t, 3, w.Size)
	assert.Same(t, r, w.env.Registry, "Build fills in the registry")
	assert.True(t, tree.Has("type"), "the caller's tree is not modified")
}

func TestRegistryBuildUnregistered(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Build(Env{}, ModuleModel, TreeOf("type", "Gadget"))
	require.ErrorIs(t, err, ErrUnregisteredType)

	var ue *UnregisteredError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Gadget", ue.Name)
	assert.Equal(t, []string{"Broken", "Widget"}, ue.Registered)

	// Registered under another module type only.
	_, err = r.Build(Env{}, ModuleTokenizer, TreeOf("type", "Widget"))
	assert.ErrorIs(t, err, ErrUnregisteredType)
}

func TestRegistryBuildErrors(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Build(Env{}, ModuleModel, TreeOf("size", 1))
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = r.Build(Env{}, ModuleModel, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.Build(Env{}, ModuleModel, TreeOf("type", "Broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build models Broken: boom")
}

func TestBuildAs(t *testing.T) {
	r := newTestRegistry()
	w, err := BuildAs[*widget](r, Env{}, ModuleModel, TreeOf("type", "Widget", "size", 7))
	require.NoError(t, err)
	assert.Equal(t, 7, w.Size)

	_, err = BuildAs[Tokenizer](r, Env{}, ModuleModel, TreeOf("type", "Widget"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "formers.Tokenizer")
}

func TestRegistryRegisterPanics(t *testing.T) {
	noop := func(Env, *Tree) (any, error) { return nil, nil }

	assert.Panics(t, func() {
		NewRegistry(moduleFunc(func(r *Registry) {
			r.Register(ModuleModel, "A", noop)
			r.Register(ModuleModel, "A", noop)
		}))
	}, "duplicate")
	assert.Panics(t, func() {
		NewRegistry(moduleFunc(func(r *Registry) { r.Register(ModuleModel, "", noop) }))
	}, "empty name")
	assert.Panics(t, func() {
		NewRegistry(moduleFunc(func(r *Registry) { r.Register(ModuleModel, "A", nil) }))
	}, "nil constructor")

	r := newTestRegistry()
	assert.Panics(t, func() { r.Register(ModuleModel, "Late", noop) }, "frozen")
	assert.Panics(t, func() { r.RegisterSupport(ModuleModel, "late", "late_1") }, "frozen")

	// Same name under different module types is fine.
	assert.NotPanics(t, func() {
		NewRegistry(moduleFunc(func(r *Registry) {
			r.Register(ModuleModel, "A", noop)
			r.Register(ModuleConfig, "A", noop)
		}))
	})
}

func TestRegistrySupportIsCopied(t *testing.T) {
	r := newTestRegistry()
	list := r.Support(ModuleModel)
	list["widget"][0] = "mutated"
	delete(list, "widget")

	again := r.Support(ModuleModel)
	assert.Equal(t, []string{"widget_small", "widget_large"}, again["widget"])
	assert.Empty(t, r.Support(ModuleTokenizer))
}

func TestSupportList(t *testing.T) {
	list := SupportList{
		"bert": {"bert_base_uncased"},
		"gpt2": {"gpt2"},
		"mae":  {"mae_vit_base_p16"},
	}
	assert.Equal(t, []string{"bert", "gpt2", "mae"}, list.Families())
	assert.True(t, list.Has("gpt2"))
	assert.True(t, list.Has("bert_base_uncased"))
	assert.False(t, list.Has("bert_large_uncased"))
	assert.False(t, list.Contains("bloom"))
	assert.Equal(t, []string{"bert", "gpt2"}, list.Without("mae").Families())
	assert.Len(t, list, 3)

	assert.Equal(t, "bert", FamilyOf("bert_base_uncased"))
	assert.Equal(t, "gpt2", FamilyOf("gpt2"))
	assert.Equal(t, "bloom", FamilyOf("bloom_7.1b"))
}
