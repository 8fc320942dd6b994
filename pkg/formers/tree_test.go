// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleModelFile = `
model:
  model_config:
    type: BertConfig
    hidden_size: 768
    dropout: 0.1
    layers: [a, b]
  arch:
    type: BertForPretraining
processor:
  type: BertProcessor
`

func TestParseKeepsOrder(t *testing.T) {
	tree, err := Parse([]byte("zeta: 1\nalpha: 2\nmid: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, tree.Keys())

	out, err := yaml.Marshal(tree)
	require.NoError(t, err)
	assert.Equal(t, "zeta: 1\nalpha: 2\nmid: 3\n", string(out))
}

func TestParseNested(t *testing.T) {
	tree, err := Parse([]byte(sampleModelFile))
	require.NoError(t, err)

	v, ok := tree.Lookup("model", "arch", "type")
	require.True(t, ok)
	assert.Equal(t, "BertForPretraining", v)

	v, ok = tree.Lookup("model", "model_config", "hidden_size")
	require.True(t, ok)
	assert.Equal(t, 768, v)

	v, ok = tree.Lookup("model", "model_config", "layers")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)

	_, ok = tree.Lookup("model", "missing", "type")
	assert.False(t, ok)
	_, ok = tree.Lookup("processor", "type", "deeper")
	assert.False(t, ok)
}

func TestParseEmptyAndInvalid(t *testing.T) {
	tree, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())

	_, err = Parse([]byte("- just\n- a list\n"))
	assert.ErrorIs(t, err, ErrParse)

	_, err = Parse([]byte("model: [unclosed\n"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseMergeKeys(t *testing.T) {
	tree, err := Parse([]byte(`
base: &base
  hidden_size: 64
  layers: 2
small:
  <<: *base
  layers: 1
`))
	require.NoError(t, err)
	small, ok := tree.Sub("small")
	require.True(t, ok)
	assert.Equal(t, 64, small.GetDefault("hidden_size", 0))
	assert.Equal(t, 1, small.GetDefault("layers", 0))
}

func TestParseMergeKeySequence(t *testing.T) {
	tree, err := Parse([]byte(`
a: &a {x: 1, y: 1}
b: &b {y: 2, w: 2}
c:
  z: 3
  <<: [*a, *b]
  x: 9
`))
	require.NoError(t, err)
	c, ok := tree.Sub("c")
	require.True(t, ok)
	assert.Equal(t, 9, c.GetDefault("x", 0))
	assert.Equal(t, 1, c.GetDefault("y", 0))
	assert.Equal(t, 2, c.GetDefault("w", 0))
	assert.Equal(t, 3, c.GetDefault("z", 0))

	_, err = Parse([]byte("a: &a [1]\nc: {<<: [*a]}\n"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleModelFile), 0o644))

	tree, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "processor"}, tree.Keys())

	_, err = Load(filepath.Join(dir, "absent.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTreeMutation(t *testing.T) {
	tree := TreeOf("a", 1, "b", 2)
	tree.Set("a", 10)
	assert.Equal(t, []string{"a", "b"}, tree.Keys(), "existing keys keep their position")

	tree.Update(map[string]any{"d": 4, "c": 3})
	assert.Equal(t, []string{"a", "b", "c", "d"}, tree.Keys())

	tree.Update(TreeOf("b", 20, "e", 5))
	assert.Equal(t, 20, tree.GetDefault("b", nil))

	v, ok := tree.Pop("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.False(t, tree.Has("c"))

	_, ok = tree.Pop("c")
	assert.False(t, ok)
	assert.Equal(t, "fallback", tree.GetDefault("c", "fallback"))

	tree.Delete("nothing")
	assert.Equal(t, []string{"a", "b", "d", "e"}, tree.Keys())
}

func TestTreeString(t *testing.T) {
	tree := TreeOf("name", "bert", "empty", "", "num", 3)
	s, ok := tree.String("name")
	assert.True(t, ok)
	assert.Equal(t, "bert", s)
	_, ok = tree.String("empty")
	assert.False(t, ok)
	_, ok = tree.String("num")
	assert.False(t, ok)
}

func TestTreeCloneIsDeep(t *testing.T) {
	orig := TreeOf("inner", TreeOf("x", 1), "list", []any{TreeOf("y", 2)})
	cp := orig.Clone()

	inner, _ := cp.Sub("inner")
	inner.Set("x", 100)
	list, _ := cp.Get("list")
	list.([]any)[0].(*Tree).Set("y", 200)

	v, _ := orig.Lookup("inner", "x")
	assert.Equal(t, 1, v)
	item, _ := orig.Get("list")
	assert.Equal(t, 2, item.([]any)[0].(*Tree).GetDefault("y", nil))
}

func TestTreeDecode(t *testing.T) {
	var out struct {
		HiddenSize int     `yaml:"hidden_size"`
		Dropout    float64 `yaml:"dropout"`
		Name       string  `yaml:"name"`
	}
	out.Name = "kept"
	tree := TreeOf("hidden_size", 32, "dropout", 0.5, "unknown", true)
	require.NoError(t, tree.Decode(&out))
	assert.Equal(t, 32, out.HiddenSize)
	assert.Equal(t, 0.5, out.Dropout)
	assert.Equal(t, "kept", out.Name, "absent keys keep their defaults")

	err := TreeOf("hidden_size", "many").Decode(&out)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseJSON(t *testing.T) {
	tree, err := ParseJSON([]byte(`{"tokenizer_class": "BertTokenizer", "do_lower_case": true,
		"model_max_length": 512, "ratio": 0.5, "extra": {"b": 1, "a": [1, "x", null]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"tokenizer_class", "do_lower_case", "model_max_length", "ratio", "extra"}, tree.Keys())
	assert.Equal(t, int64(512), tree.GetDefault("model_max_length", nil))
	assert.Equal(t, 0.5, tree.GetDefault("ratio", nil))
	assert.Equal(t, true, tree.GetDefault("do_lower_case", nil))

	extra, ok := tree.Sub("extra")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, extra.Keys())
	assert.Equal(t, []any{int64(1), "x", nil}, extra.GetDefault("a", nil))

	for _, bad := range []string{`[1, 2]`, `{"a": }`, `{"a": 1} {"b": 2}`, ``} {
		_, err := ParseJSON([]byte(bad))
		assert.ErrorIs(t, err, ErrParse, "input %q", bad)
	}
}

func TestLoadJSONMissing(t *testing.T) {
	_, err := LoadJSON(filepath.Join(t.TempDir(), TokenizerConfigFile))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTreeMarshalJSONKeepsOrder(t *testing.T) {
	tree := TreeOf("zeta", 1, "alpha", TreeOf("b", true, "a", "x"), "list", []any{1, "two"})
	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":{"b":true,"a":"x"},"list":[1,"two"]}`, string(data))

	back, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "list"}, back.Keys())

	var empty *Tree
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
