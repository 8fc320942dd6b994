// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Tree is an ordered mapping from string keys to values, as loaded from a
// configuration file. Values are scalars, nested *Tree, []any, or objects set
// by the caller while building.
//
// The zero value is an empty tree ready to use.
type Tree struct {
	keys   []string
	values map[string]any
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{values: map[string]any{}}
}

// TreeOf builds a tree from alternating key/value pairs. It panics on an odd
// number of arguments or a non-string key.
func TreeOf(kv ...any) *Tree {
	if len(kv)%2 != 0 {
		panic("formers.TreeOf: odd number of arguments")
	}
	t := NewTree()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("formers.TreeOf: key must be a string")
		}
		t.Set(key, kv[i+1])
	}
	return t
}

// Len returns the number of keys.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.keys...)
}

// Has reports whether key is present.
func (t *Tree) Has(key string) bool {
	if t == nil {
		return false
	}
	_, ok := t.values[key]
	return ok
}

// Get returns the value stored under key.
func (t *Tree) Get(key string) (any, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.values[key]
	return v, ok
}

// GetDefault returns the value under key, or def when absent.
func (t *Tree) GetDefault(key string, def any) any {
	if v, ok := t.Get(key); ok {
		return v
	}
	return def
}

// String returns the value under key if it is a non-empty string.
func (t *Tree) String(key string) (string, bool) {
	v, ok := t.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Sub returns the nested tree under key.
func (t *Tree) Sub(key string) (*Tree, bool) {
	v, ok := t.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Tree)
	return sub, ok
}

// Lookup walks nested trees following path.
func (t *Tree) Lookup(path ...string) (any, bool) {
	var cur any = t
	for _, key := range path {
		sub, ok := cur.(*Tree)
		if !ok {
			return nil, false
		}
		if cur, ok = sub.Get(key); !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value under key. New keys are appended; existing keys keep their
// position.
func (t *Tree) Set(key string, value any) {
	if t.values == nil {
		t.values = map[string]any{}
	}
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Update copies entries from src, which is a *Tree or a map[string]any. Map
// entries are applied in sorted key order.
func (t *Tree) Update(src any) {
	switch s := src.(type) {
	case *Tree:
		for _, k := range s.keys {
			t.Set(k, s.values[k])
		}
	case map[string]any:
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.Set(k, s[k])
		}
	}
}

// Pop removes key and returns its value.
func (t *Tree) Pop(key string) (any, bool) {
	v, ok := t.Get(key)
	if ok {
		t.Delete(key)
	}
	return v, ok
}

// Delete removes key if present.
func (t *Tree) Delete(key string) {
	if !t.Has(key) {
		return
	}
	delete(t.values, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of nested trees and sequences. Other values are
// shared.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := NewTree()
	for _, k := range t.keys {
		out.Set(k, cloneValue(t.values[k]))
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case *Tree:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}

// Decode fills v (a pointer to a struct) from the tree using yaml tags.
// Keys without a matching field are ignored.
func (t *Tree) Decode(v any) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode tree")
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(ErrParse, "decode tree into %T: %v", v, err)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler, keeping key order.
func (t *Tree) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if t == nil {
		return node, nil
	}
	for _, k := range t.keys {
		val, err := valueNode(t.values[k])
		if err != nil {
			return nil, errors.WithMessagef(err, "key %q", k)
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, val)
	}
	return node, nil
}

func valueNode(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case *Tree:
		n, err := x.MarshalYAML()
		if err != nil {
			return nil, err
		}
		return n.(*yaml.Node), nil
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range x {
			n, err := valueNode(item)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, n)
		}
		return seq, nil
	default:
		n := &yaml.Node{}
		if err := n.Encode(v); err != nil {
			return nil, err
		}
		return n, nil
	}
}

// UnmarshalYAML implements yaml.Unmarshaler. The document root must be a
// mapping.
func (t *Tree) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return errors.Wrapf(ErrParse, "line %d: expected a mapping", node.Line)
	}
	*t = Tree{values: map[string]any{}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind == yaml.ScalarNode && keyNode.Tag == "!!merge" {
			// A sequence merges each mapping in turn; earlier ones win.
			sources := []*yaml.Node{valNode}
			if valNode.Kind == yaml.SequenceNode {
				sources = valNode.Content
			}
			for _, src := range sources {
				var merged Tree
				if err := merged.UnmarshalYAML(src); err != nil {
					return err
				}
				for _, k := range merged.keys {
					if !t.Has(k) {
						t.Set(k, merged.values[k])
					}
				}
			}
			continue
		}
		val, err := nodeValue(valNode)
		if err != nil {
			return err
		}
		t.Set(keyNode.Value, val)
	}
	return nil
}

func nodeValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return nodeValue(node.Alias)
	case yaml.MappingNode:
		sub := NewTree()
		if err := sub.UnmarshalYAML(node); err != nil {
			return nil, err
		}
		return sub, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := nodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, errors.Wrapf(ErrParse, "line %d: %v", node.Line, err)
		}
		return v, nil
	}
}

// Parse decodes YAML content into a tree. Empty content yields an empty tree.
func Parse(data []byte) (*Tree, error) {
	t := NewTree()
	if len(bytes.TrimSpace(data)) == 0 {
		return t, nil
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		if errors.Is(err, ErrParse) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	return t, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "config %s", path)
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %s", path)
	}
	return t, nil
}

// ParseJSON decodes a JSON object into a tree, keeping key order. Integral
// numbers become int64, others float64.
func ParseJSON(data []byte) (*Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.Wrap(ErrParse, "expected a JSON object")
	}
	t, err := jsonObject(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Wrap(ErrParse, "trailing data after JSON object")
	}
	return t, nil
}

// MarshalJSON implements json.Marshaler, keeping key order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if t != nil {
		for i, k := range t.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(t.values[k])
			if err != nil {
				return nil, errors.WithMessagef(err, "key %q", k)
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// LoadJSON reads and parses a JSON configuration file.
func LoadJSON(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "config %s", path)
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	t, err := ParseJSON(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %s", path)
	}
	return t, nil
}

// jsonObject reads members until the closing brace; the opening brace has
// been consumed.
func jsonObject(dec *json.Decoder) (*Tree, error) {
	t := NewTree()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrapf(ErrParse, "%v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Wrapf(ErrParse, "unexpected token %v", tok)
		}
		val, err := jsonValue(dec)
		if err != nil {
			return nil, err
		}
		t.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	return t, nil
}

func jsonValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	switch x := tok.(type) {
	case json.Delim:
		switch x {
		case '{':
			return jsonObject(dec)
		case '[':
			out := []any{}
			for dec.More() {
				v, err := jsonValue(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, errors.Wrapf(ErrParse, "%v", err)
			}
			return out, nil
		}
		return nil, errors.Wrapf(ErrParse, "unexpected delimiter %v", x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, errors.Wrapf(ErrParse, "%v", err)
		}
		return f, nil
	default:
		return x, nil
	}
}
