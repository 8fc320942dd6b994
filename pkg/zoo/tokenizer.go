// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/bodaay/formerhub/pkg/formers"
)

// Default vocabulary file names inside a tokenizer directory.
const (
	WordPieceVocabFile = "vocab.txt"
	BPEVocabFile       = "vocab.json"
	BPEMergesFile      = "merges.txt"
)

// vocab maps tokens to ids and back.
type vocab struct {
	tokens []string
	ids    map[string]int
}

func newVocab(tokens []string) vocab {
	v := vocab{tokens: tokens, ids: make(map[string]int, len(tokens))}
	for i, t := range tokens {
		if _, dup := v.ids[t]; !dup {
			v.ids[t] = i
		}
	}
	return v
}

func (v vocab) size() int { return len(v.tokens) }

func (v vocab) toIDs(tokens []string, unk string) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		id, ok := v.ids[t]
		if !ok {
			id, ok = v.ids[unk]
			if !ok {
				id = -1
			}
		}
		out[i] = id
	}
	return out
}

func (v vocab) toTokens(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id >= 0 && id < len(v.tokens) {
			out[i] = v.tokens[id]
		}
	}
	return out
}

// vocabPath picks the vocabulary file: file relative to dir, or def inside
// dir when file is empty and def exists. Empty means no vocabulary.
func vocabPath(dir, file, def string) string {
	if file == "" {
		if dir == "" {
			return ""
		}
		p := filepath.Join(dir, def)
		if _, err := os.Stat(p); err != nil {
			return ""
		}
		return p
	}
	if !filepath.IsAbs(file) && dir != "" {
		return filepath.Join(dir, file)
	}
	return file
}

// cacheName is the name a vocabulary file is cached under: file when it is a
// plain name, def when file is empty, and "" for paths.
func cacheName(file, def string) string {
	if file == "" {
		return def
	}
	if filepath.Base(file) != file {
		return ""
	}
	return file
}

// fetchVocab makes the vocabulary files of a bare-name build available in
// env.Dir. Directory and file builds have nothing to fetch.
func fetchVocab(env formers.Env, names ...string) error {
	if env.Family == "" || env.Files == nil {
		return nil
	}
	var want []string
	for _, n := range names {
		if n != "" {
			want = append(want, n)
		}
	}
	if len(want) == 0 {
		return nil
	}
	_, err := env.Files.LoadFiles(env.Ctx(), env.Family, want...)
	return err
}

func openVocab(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(formers.ErrNotFound, "vocabulary %s", path)
		}
		return nil, errors.Wrapf(err, "open vocabulary %s", path)
	}
	return f, nil
}

func readLines(path string) ([]string, error) {
	f, err := openVocab(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// WordPieceOptions are the settings of a WordPieceTokenizer, as found under
// processor.tokenizer or in tokenizer_config.json.
type WordPieceOptions struct {
	VocabFile   string `yaml:"vocab_file" json:"vocab_file,omitempty"`
	DoLowerCase bool   `yaml:"do_lower_case" json:"do_lower_case"`
	UnkToken    string `yaml:"unk_token" json:"unk_token"`
	SepToken    string `yaml:"sep_token" json:"sep_token"`
	PadToken    string `yaml:"pad_token" json:"pad_token"`
	ClsToken    string `yaml:"cls_token" json:"cls_token"`
	MaskToken   string `yaml:"mask_token" json:"mask_token"`
	MaxLength   int    `yaml:"model_max_length" json:"model_max_length,omitempty"`
}

// WordPieceTokenizer holds a line-per-token vocabulary (vocab.txt).
type WordPieceTokenizer struct {
	Class   string
	Options WordPieceOptions
	vocab   vocab
}

func newWordPiece(class string) formers.Constructor {
	return func(env formers.Env, tree *formers.Tree) (any, error) {
		opts := WordPieceOptions{
			DoLowerCase: true,
			UnkToken:    "[UNK]",
			SepToken:    "[SEP]",
			PadToken:    "[PAD]",
			ClsToken:    "[CLS]",
			MaskToken:   "[MASK]",
			MaxLength:   512,
		}
		if err := tree.Decode(&opts); err != nil {
			return nil, err
		}
		if err := fetchVocab(env, cacheName(opts.VocabFile, WordPieceVocabFile)); err != nil {
			return nil, err
		}
		t := &WordPieceTokenizer{Class: class, Options: opts}
		if p := vocabPath(env.Dir, opts.VocabFile, WordPieceVocabFile); p != "" {
			lines, err := readLines(p)
			if err != nil {
				return nil, err
			}
			t.vocab = newVocab(lines)
			env.Log().Debug("loaded vocabulary", "tokenizer", class, "path", p, "size", len(lines))
		}
		return t, nil
	}
}

func (t *WordPieceTokenizer) VocabSize() int { return t.vocab.size() }

// ConvertTokensToIDs maps tokens to ids; unknown tokens map to the id of
// the unk token, or -1 without one.
func (t *WordPieceTokenizer) ConvertTokensToIDs(tokens []string) []int {
	return t.vocab.toIDs(tokens, t.Options.UnkToken)
}

func (t *WordPieceTokenizer) ConvertIDsToTokens(ids []int) []string {
	return t.vocab.toTokens(ids)
}

// SavePretrained implements formers.Tokenizer.
func (t *WordPieceTokenizer) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	opts := t.Options
	opts.VocabFile = ""
	if t.vocab.size() > 0 {
		opts.VocabFile = WordPieceVocabFile
		if err := writeLines(filepath.Join(dir, WordPieceVocabFile), t.vocab.tokens); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, formers.TokenizerConfigFile), struct {
		Class string `json:"tokenizer_class"`
		WordPieceOptions
	}{t.Class, opts})
}

// BPEOptions are the settings of a BPETokenizer.
type BPEOptions struct {
	VocabFile      string `yaml:"vocab_file" json:"vocab_file,omitempty"`
	MergesFile     string `yaml:"merges_file" json:"merges_file,omitempty"`
	UnkToken       string `yaml:"unk_token" json:"unk_token"`
	BosToken       string `yaml:"bos_token" json:"bos_token"`
	EosToken       string `yaml:"eos_token" json:"eos_token"`
	PadToken       string `yaml:"pad_token" json:"pad_token"`
	AddPrefixSpace bool   `yaml:"add_prefix_space" json:"add_prefix_space"`
	MaxLength      int    `yaml:"model_max_length" json:"model_max_length,omitempty"`
}

// BPETokenizer holds a byte-level BPE vocabulary (vocab.json) and its merge
// rules (merges.txt).
type BPETokenizer struct {
	Class   string
	Options BPEOptions
	Merges  []string
	vocab   vocab
}

func newBPE(class string, defaults BPEOptions) formers.Constructor {
	return func(env formers.Env, tree *formers.Tree) (any, error) {
		opts := defaults
		if err := tree.Decode(&opts); err != nil {
			return nil, err
		}
		if err := fetchVocab(env, cacheName(opts.VocabFile, BPEVocabFile), cacheName(opts.MergesFile, BPEMergesFile)); err != nil {
			return nil, err
		}
		t := &BPETokenizer{Class: class, Options: opts}
		if p := vocabPath(env.Dir, opts.VocabFile, BPEVocabFile); p != "" {
			v, err := readJSONVocab(p)
			if err != nil {
				return nil, err
			}
			t.vocab = v
		}
		if p := vocabPath(env.Dir, opts.MergesFile, BPEMergesFile); p != "" {
			lines, err := readLines(p)
			if err != nil {
				return nil, err
			}
			if len(lines) > 0 && strings.HasPrefix(lines[0], "#version") {
				lines = lines[1:]
			}
			t.Merges = lines
		}
		return t, nil
	}
}

func readJSONVocab(path string) (vocab, error) {
	f, err := openVocab(path)
	if err != nil {
		return vocab{}, err
	}
	defer f.Close()
	var m map[string]int
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return vocab{}, errors.Wrapf(formers.ErrParse, "%s: %v", path, err)
	}
	tokens := make([]string, len(m))
	for tok, id := range m {
		if id < 0 || id >= len(m) || tokens[id] != "" {
			return vocab{}, errors.Wrapf(formers.ErrParse, "%s: ids must be dense and unique, got %d for %q", path, id, tok)
		}
		tokens[id] = tok
	}
	return newVocab(tokens), nil
}

func (t *BPETokenizer) VocabSize() int { return t.vocab.size() }

func (t *BPETokenizer) ConvertTokensToIDs(tokens []string) []int {
	return t.vocab.toIDs(tokens, t.Options.UnkToken)
}

func (t *BPETokenizer) ConvertIDsToTokens(ids []int) []string {
	return t.vocab.toTokens(ids)
}

// SavePretrained implements formers.Tokenizer.
func (t *BPETokenizer) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	opts := t.Options
	opts.VocabFile, opts.MergesFile = "", ""
	if t.vocab.size() > 0 {
		opts.VocabFile = BPEVocabFile
		if err := writeJSON(filepath.Join(dir, BPEVocabFile), t.vocab.ids); err != nil {
			return err
		}
	}
	if len(t.Merges) > 0 {
		opts.MergesFile = BPEMergesFile
		if err := writeLines(filepath.Join(dir, BPEMergesFile), append([]string{"#version: 0.2"}, t.Merges...)); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, formers.TokenizerConfigFile), struct {
		Class string `json:"tokenizer_class"`
		BPEOptions
	}{t.Class, opts})
}
