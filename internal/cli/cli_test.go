// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodaay/formerhub/pkg/formers"
	"github.com/bodaay/formerhub/pkg/zoo"
)

func init() {
	color.NoColor = true
}

// isolate points HOME at an empty directory and clears the environment
// fallbacks so no user configuration leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HF_ENDPOINT", "")
	t.Setenv("FORMERHUB_TOKEN", "")
	return home
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// lastJSON decodes the final document of a --json run into v. Progress
// events come first, one per line.
func lastJSON(t *testing.T, out string, v any) {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(out))
	var last json.RawMessage
	for dec.More() {
		require.NoError(t, dec.Decode(&last))
	}
	require.NoError(t, json.Unmarshal(last, v))
}

// vocabFiles are served by newEndpoint under every family.
var vocabFiles = map[string]string{
	zoo.WordPieceVocabFile: "[PAD]\n[UNK]\nhello\n",
	zoo.BPEVocabFile:       `{"<unk>": 0, "hello": 1, "world": 2}`,
	zoo.BPEMergesFile:      "h e\n",
}

func newEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := vocabFiles[path.Base(r.URL.Path)]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		if !strings.HasSuffix(r.URL.Path, formers.CheckpointExt) {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("weights of " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupportList(t *testing.T) {
	isolate(t)
	cache := t.TempDir()

	out, _, err := run(t, "support-list", "--plain", "--cache-dir", cache)
	require.NoError(t, err)
	assert.Contains(t, out, "bert: bert_base_uncased, bert_tiny_uncased\n")
	assert.Contains(t, out, "mae: mae_vit_base_p16\n")

	out, _, err = run(t, "support-list", "processor", "--json", "--cache-dir", cache)
	require.NoError(t, err)
	var list formers.SupportList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.False(t, list.Contains("mae"))
	assert.True(t, list.Has("bloom_7.1b"))

	out, _, err = run(t, "support-list", "tokenizer", "--cache-dir", cache)
	require.NoError(t, err)
	assert.Contains(t, out, "Family")
	assert.Contains(t, out, "gpt2")

	_, _, err = run(t, "support-list", "dataset", "--cache-dir", cache)
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)
}

func TestResolveAndShow(t *testing.T) {
	isolate(t)
	cache := t.TempDir()

	out, _, err := run(t, "resolve", "gpt2", "--cache-dir", cache, "-q")
	require.NoError(t, err)
	want := filepath.Join(cache, "gpt2", "gpt2.yaml")
	assert.Equal(t, "cache     "+want+"\n", out)
	assert.FileExists(t, want)

	out, _, err = run(t, "resolve", want, "--json", "--cache-dir", cache)
	require.NoError(t, err)
	assert.Contains(t, out, `"source": "file"`)

	out, _, err = run(t, "show", "bert_tiny_uncased", "--cache-dir", cache, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "type: BertConfig")
	assert.Contains(t, out, "hidden_size:")

	_, _, err = run(t, "resolve", "llama_7b", "--cache-dir", cache, "-q")
	assert.ErrorIs(t, err, formers.ErrUnsupportedIdentifier)
}

func TestBuildModelAndSave(t *testing.T) {
	isolate(t)
	cache := t.TempDir()
	save := filepath.Join(t.TempDir(), "saved")
	endpoint := newEndpoint(t)

	out, stderr, err := run(t, "build", "gpt2", "--cache-dir", cache, "--endpoint", endpoint.URL, "--save", save)
	require.NoError(t, err)
	assert.Contains(t, out, "model gpt2 (GPT2LMHeadModel)")
	assert.Contains(t, out, "checkpoint: "+filepath.Join(cache, "gpt2", "gpt2.ckpt"))
	assert.Contains(t, stderr, "fetched")
	assert.FileExists(t, filepath.Join(save, "gpt2.yaml"))
	assert.FileExists(t, filepath.Join(save, "gpt2.ckpt"))

	// The saved directory rebuilds without the endpoint.
	out, _, err = run(t, "build", save, "--cache-dir", cache, "-q", "--json")
	require.NoError(t, err)
	var res buildResult
	lastJSON(t, out, &res)
	assert.Equal(t, "GPT2LMHeadModel", res.Type)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, filepath.Join(save, "gpt2.ckpt"), res.Checkpoint.Path)
}

func TestBuildTokenizerAndSave(t *testing.T) {
	isolate(t)
	cache := t.TempDir()
	save := t.TempDir()

	// Without an endpoint the vocabulary cannot be fetched.
	_, _, err := run(t, "build", "bloom_560m", "--kind", "tokenizer", "--cache-dir", cache, "-q")
	assert.ErrorIs(t, err, formers.ErrNotFound)

	endpoint := newEndpoint(t)
	out, _, err := run(t, "build", "bloom_560m", "--kind", "tokenizer", "--cache-dir", cache, "--endpoint", endpoint.URL, "--save", save, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "tokenizer bloom_560m (BPETokenizer)")
	assert.Contains(t, out, "vocabulary: 3 tokens")
	assert.FileExists(t, filepath.Join(save, formers.TokenizerConfigFile))
	assert.FileExists(t, filepath.Join(save, zoo.BPEVocabFile))

	out, _, err = run(t, "build", save, "--kind", "tokenizer", "--cache-dir", cache, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "(BPETokenizer)")
	assert.Contains(t, out, "vocabulary: 3 tokens")

	_, _, err = run(t, "build", "gpt2", "--kind", "vision", "--cache-dir", cache, "-q")
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)
}

func TestBuildConfigSave(t *testing.T) {
	isolate(t)
	save := t.TempDir()

	out, _, err := run(t, "build", "mae_vit_base_p16", "--kind", "config", "--save", save, "--name", "mae", "--cache-dir", t.TempDir(), "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "(MaeConfig)")
	assert.FileExists(t, filepath.Join(save, "mae.yaml"))
}

func TestFetch(t *testing.T) {
	isolate(t)
	cache := t.TempDir()
	endpoint := newEndpoint(t)
	t.Setenv("HF_ENDPOINT", endpoint.URL)

	out, _, err := run(t, "fetch", "gpt2", "bloom_560m", "--cache-dir", cache, "--json")
	require.NoError(t, err)
	var cks []formers.Checkpoint
	lastJSON(t, out, &cks)
	require.Len(t, cks, 2)
	assert.Equal(t, "gpt2", cks[0].Name)
	assert.Equal(t, "bloom_560m", cks[1].Name)
	assert.FileExists(t, filepath.Join(cache, "bloom", "bloom_560m.ckpt"))

	out, _, err = run(t, "fetch", "gpt2", "bloom_560m", "--cache-dir", cache, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "2 checkpoints")

	_, _, err = run(t, "fetch", "gpt2", "t5_small", "--cache-dir", cache, "-q")
	assert.ErrorIs(t, err, formers.ErrUnsupportedIdentifier)
}

func TestConfigFileDefaults(t *testing.T) {
	isolate(t)
	cache := filepath.Join(t.TempDir(), "from-config")
	cfgPath := filepath.Join(t.TempDir(), "formerhub.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("cache-dir: "+cache+"\nlog-level: error\n"), 0o644))

	out, _, err := run(t, "resolve", "gpt2", "--config", cfgPath, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(cache, "gpt2", "gpt2.yaml"))

	// Flags win over the file.
	other := t.TempDir()
	out, _, err = run(t, "resolve", "gpt2", "--config", cfgPath, "--cache-dir", other, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(other, "gpt2", "gpt2.yaml"))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("lock-timeout: soon\n"), 0o644))
	_, _, err = run(t, "resolve", "gpt2", "--config", bad, "-q")
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)
}

func TestConfigInitAndPath(t *testing.T) {
	home := isolate(t)

	out, _, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "formerhub.json")+"\n", out)

	out, _, err = run(t, "config", "init", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Created config file")

	path := filepath.Join(home, ".config", "formerhub.yaml")
	assert.FileExists(t, path)
	_, _, err = run(t, "config", "init", "--yaml")
	assert.Error(t, err)

	out, _, err = run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	out, _, err = run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "cache-dir:")
}

func TestLoggerOptions(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := newLogger(&RootOpts{LogLevel: "debug", LogFormat: "json"}, &buf)
	require.NoError(t, err)
	logger.Debug("hello", "k", 1)
	closeLog()
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, _, err = newLogger(&RootOpts{LogLevel: "loud"}, &buf)
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)
	_, _, err = newLogger(&RootOpts{LogLevel: "info", LogFormat: "xml"}, &buf)
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "test\n", out)

	out, _, err = run(t, "version", "--json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, formers.UserAgent, info.UserAgent)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "gpt2", shortName("gpt2"))
	assert.Equal(t, "bloom_7.1b", shortName("bloom_7.1b"))
	assert.Equal(t, "model", shortName("/tmp/x/model.yaml"))
	assert.Equal(t, "x", shortName("/tmp/x/"))
}
