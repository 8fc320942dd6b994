// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodaay/formerhub/internal/assets"
	"github.com/bodaay/formerhub/pkg/formers"
)

func newTestHub(t *testing.T) *formers.Hub {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch path.Base(r.URL.Path) {
		case WordPieceVocabFile:
			_, _ = w.Write([]byte("[PAD]\n[UNK]\nhello\n"))
		case BPEVocabFile:
			_, _ = w.Write([]byte(`{"<unk>": 0, "hello": 1}`))
		case BPEMergesFile:
			_, _ = w.Write([]byte("h e\n"))
		default:
			_, _ = w.Write([]byte("ckpt" + r.URL.Path))
		}
	}))
	t.Cleanup(srv.Close)

	cfg := formers.DefaultSettings()
	cfg.CacheDir = t.TempDir()
	cfg.Templates = assets.Templates()
	cfg.Endpoint = srv.URL
	hub, err := formers.New(formers.NewRegistry(Module{}), cfg)
	require.NoError(t, err)
	return hub
}

func TestEverySupportedIdentifierBuilds(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	for _, family := range hub.Model.SupportList().Families() {
		for _, id := range hub.Model.SupportList()[family] {
			t.Run(id, func(t *testing.T) {
				m, err := hub.Model.FromPretrained(ctx, id)
				require.NoError(t, err)
				assert.NotEmpty(t, m.Config().ModelName())
				assert.Equal(t, id, m.Checkpoint().Name)

				if !hub.Processor.SupportList().Has(id) {
					return
				}
				p, err := hub.Processor.FromPretrained(ctx, id)
				require.NoError(t, err)
				require.NotNil(t, p.Tokenizer())
				assert.Positive(t, p.Tokenizer().VocabSize())

				tok, err := hub.Tokenizer.FromPretrained(ctx, id)
				require.NoError(t, err)
				assert.IsType(t, p.Tokenizer(), tok)
				assert.Equal(t, p.Tokenizer().VocabSize(), tok.VocabSize())
			})
		}
	}
}

func TestArchitectureOfEachFamily(t *testing.T) {
	hub := newTestHub(t)
	cases := map[string]string{
		"bert_base_uncased": ArchBert,
		"gpt2":              ArchGPT2,
		"bloom_7.1b":        ArchBloom,
		"mae_vit_base_p16":  ArchMae,
	}
	for id, arch := range cases {
		m, err := hub.Model.FromPretrained(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, arch, m.(*Model).Arch, id)
	}
}

func TestModelSavePretrained(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	m, err := hub.Model.FromPretrained(ctx, "bert_tiny_uncased")
	require.NoError(t, err)
	model := m.(*Model)

	dir := filepath.Join(t.TempDir(), "tiny")
	require.NoError(t, model.SavePretrained(dir, "tiny"))
	assert.Equal(t, "bert_tiny_uncased", model.Cfg.CheckpointNameOrPath(), "restored after saving")

	data, err := os.ReadFile(filepath.Join(dir, "tiny.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "checkpoint_name_or_path")
	assert.Contains(t, string(data), "type: BertForPretraining")

	again, err := hub.Model.FromPretrained(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tiny.ckpt"), again.Checkpoint().Path)
	assert.Equal(t, m.Checkpoint().SHA256, again.Checkpoint().SHA256)
	assert.Equal(t, model.Cfg.(*BertConfig).HiddenSize, again.Config().(*BertConfig).HiddenSize)

	// Saving over its own checkpoint keeps the file intact.
	require.NoError(t, again.(*Model).SavePretrained(dir, "tiny"))
	ck, err := hub.Store().LoadWeights(ctx, filepath.Join(dir, "tiny.ckpt"))
	require.NoError(t, err)
	assert.Equal(t, m.Checkpoint().SHA256, ck.SHA256)
}

func TestModelWithoutLoader(t *testing.T) {
	r := formers.NewRegistry(Module{})
	cfg := NewGPT2Config()
	cfg.SetCheckpointNameOrPath("gpt2")
	_, err := r.Build(formers.Env{}, formers.ModuleModel, formers.TreeOf("type", ArchGPT2, "config", cfg))
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)

	_, err = r.Build(formers.Env{}, formers.ModuleModel, formers.TreeOf("type", ArchGPT2, "config", NewBloomConfig()))
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)
}

func TestWordPieceVocabulary(t *testing.T) {
	r := formers.NewRegistry(Module{})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "words.txt"), []byte("[PAD]\r\n[UNK]\nhello\nworld\n\n"), 0o644))

	tok, err := formers.BuildAs[*WordPieceTokenizer](r, formers.Env{Dir: dir}, formers.ModuleTokenizer,
		formers.TreeOf("type", "BertTokenizer", "vocab_file", "words.txt"))
	require.NoError(t, err)
	assert.Equal(t, 4, tok.VocabSize())
	assert.Equal(t, []int{2, 1}, tok.ConvertTokensToIDs([]string{"hello", "nope"}))
	assert.Equal(t, []string{"world", ""}, tok.ConvertIDsToTokens([]int{3, 9}))

	out := t.TempDir()
	require.NoError(t, tok.SavePretrained(out))
	lines, err := readLines(filepath.Join(out, WordPieceVocabFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"[PAD]", "[UNK]", "hello", "world"}, lines)

	cfg, err := formers.LoadJSON(filepath.Join(out, formers.TokenizerConfigFile))
	require.NoError(t, err)
	assert.Equal(t, "tokenizer_class", cfg.Keys()[0])
	assert.Equal(t, WordPieceVocabFile, cfg.GetDefault("vocab_file", ""))

	_, err = formers.BuildAs[*WordPieceTokenizer](r, formers.Env{Dir: dir}, formers.ModuleTokenizer,
		formers.TreeOf("type", "BertTokenizer", "vocab_file", "absent.txt"))
	assert.ErrorIs(t, err, formers.ErrNotFound)
}

func TestBPEVocabularyMustBeDense(t *testing.T) {
	r := formers.NewRegistry(Module{})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, BPEVocabFile), []byte(`{"a": 0, "b": 2}`), 0o644))
	_, err := r.Build(formers.Env{Dir: dir}, formers.ModuleTokenizer, formers.TreeOf("type", "GPT2Tokenizer"))
	assert.ErrorIs(t, err, formers.ErrParse)
}

func TestTextProcessorPadding(t *testing.T) {
	r := formers.NewRegistry(Module{})
	tokenizer := formers.TreeOf("type", "GPT2Tokenizer")

	p, err := r.Build(formers.Env{}, formers.ModuleProcessor, formers.TreeOf("type", "GPT2Processor", "tokenizer", tokenizer))
	require.NoError(t, err)
	tp := p.(*TextProcessor)
	assert.Equal(t, 128, tp.MaxLength)
	assert.Equal(t, "max_length", tp.Padding)

	_, err = r.Build(formers.Env{}, formers.ModuleProcessor,
		formers.TreeOf("type", "GPT2Processor", "padding", "left", "tokenizer", tokenizer))
	assert.ErrorIs(t, err, formers.ErrInvalidArgument)

	_, err = r.Build(formers.Env{}, formers.ModuleProcessor, formers.TreeOf("type", "GPT2Processor"))
	assert.ErrorIs(t, err, formers.ErrMissingField)
}
