// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package zoo

import "github.com/bodaay/formerhub/pkg/formers"

// BertConfig configures the BERT family.
type BertConfig struct {
	formers.BaseConfig `yaml:",inline"`

	VocabSize             int     `yaml:"vocab_size"`
	HiddenSize            int     `yaml:"hidden_size"`
	NumLayers             int     `yaml:"num_hidden_layers"`
	NumHeads              int     `yaml:"num_attention_heads"`
	IntermediateSize      int     `yaml:"intermediate_size"`
	HiddenAct             string  `yaml:"hidden_act"`
	HiddenDropoutProb     float64 `yaml:"hidden_dropout_prob"`
	MaxPositionEmbeddings int     `yaml:"max_position_embeddings"`
	TypeVocabSize         int     `yaml:"type_vocab_size"`
	SeqLength             int     `yaml:"seq_length"`
	ComputeDtype          string  `yaml:"compute_dtype,omitempty"`
}

// NewBertConfig returns the bert_base_uncased defaults.
func NewBertConfig() *BertConfig {
	return &BertConfig{
		VocabSize:             30522,
		HiddenSize:            768,
		NumLayers:             12,
		NumHeads:              12,
		IntermediateSize:      3072,
		HiddenAct:             "gelu",
		HiddenDropoutProb:     0.1,
		MaxPositionEmbeddings: 512,
		TypeVocabSize:         2,
		SeqLength:             128,
	}
}

// GPT2Config configures the GPT-2 family.
type GPT2Config struct {
	formers.BaseConfig `yaml:",inline"`

	VocabSize      int     `yaml:"vocab_size"`
	HiddenSize     int     `yaml:"hidden_size"`
	NumLayers      int     `yaml:"num_layers"`
	NumHeads       int     `yaml:"num_heads"`
	SeqLength      int     `yaml:"seq_length"`
	EmbeddingDrop  float64 `yaml:"embedding_dropout_prob"`
	AttentionDrop  float64 `yaml:"attention_dropout_rate"`
	LayerNormEps   float64 `yaml:"layernorm_epsilon"`
	UseRelativePos bool    `yaml:"use_relative_positions"`
	ComputeDtype   string  `yaml:"compute_dtype,omitempty"`
}

// NewGPT2Config returns the gpt2 (small) defaults.
func NewGPT2Config() *GPT2Config {
	return &GPT2Config{
		VocabSize:     50257,
		HiddenSize:    768,
		NumLayers:     12,
		NumHeads:      12,
		SeqLength:     1024,
		EmbeddingDrop: 0.1,
		AttentionDrop: 0.1,
		LayerNormEps:  1e-5,
	}
}

// BloomConfig configures the BLOOM family.
type BloomConfig struct {
	formers.BaseConfig `yaml:",inline"`

	VocabSize          int     `yaml:"vocab_size"`
	HiddenSize         int     `yaml:"hidden_size"`
	NumLayers          int     `yaml:"num_layers"`
	NumHeads           int     `yaml:"num_heads"`
	SeqLength          int     `yaml:"seq_length"`
	HiddenDropoutRate  float64 `yaml:"hidden_dropout_rate"`
	AttentionDropout   float64 `yaml:"attention_dropout_rate"`
	EmbeddingLayerNorm bool    `yaml:"embedding_layernorm"`
	BosTokenID         int     `yaml:"bos_token_id"`
	EosTokenID         int     `yaml:"eos_token_id"`
	ComputeDtype       string  `yaml:"compute_dtype,omitempty"`
}

// NewBloomConfig returns the bloom_560m defaults.
func NewBloomConfig() *BloomConfig {
	return &BloomConfig{
		VocabSize:          250880,
		HiddenSize:         1024,
		NumLayers:          24,
		NumHeads:           16,
		SeqLength:          2048,
		EmbeddingLayerNorm: true,
		BosTokenID:         1,
		EosTokenID:         2,
	}
}

// VitConfig configures a vision transformer. It is used as the MAE encoder.
type VitConfig struct {
	formers.BaseConfig `yaml:",inline"`

	ImageSize   int     `yaml:"image_size"`
	PatchSize   int     `yaml:"patch_size"`
	NumChannels int     `yaml:"num_channels"`
	HiddenSize  int     `yaml:"hidden_size"`
	NumLayers   int     `yaml:"num_layers"`
	NumHeads    int     `yaml:"num_heads"`
	MLPRatio    float64 `yaml:"mlp_ratio"`
	DropPath    float64 `yaml:"drop_path_rate"`
}

// NewVitConfig returns the ViT-B/16 defaults.
func NewVitConfig() *VitConfig {
	return &VitConfig{
		ImageSize:   224,
		PatchSize:   16,
		NumChannels: 3,
		HiddenSize:  768,
		NumLayers:   12,
		NumHeads:    12,
		MLPRatio:    4,
	}
}

// MaeConfig configures a masked autoencoder.
type MaeConfig struct {
	formers.BaseConfig `yaml:",inline"`

	Encoder           *VitConfig `yaml:"encoder"`
	DecoderHiddenSize int        `yaml:"decoder_hidden_size"`
	DecoderLayers     int        `yaml:"decoder_num_layers"`
	DecoderHeads      int        `yaml:"decoder_num_heads"`
	MaskRatio         float64    `yaml:"mask_ratio"`
	NormPixelLoss     bool       `yaml:"norm_pixel_loss"`
}

// NewMaeConfig returns the mae_vit_base_p16 defaults.
func NewMaeConfig() *MaeConfig {
	return &MaeConfig{
		Encoder:           NewVitConfig(),
		DecoderHiddenSize: 512,
		DecoderLayers:     8,
		DecoderHeads:      16,
		MaskRatio:         0.75,
		NormPixelLoss:     true,
	}
}
