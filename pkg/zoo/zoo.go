// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package zoo provides the model families shipped with formerhub: BERT,
// GPT-2, BLOOM and MAE. Install them with formers.NewRegistry(zoo.Module{}).
package zoo

import "github.com/bodaay/formerhub/pkg/formers"

// Architecture names, as found under model.arch.type.
const (
	ArchBert  = "BertForPretraining"
	ArchGPT2  = "GPT2LMHeadModel"
	ArchBloom = "BloomLMHeadModel"
	ArchMae   = "MaeModel"
)

// Supported identifiers per family.
var (
	BertIDs  = []string{"bert_base_uncased", "bert_tiny_uncased"}
	GPT2IDs  = []string{"gpt2"}
	BloomIDs = []string{"bloom_560m", "bloom_7.1b"}
	MaeIDs   = []string{"mae_vit_base_p16"}
)

// Module registers every family of the zoo.
type Module struct{}

// Register implements formers.Module.
func (Module) Register(r *formers.Registry) {
	formers.RegisterConfig(r, NewBertConfig)
	formers.RegisterConfig(r, NewGPT2Config)
	formers.RegisterConfig(r, NewBloomConfig)
	formers.RegisterConfig(r, NewVitConfig)
	formers.RegisterConfig(r, NewMaeConfig)

	registerArch[*BertConfig](r, ArchBert)
	registerArch[*GPT2Config](r, ArchGPT2)
	registerArch[*BloomConfig](r, ArchBloom)
	registerArch[*MaeConfig](r, ArchMae)

	r.Register(formers.ModuleTokenizer, "BertTokenizer", newWordPiece("BertTokenizer"))
	r.Register(formers.ModuleTokenizer, "GPT2Tokenizer", newBPE("GPT2Tokenizer", BPEOptions{
		UnkToken:  "<|endoftext|>",
		BosToken:  "<|endoftext|>",
		EosToken:  "<|endoftext|>",
		PadToken:  "<|endoftext|>",
		MaxLength: 1024,
	}))
	r.Register(formers.ModuleTokenizer, "BloomTokenizer", newBPE("BloomTokenizer", BPEOptions{
		UnkToken:       "<unk>",
		BosToken:       "<s>",
		EosToken:       "</s>",
		PadToken:       "<pad>",
		AddPrefixSpace: false,
		MaxLength:      2048,
	}))

	r.Register(formers.ModuleProcessor, "BertProcessor", newTextProcessor("BertProcessor"))
	r.Register(formers.ModuleProcessor, "GPT2Processor", newTextProcessor("GPT2Processor"))
	r.Register(formers.ModuleProcessor, "BloomProcessor", newTextProcessor("BloomProcessor"))

	r.RegisterSupport(formers.ModuleModel, "bert", BertIDs...)
	r.RegisterSupport(formers.ModuleModel, "gpt2", GPT2IDs...)
	r.RegisterSupport(formers.ModuleModel, "bloom", BloomIDs...)
	r.RegisterSupport(formers.ModuleModel, "mae", MaeIDs...)

	// MAE is a vision model without a text processor.
	r.RegisterSupport(formers.ModuleProcessor, "bert", BertIDs...)
	r.RegisterSupport(formers.ModuleProcessor, "gpt2", GPT2IDs...)
	r.RegisterSupport(formers.ModuleProcessor, "bloom", BloomIDs...)

	r.RegisterSupport(formers.ModuleTokenizer, "bert", BertIDs...)
	r.RegisterSupport(formers.ModuleTokenizer, "gpt2", GPT2IDs...)
	r.RegisterSupport(formers.ModuleTokenizer, "bloom", BloomIDs...)
}
