// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package formers resolves model identifiers to configuration files and builds
configurations, models, processors and tokenizers from them through a
registry keyed by type names.

# Features

  - Bare identifiers: "bert_base_uncased" resolves to a cached copy of the
    bundled default template, created on first use
  - Directories and files: a directory holding a .yaml (and .ckpt for
    models) or a .yaml file can be used instead of an identifier
  - Round trips: a built Config converts back to the YAML it came from
  - Explicit registration: implementations are installed once with
    NewRegistry; there are no import side effects
  - Checkpoints: missing weights are fetched from a configured endpoint,
    verified and cached
  - Cache locking: concurrent processes never observe half-written files

# Quick Start

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/bodaay/formerhub/pkg/formers"
		"github.com/bodaay/formerhub/pkg/zoo"
	)

	func main() {
		cfg := formers.DefaultSettings()
		cfg.ProjectDir = "/opt/formerhub" // holds configs/<family>/model_config/

		hub, err := formers.New(formers.NewRegistry(zoo.Module{}), cfg)
		if err != nil {
			log.Fatal(err)
		}

		conf, err := hub.Config.FromPretrained(context.Background(), "bert_base_uncased")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(conf.ModelName())
	}

# Model Files

A model file holds a model and a processor section. The "type" keys select
the registered constructors:

	model:
	  model_config:
	    type: BertConfig
	    hidden_size: 768
	  arch:
	    type: BertForPretraining
	processor:
	  type: BertProcessor
	  tokenizer:
	    type: BertTokenizer

# Progress Events

The ProgressFunc in Settings receives:

  - resolve_start: resolution began
  - cache_hit: a cached config or checkpoint was reused
  - template_copy: a default template was copied into the cache
  - fetch_start, fetch_progress, fetch_done: a checkpoint transfer
  - built: an object was constructed

# Error Handling

All errors match one of the sentinels in errors.go with errors.Is:

	_, err := hub.Model.FromPretrained(ctx, "doesnotexist_1")
	if errors.Is(err, formers.ErrUnsupportedIdentifier) {
		// list hub.Model.SupportList()
	}
*/
package formers
