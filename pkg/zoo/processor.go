// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"github.com/pkg/errors"

	"github.com/bodaay/formerhub/pkg/formers"
)

// TextProcessor pairs a tokenizer with the padding policy applied before a
// text model.
type TextProcessor struct {
	Class     string
	MaxLength int
	Padding   string
	tokenizer formers.Tokenizer
}

// Tokenizer implements formers.Processor.
func (p *TextProcessor) Tokenizer() formers.Tokenizer { return p.tokenizer }

type textProcessorArgs struct {
	MaxLength int    `yaml:"max_length"`
	Padding   string `yaml:"padding"`
}

func newTextProcessor(class string) formers.Constructor {
	return func(env formers.Env, tree *formers.Tree) (any, error) {
		args := textProcessorArgs{MaxLength: 128, Padding: "max_length"}
		if err := tree.Decode(&args); err != nil {
			return nil, err
		}
		switch args.Padding {
		case "max_length", "longest", "none":
		default:
			return nil, errors.Wrapf(formers.ErrInvalidArgument, "%s: padding %q", class, args.Padding)
		}
		sub, ok := tree.Sub("tokenizer")
		if !ok {
			return nil, &formers.FieldError{Source: class, Field: "tokenizer", Keys: tree.Keys()}
		}
		if env.Registry == nil {
			return nil, errors.Wrapf(formers.ErrInvalidArgument, "%s: no registry to build its tokenizer", class)
		}
		tok, err := formers.BuildAs[formers.Tokenizer](env.Registry, env, formers.ModuleTokenizer, sub)
		if err != nil {
			return nil, err
		}
		return &TextProcessor{Class: class, MaxLength: args.MaxLength, Padding: args.Padding, tokenizer: tok}, nil
	}
}
