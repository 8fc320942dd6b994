// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/formerhub/pkg/formers"
)

var kinds = []string{"config", "model", "processor", "tokenizer"}

// supportFor returns the support list of an auto class by kind.
func supportFor(hub *formers.Hub, kind string) (formers.SupportList, error) {
	switch kind {
	case "config":
		return hub.Config.SupportList(), nil
	case "model":
		return hub.Model.SupportList(), nil
	case "processor":
		return hub.Processor.SupportList(), nil
	case "tokenizer":
		return hub.Tokenizer.SupportList(), nil
	}
	return nil, errors.Wrapf(formers.ErrInvalidArgument, "kind %q (expected one of %s)", kind, strings.Join(kinds, ", "))
}

// supportTable renders a support list as a two column table.
func supportTable(list formers.SupportList) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	familyStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return familyStyle
			}
			return cellStyle
		}).
		Headers("Family", "Identifiers")
	for _, f := range list.Families() {
		t.Row(f, strings.Join(list[f], ", "))
	}
	return t.Render()
}

func newSupportListCmd(ro *RootOpts) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "support-list [KIND]",
		Short: "List the identifiers an auto class accepts (config, model, processor, tokenizer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "model"
			if len(args) > 0 {
				kind = args[0]
			}
			s, err := openSession(cmd, ro)
			if err != nil {
				return err
			}
			defer s.close()

			list, err := supportFor(s.hub, kind)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case ro.JSONOut:
				return writeResult(out, list)
			case plain:
				return list.Write(out)
			}
			_, err = fmt.Fprintln(out, supportTable(list))
			return err
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print \"family: id, id\" lines instead of a table")

	return cmd
}

func newResolveCmd(ro *RootOpts) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "resolve IDENTIFIER",
		Short: "Resolve an identifier to its configuration file, populating the cache",
		Example: `  formerhub resolve gpt2
  formerhub resolve ./my_model_dir
  formerhub resolve bert_base_uncased --kind tokenizer`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, ro)
			if err != nil {
				return err
			}
			defer s.close()

			support, err := supportFor(s.hub, kind)
			if err != nil {
				return err
			}
			res, err := s.hub.Resolver().Resolve(cmd.Context(), args[0], support)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				return writeResult(cmd.OutOrStdout(), struct {
					formers.Resolution
					Source string `json:"source"`
				}{res, res.Source.String()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", res.Source, res.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "model", "Support list to check bare names against")

	return cmd
}

func newShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show IDENTIFIER",
		Short: "Print the instantiated model configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, ro)
			if err != nil {
				return err
			}
			defer s.close()

			cfg, err := s.hub.Config.FromPretrained(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tree, err := formers.ToTree(cfg)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				return writeResult(cmd.OutOrStdout(), tree)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(tree); err != nil {
				return errors.Wrap(err, "encode config")
			}
			return enc.Close()
		},
	}
}

// buildResult is the --json output of build.
type buildResult struct {
	Identifier string              `json:"identifier"`
	Kind       string              `json:"kind"`
	Type       string              `json:"type"`
	Checkpoint *formers.Checkpoint `json:"checkpoint,omitempty"`
	VocabSize  int                 `json:"vocabSize,omitempty"`
	SavedTo    string              `json:"savedTo,omitempty"`
}

type modelSaver interface {
	SavePretrained(dir, name string) error
}

func newBuildCmd(ro *RootOpts) *cobra.Command {
	var (
		kind string
		save string
		name string
	)

	cmd := &cobra.Command{
		Use:   "build IDENTIFIER",
		Short: "Build a config, model, processor or tokenizer",
		Long: `Build an object from a bare identifier, a configuration file or a directory.

With --save the built object is written to a directory it can be rebuilt from:
models as <name>.yaml plus their checkpoint, tokenizers as tokenizer_config.json
plus their vocabulary, configs as <name>.yaml.`,
		Example: `  formerhub build gpt2
  formerhub build bert_base_uncased --kind tokenizer --save ./bert_tok
  formerhub build ./my_model_dir`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, ro)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			id := args[0]
			if name == "" {
				name = shortName(id)
			}
			res := buildResult{Identifier: id, Kind: kind, SavedTo: save}

			switch kind {
			case "config":
				cfg, err := s.hub.Config.FromPretrained(ctx, id)
				if err != nil {
					return err
				}
				res.Type = formers.TypeName(cfg)
				if save != "" {
					if res.SavedTo, err = formers.SaveConfig(save, name, cfg); err != nil {
						return err
					}
				}
			case "model":
				m, err := s.hub.Model.FromPretrained(ctx, id)
				if err != nil {
					return err
				}
				res.Type = m.Config().ModelName()
				res.Checkpoint = m.Checkpoint()
				if save != "" {
					saver, ok := m.(modelSaver)
					if !ok {
						return errors.Wrapf(formers.ErrInvalidArgument, "%s cannot be saved", res.Type)
					}
					if err := saver.SavePretrained(save, name); err != nil {
						return err
					}
				}
			case "processor":
				p, err := s.hub.Processor.FromPretrained(ctx, id)
				if err != nil {
					return err
				}
				res.Type = formers.TypeName(p)
				if tok := p.Tokenizer(); tok != nil {
					res.VocabSize = tok.VocabSize()
					if save != "" {
						if err := tok.SavePretrained(save); err != nil {
							return err
						}
					}
				}
			case "tokenizer":
				tok, err := s.hub.Tokenizer.FromPretrained(ctx, id)
				if err != nil {
					return err
				}
				res.Type = formers.TypeName(tok)
				res.VocabSize = tok.VocabSize()
				if save != "" {
					if err := tok.SavePretrained(save); err != nil {
						return err
					}
				}
			default:
				_, err := supportFor(s.hub, kind)
				return err
			}

			if ro.JSONOut {
				return writeResult(cmd.OutOrStdout(), res)
			}
			printBuild(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "model", "What to build: config, model, processor, tokenizer")
	cmd.Flags().StringVarP(&save, "save", "o", "", "Save the built object into this directory")
	cmd.Flags().StringVar(&name, "name", "", "File name (without extension) for saved configs and checkpoints")

	return cmd
}

func printBuild(w io.Writer, res buildResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s %s %s (%s)\n", ok("✓"), res.Kind, res.Identifier, res.Type)
	if ck := res.Checkpoint; ck != nil {
		fmt.Fprintf(w, "  checkpoint: %s (%s, sha256 %s)\n", ck.Path, humanize.Bytes(uint64(ck.Size)), short(ck.SHA256))
	}
	if res.Kind == "tokenizer" || res.Kind == "processor" {
		fmt.Fprintf(w, "  vocabulary: %d tokens\n", res.VocabSize)
	}
	if res.SavedTo != "" {
		fmt.Fprintf(w, "  saved to:   %s\n", res.SavedTo)
	}
}

func newFetchCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch IDENTIFIER...",
		Short: "Download checkpoints into the cache without building models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, ro)
			if err != nil {
				return err
			}
			defer s.close()

			// Validate every name before the first transfer.
			support := s.hub.Model.SupportList()
			for _, id := range args {
				if _, err := formers.CheckSupported(id, support); err != nil {
					return err
				}
			}

			var (
				done  []*formers.Checkpoint
				total int64
			)
			for _, id := range args {
				ck, err := s.hub.Store().LoadWeights(cmd.Context(), id)
				if err != nil {
					return err
				}
				done = append(done, ck)
				total += ck.Size
			}
			if ro.JSONOut {
				return writeResult(cmd.OutOrStdout(), done)
			}
			out := cmd.OutOrStdout()
			for _, ck := range done {
				fmt.Fprintf(out, "%-20s %10s  %s  %s\n", ck.Name, humanize.Bytes(uint64(ck.Size)), short(ck.SHA256), ck.Path)
			}
			if len(done) > 1 {
				fmt.Fprintf(out, "%d checkpoints, %s\n", len(done), humanize.Bytes(uint64(total)))
			}
			return nil
		},
	}
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// shortName is the last path element of id without its extension.
func shortName(id string) string {
	id = strings.TrimRight(id, `/\`)
	if i := strings.LastIndexAny(id, `/\`); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.LastIndex(id, "."); i > 0 && (strings.HasSuffix(id, formers.ConfigExt) || strings.HasSuffix(id, formers.CheckpointExt)) {
		id = id[:i]
	}
	return id
}
