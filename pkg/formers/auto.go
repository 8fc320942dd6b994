// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Model is implemented by everything registered under ModuleModel.
type Model interface {
	Config() Config
	// Checkpoint returns the weights the model loaded, or nil.
	Checkpoint() *Checkpoint
}

// Tokenizer is implemented by everything registered under ModuleTokenizer.
type Tokenizer interface {
	VocabSize() int
	// SavePretrained writes tokenizer_config.json and the vocabulary to dir
	// so the tokenizer can be restored with Hub.Tokenizer.FromPretrained(dir).
	SavePretrained(dir string) error
}

// Processor is implemented by everything registered under ModuleProcessor.
type Processor interface {
	Tokenizer() Tokenizer
}

// Hub is the entry point of the library. It ties a frozen Registry to a cache
// and exposes one auto class per module type.
type Hub struct {
	Config    *AutoConfig
	Model     *AutoModel
	Processor *AutoProcessor
	Tokenizer *AutoTokenizer

	reg      *Registry
	resolver *Resolver
	store    *Store
	cfg      Settings
	logger   *slog.Logger
}

// New returns a Hub building objects from reg.
func New(reg *Registry, cfg Settings) (*Hub, error) {
	if reg == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil registry")
	}
	def := DefaultSettings()
	if cfg.CacheDir == "" {
		cfg.CacheDir = def.CacheDir
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = def.ProjectDir
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger
	}
	h := &Hub{
		reg:      reg,
		resolver: NewResolver(cfg),
		store:    NewStore(cfg),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
	h.Config = &AutoConfig{hub: h}
	h.Model = &AutoModel{hub: h}
	h.Processor = &AutoProcessor{hub: h}
	h.Tokenizer = &AutoTokenizer{hub: h}
	return h, nil
}

// Registry returns the registry the hub builds from.
func (h *Hub) Registry() *Registry { return h.reg }

// Resolver returns the hub's identifier resolver.
func (h *Hub) Resolver() *Resolver { return h.resolver }

// Store returns the hub's checkpoint store.
func (h *Hub) Store() *Store { return h.store }

// Settings returns the effective settings.
func (h *Hub) Settings() Settings { return h.cfg }

func (h *Hub) env(ctx context.Context, dir, family string) Env {
	return Env{
		Context:  ctx,
		Registry: h.reg,
		Weights:  h.store,
		Files:    h.store,
		Logger:   h.logger,
		Dir:      dir,
		Family:   family,
	}
}

func (h *Hub) built(identifier string, obj any) {
	name := TypeName(obj)
	if m, ok := obj.(Model); ok && m.Config() != nil && m.Config().ModelName() != "" {
		name = m.Config().ModelName()
	}
	h.logger.Info("built", "identifier", identifier, "type", name)
	h.cfg.Progress.emit(ProgressEvent{Event: "built", Identifier: identifier, Type: name})
}

func showSupportList(logger *slog.Logger, name string, list SupportList, w io.Writer) error {
	logger.Info("support list", "class", name)
	return list.Write(w)
}

// buildConfig builds model.model_config and names it after model.arch.type.
func (h *Hub) buildConfig(env Env, model *Tree) (Config, error) {
	mc, ok := model.Sub("model_config")
	if !ok {
		return nil, &FieldError{Source: "model", Field: "model_config", Keys: model.Keys()}
	}
	cfg, err := BuildAs[Config](h.reg, env, ModuleConfig, mc)
	if err != nil {
		return nil, err
	}
	if arch, ok := model.Lookup("arch", "type"); ok {
		if name, ok := arch.(string); ok && name != "" {
			cfg.SetModelName(name)
		}
	}
	return cfg, nil
}

// buildModel builds a model from a full model file tree.
func (h *Hub) buildModel(env Env, tree *Tree) (Model, error) {
	model, ok := tree.Sub("model")
	if !ok {
		return nil, &FieldError{Source: "model file", Field: "model", Keys: tree.Keys()}
	}
	cfg, err := h.buildConfig(env, model)
	if err != nil {
		return nil, err
	}
	arch, ok := model.Sub("arch")
	if !ok {
		return nil, &FieldError{Source: "model", Field: "arch", Keys: model.Keys()}
	}
	arch = arch.Clone()
	arch.Set("config", cfg)
	return BuildAs[Model](h.reg, env, ModuleModel, arch)
}

func modelSection(tree *Tree, path string) (*Tree, error) {
	model, ok := tree.Sub("model")
	if !ok {
		return nil, &FieldError{Source: path, Field: "model", Keys: tree.Keys()}
	}
	mc, ok := model.Sub("model_config")
	if !ok {
		return nil, &FieldError{Source: path, Field: "model.model_config", Keys: model.Keys()}
	}
	return mc, nil
}

// AutoConfig builds model configurations.
type AutoConfig struct{ hub *Hub }

// FromPretrained resolves identifier, loads the file and builds its
// model.model_config section.
func (a *AutoConfig) FromPretrained(ctx context.Context, identifier string) (Config, error) {
	h := a.hub
	res, err := h.resolver.Resolve(ctx, identifier, a.SupportList())
	if err != nil {
		return nil, err
	}
	tree, err := Load(res.Path)
	if err != nil {
		return nil, err
	}
	h.logger.Info("building config", "path", res.Path, "source", res.Source.String())
	model, ok := tree.Sub("model")
	if !ok {
		return nil, &FieldError{Source: res.Path, Field: "model", Keys: tree.Keys()}
	}
	cfg, err := h.buildConfig(h.env(ctx, res.Dir, res.Family), model)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %s", identifier)
	}
	h.built(identifier, cfg)
	return cfg, nil
}

// SupportList returns the identifiers FromPretrained accepts as bare names.
func (a *AutoConfig) SupportList() SupportList { return a.hub.reg.Support(ModuleModel) }

// ShowSupportList prints the support list to w.
func (a *AutoConfig) ShowSupportList(w io.Writer) error {
	return showSupportList(a.hub.logger, "AutoConfig", a.SupportList(), w)
}

// LoadState tracks AutoModel.FromPretrained.
type LoadState int

const (
	StateUnresolved LoadState = iota
	StateResolving
	StateDirectoryResolved
	StateCacheResolved
	StateConfigLoaded
	StateBuilt
)

func (s LoadState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateDirectoryResolved:
		return "directory-resolved"
	case StateCacheResolved:
		return "cache-resolved"
	case StateConfigLoaded:
		return "config-loaded"
	case StateBuilt:
		return "built"
	default:
		return "unresolved"
	}
}

// AutoModel builds models.
type AutoModel struct{ hub *Hub }

// FromPretrained builds a model from a directory holding a .yaml and a .ckpt
// file, or from a bare identifier whose checkpoint is loaded through the
// store. Existing files are rejected; use FromConfigFile for those.
func (a *AutoModel) FromPretrained(ctx context.Context, identifier string) (Model, error) {
	h := a.hub
	state := StateUnresolved
	advance := func(s LoadState) {
		state = s
		h.logger.Debug("model load", "identifier", identifier, "state", s.String())
	}
	fail := func(err error) (Model, error) {
		return nil, errors.WithMessagef(err, "model %s (%s)", identifier, state)
	}

	if strings.TrimSpace(identifier) == "" {
		return fail(errors.Wrap(ErrInvalidArgument, "empty identifier"))
	}
	advance(StateResolving)

	var (
		res        Resolution
		checkpoint string
	)
	fi, err := statLocal(h.cfg.BareOnly, identifier)
	switch {
	case err == nil && !fi.IsDir():
		return fail(errors.Wrapf(ErrInvalidArgument, "%s is not a directory", identifier))
	case err == nil:
		if res, checkpoint, err = h.resolver.ResolveModelDir(identifier); err != nil {
			return fail(err)
		}
		h.logger.Info("using directory", "config", res.Path, "weights", checkpoint)
		advance(StateDirectoryResolved)
	case errors.Is(err, fs.ErrNotExist):
		if res, err = h.resolver.ResolveBare(ctx, identifier, a.SupportList()); err != nil {
			return fail(err)
		}
		checkpoint = identifier
		advance(StateCacheResolved)
	default:
		return fail(errors.Wrapf(err, "stat %s", identifier))
	}

	tree, err := Load(res.Path)
	if err != nil {
		return fail(err)
	}
	mc, err := modelSection(tree, res.Path)
	if err != nil {
		return fail(err)
	}
	mc.Set("checkpoint_name_or_path", checkpoint)
	advance(StateConfigLoaded)

	m, err := h.buildModel(h.env(ctx, res.Dir, res.Family), tree)
	if err != nil {
		return fail(err)
	}
	advance(StateBuilt)
	h.built(identifier, m)
	return m, nil
}

// FromConfig builds a model from an instantiated config. The config must
// carry its architecture name (see Config.ModelName).
func (a *AutoModel) FromConfig(ctx context.Context, cfg Config) (Model, error) {
	tree, err := ToTree(cfg)
	if err != nil {
		return nil, err
	}
	wrapped, err := Wrap(tree)
	if err != nil {
		return nil, err
	}
	m, err := a.hub.buildModel(a.hub.env(ctx, "", ""), wrapped)
	if err != nil {
		return nil, err
	}
	a.hub.built(TypeName(cfg), m)
	return m, nil
}

// FromConfigFile builds a model from an existing .yaml model file.
func (a *AutoModel) FromConfigFile(ctx context.Context, path string) (Model, error) {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || filepath.Ext(path) != ConfigExt {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s is not an existing %s file", path, ConfigExt)
	}
	tree, err := Load(path)
	if err != nil {
		return nil, err
	}
	m, err := a.hub.buildModel(a.hub.env(ctx, "", ""), tree)
	if err != nil {
		return nil, errors.WithMessagef(err, "model file %s", path)
	}
	a.hub.built(path, m)
	return m, nil
}

// SupportList returns the identifiers FromPretrained accepts as bare names.
func (a *AutoModel) SupportList() SupportList { return a.hub.reg.Support(ModuleModel) }

// ShowSupportList prints the support list to w.
func (a *AutoModel) ShowSupportList(w io.Writer) error {
	return showSupportList(a.hub.logger, "AutoModel", a.SupportList(), w)
}

// AutoProcessor builds processors from the processor section of a model file.
type AutoProcessor struct{ hub *Hub }

// FromPretrained resolves identifier and builds its processor section.
// Processors read their vocabularies from the resolved directory; for bare
// identifiers that is the cache entry, populated from the endpoint.
func (a *AutoProcessor) FromPretrained(ctx context.Context, identifier string) (Processor, error) {
	h := a.hub
	res, err := h.resolver.Resolve(ctx, identifier, a.SupportList())
	if err != nil {
		return nil, err
	}
	tree, err := Load(res.Path)
	if err != nil {
		return nil, err
	}
	section, ok := tree.Sub("processor")
	if !ok {
		return nil, &FieldError{Source: res.Path, Field: "processor", Keys: tree.Keys()}
	}
	p, err := BuildAs[Processor](h.reg, h.env(ctx, res.Dir, res.Family), ModuleProcessor, section)
	if err != nil {
		return nil, errors.WithMessagef(err, "processor %s", identifier)
	}
	h.built(identifier, p)
	return p, nil
}

// SupportList returns the identifiers FromPretrained accepts as bare names.
func (a *AutoProcessor) SupportList() SupportList { return a.hub.reg.Support(ModuleProcessor) }

// ShowSupportList prints the support list to w.
func (a *AutoProcessor) ShowSupportList(w io.Writer) error {
	return showSupportList(a.hub.logger, "AutoProcessor", a.SupportList(), w)
}

// AutoTokenizer builds tokenizers.
type AutoTokenizer struct{ hub *Hub }

// FromPretrained builds a tokenizer from a supported identifier or from a
// directory. The tokenizer type comes from processor.tokenizer.type of the
// model file; for directories without one, tokenizer_config.json supplies it
// as tokenizer_class. Bare identifiers read their vocabulary from the cache
// entry of their family, fetched from the endpoint when missing.
func (a *AutoTokenizer) FromPretrained(ctx context.Context, identifier string) (Tokenizer, error) {
	h := a.hub
	if strings.TrimSpace(identifier) == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "empty identifier")
	}
	support := a.SupportList()

	var (
		args *Tree
		dir  string
		fam  string
	)
	switch {
	case support.Has(identifier):
		res, err := h.resolver.ResolveBare(ctx, identifier, support)
		if err != nil {
			return nil, err
		}
		tree, err := Load(res.Path)
		if err != nil {
			return nil, err
		}
		if args = tokenizerSection(tree); args == nil {
			return nil, &FieldError{Source: res.Path, Field: "processor.tokenizer.type", Keys: tree.Keys()}
		}
		dir, fam = res.Dir, res.Family
	case !h.cfg.BareOnly && isDir(identifier):
		dir = identifier
		p, err := FindFirst(identifier, ConfigExt)
		switch {
		case err == nil:
			tree, err := Load(p)
			if err != nil {
				return nil, err
			}
			args = tokenizerSection(tree)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
		if args == nil {
			if args, err = tokenizerConfig(identifier); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Wrapf(ErrNotFound, "%s is neither a supported identifier (%s) nor a directory",
			identifier, strings.Join(support.Families(), ", "))
	}

	tok, err := BuildAs[Tokenizer](h.reg, h.env(ctx, dir, fam), ModuleTokenizer, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "tokenizer %s", identifier)
	}
	h.built(identifier, tok)
	return tok, nil
}

// SupportList returns the identifiers FromPretrained accepts as bare names.
func (a *AutoTokenizer) SupportList() SupportList { return a.hub.reg.Support(ModuleTokenizer) }

// ShowSupportList prints the support list to w.
func (a *AutoTokenizer) ShowSupportList(w io.Writer) error {
	return showSupportList(a.hub.logger, "AutoTokenizer", a.SupportList(), w)
}

// tokenizerSection returns a copy of processor.tokenizer when it names a
// type, nil otherwise.
func tokenizerSection(tree *Tree) *Tree {
	v, ok := tree.Lookup("processor", "tokenizer")
	if !ok {
		return nil
	}
	sub, ok := v.(*Tree)
	if !ok {
		return nil
	}
	if _, ok := sub.String("type"); !ok {
		return nil
	}
	return sub.Clone()
}

// tokenizerConfig reads dir/tokenizer_config.json and turns its
// tokenizer_class into the type tag.
func tokenizerConfig(dir string) (*Tree, error) {
	path := filepath.Join(dir, TokenizerConfigFile)
	tree, err := LoadJSON(path)
	if err != nil {
		return nil, err
	}
	name, ok := tree.String("tokenizer_class")
	if !ok {
		return nil, &FieldError{Source: path, Field: "tokenizer_class", Keys: tree.Keys()}
	}
	tree.Delete("tokenizer_class")
	tree.Set("type", name)
	return tree, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
