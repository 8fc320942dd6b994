// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bodaay/formerhub/pkg/formers"
)

// Kinds accepted by the support, resolve and build endpoints.
const (
	KindConfig    = "config"
	KindModel     = "model"
	KindProcessor = "processor"
	KindTokenizer = "tokenizer"
)

// ResolveRequest is the body of POST /api/resolve and POST /api/build.
// Only bare identifiers are accepted: local paths stay a server-side concern.
type ResolveRequest struct {
	Identifier string `json:"identifier"`
	Kind       string `json:"kind,omitempty"` // defaults to "model"
}

// ResolveResponse reports where an identifier's configuration lives.
type ResolveResponse struct {
	Identifier string `json:"identifier"`
	Source     string `json:"source"`
	Family     string `json:"family"`
	Path       string `json:"path"`
	Copied     bool   `json:"copied"`
}

// BuildResponse describes a built object.
type BuildResponse struct {
	Identifier string              `json:"identifier"`
	Kind       string              `json:"kind"`
	Type       string              `json:"type"`
	Config     *formers.Tree       `json:"config,omitempty"`
	Checkpoint *formers.Checkpoint `json:"checkpoint,omitempty"`
	Tokenizer  string              `json:"tokenizer,omitempty"`
	VocabSize  int                 `json:"vocabSize,omitempty"`
}

// PrefetchRequest is the body of POST /api/prefetch.
type PrefetchRequest struct {
	Identifier string `json:"identifier"`
}

// SupportResponse lists the identifiers a kind accepts.
type SupportResponse struct {
	Kind     string              `json:"kind"`
	Families []string            `json:"families"`
	Support  formers.SupportList `json:"support"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSupport(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	list, err := s.supportFor(kind)
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown kind", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SupportResponse{Kind: kind, Families: list.Families(), Support: list})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	req, support, ok := s.decodeResolve(w, r)
	if !ok {
		return
	}
	res, err := s.hub.Resolver().ResolveBare(r.Context(), req.Identifier, support)
	if err != nil {
		writeFormersError(w, "Resolution failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{
		Identifier: res.Identifier,
		Source:     res.Source.String(),
		Family:     res.Family,
		Path:       res.Path,
		Copied:     res.Copied,
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	req, _, ok := s.decodeResolve(w, r)
	if !ok {
		return
	}
	resp, err := s.build(r.Context(), req.Kind, req.Identifier)
	if err != nil {
		writeFormersError(w, "Build failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req PrefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: identifier", "")
		return
	}

	job, existing, err := s.jobs.CreateJob(req.Identifier)
	if err != nil {
		writeFormersError(w, "Failed to create job", err)
		return
	}
	if existing {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Prefetch already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.GetJob(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels an active job, or forgets a finished one.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch {
	case s.jobs.CancelJob(id):
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Job cancelled"})
	case s.jobs.DeleteJob(id):
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Job removed"})
	default:
		writeError(w, http.StatusNotFound, "Job not found", "")
	}
}

// --- Helpers ---

func (s *Server) supportFor(kind string) (formers.SupportList, error) {
	switch kind {
	case KindConfig:
		return s.hub.Config.SupportList(), nil
	case KindModel, "":
		return s.hub.Model.SupportList(), nil
	case KindProcessor:
		return s.hub.Processor.SupportList(), nil
	case KindTokenizer:
		return s.hub.Tokenizer.SupportList(), nil
	}
	return nil, errors.Wrapf(formers.ErrInvalidArgument, "kind %q is not one of config, model, processor, tokenizer", kind)
}

// decodeResolve reads a ResolveRequest and checks the identifier against the
// support list of its kind. It writes the error response itself.
func (s *Server) decodeResolve(w http.ResponseWriter, r *http.Request) (ResolveRequest, formers.SupportList, bool) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return req, nil, false
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: identifier", "")
		return req, nil, false
	}
	if req.Kind == "" {
		req.Kind = KindModel
	}
	support, err := s.supportFor(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown kind", err.Error())
		return req, nil, false
	}
	if _, err := formers.CheckSupported(req.Identifier, support); err != nil {
		writeFormersError(w, "Unsupported identifier", err)
		return req, nil, false
	}
	return req, support, true
}

func (s *Server) build(ctx context.Context, kind, id string) (BuildResponse, error) {
	resp := BuildResponse{Identifier: id, Kind: kind}
	switch kind {
	case KindConfig:
		cfg, err := s.hub.Config.FromPretrained(ctx, id)
		if err != nil {
			return resp, err
		}
		resp.Type = formers.TypeName(cfg)
		resp.Config, err = formers.ToTree(cfg)
		return resp, err
	case KindModel:
		m, err := s.hub.Model.FromPretrained(ctx, id)
		if err != nil {
			return resp, err
		}
		resp.Type = m.Config().ModelName()
		resp.Checkpoint = m.Checkpoint()
		resp.Config, err = formers.ToTree(m.Config())
		return resp, err
	case KindProcessor:
		p, err := s.hub.Processor.FromPretrained(ctx, id)
		if err != nil {
			return resp, err
		}
		resp.Type = formers.TypeName(p)
		if tok := p.Tokenizer(); tok != nil {
			resp.Tokenizer = formers.TypeName(tok)
			resp.VocabSize = tok.VocabSize()
		}
		return resp, nil
	case KindTokenizer:
		tok, err := s.hub.Tokenizer.FromPretrained(ctx, id)
		if err != nil {
			return resp, err
		}
		resp.Type = formers.TypeName(tok)
		resp.Tokenizer = resp.Type
		resp.VocabSize = tok.VocabSize()
		return resp, nil
	}
	return resp, errors.Wrapf(formers.ErrInvalidArgument, "kind %q", kind)
}

// statusFor maps library errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, formers.ErrInvalidArgument), errors.Is(err, formers.ErrUnsupportedIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, formers.ErrNotFound), errors.Is(err, formers.ErrMissingDefault):
		return http.StatusNotFound
	case errors.Is(err, formers.ErrParse), errors.Is(err, formers.ErrMissingField), errors.Is(err, formers.ErrUnregisteredType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *formers.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeFormersError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
