// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Common errors returned by the library. Every error produced by a Hub,
// Resolver or Registry matches one of these with errors.Is.
var (
	// ErrInvalidArgument is returned for empty identifiers, wrong file
	// extensions, files where a directory is required, and similar misuse.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedIdentifier is returned when a bare name is not listed in
	// the support list.
	ErrUnsupportedIdentifier = errors.New("unsupported identifier")

	// ErrNotFound is returned when an expected file or directory is missing.
	ErrNotFound = errors.New("not found")

	// ErrMissingDefault is returned when the bundled default template for a
	// supported identifier is absent. It indicates a packaging defect.
	ErrMissingDefault = errors.New("missing default template")

	// ErrParse is returned for malformed configuration content.
	ErrParse = errors.New("parse error")

	// ErrUnregisteredType is returned when no constructor is registered for a
	// type name.
	ErrUnregisteredType = errors.New("unregistered type")

	// ErrMissingField is returned when a required key is absent.
	ErrMissingField = errors.New("missing field")
)

// UnsupportedError reports a bare identifier that is not in the support list.
type UnsupportedError struct {
	Identifier string
	Families   []string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%q is not a supported identifier or a valid path; supported families: %s",
		e.Identifier, strings.Join(e.Families, ", "))
}

// Is implements errors.Is.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupportedIdentifier
}

// UnregisteredError reports a factory lookup miss.
type UnregisteredError struct {
	Module     ModuleType
	Name       string
	Registered []string
}

func (e *UnregisteredError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("no type given for %s; registered: %s", e.Module, strings.Join(e.Registered, ", "))
	}
	return fmt.Sprintf("%s %q is not registered; registered: %s", e.Module, e.Name, strings.Join(e.Registered, ", "))
}

// Is implements errors.Is.
func (e *UnregisteredError) Is(target error) bool {
	return target == ErrUnregisteredType
}

// FieldError reports a required key absent from a configuration source.
type FieldError struct {
	Source string
	Field  string
	Keys   []string // keys that were present, for the message
}

func (e *FieldError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s: missing %q", e.Source, e.Field)
	}
	return fmt.Sprintf("%s: missing %q (present keys: %s)", e.Source, e.Field, strings.Join(e.Keys, ", "))
}

func (e *FieldError) Unwrap() error {
	return ErrMissingField
}

// APIError represents a failed remote fetch.
type APIError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// Is implements errors.Is: a 404 from the endpoint is an ErrNotFound.
func (e *APIError) Is(target error) bool {
	return e.StatusCode == 404 && target == ErrNotFound
}

// VerificationError is returned when a fetched file does not match the
// checksum announced by the server.
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: sha256 mismatch (expected %s, got %s)",
		e.Path, e.Expected, e.Actual)
}
