// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// SupportList maps a model family to the identifiers it supports.
type SupportList map[string][]string

// Families returns the family names in sorted order.
func (s SupportList) Families() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether family is listed.
func (s SupportList) Contains(family string) bool {
	_, ok := s[family]
	return ok
}

// Has reports whether id is listed under its family.
func (s SupportList) Has(id string) bool {
	for _, listed := range s[FamilyOf(id)] {
		if listed == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s SupportList) Clone() SupportList {
	out := make(SupportList, len(s))
	for f, ids := range s {
		out[f] = append([]string(nil), ids...)
	}
	return out
}

// Without returns a copy with the given families removed.
func (s SupportList) Without(families ...string) SupportList {
	out := s.Clone()
	for _, f := range families {
		delete(out, f)
	}
	return out
}

// Write prints one line per family: "family: id1, id2".
func (s SupportList) Write(w io.Writer) error {
	for _, f := range s.Families() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", f, strings.Join(s[f], ", ")); err != nil {
			return err
		}
	}
	return nil
}

// FamilyOf returns the family part of a bare identifier: the text before the
// first underscore, or the whole identifier when there is none.
func FamilyOf(id string) string {
	family, _, _ := strings.Cut(id, "_")
	return family
}
