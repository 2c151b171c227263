// Package schema derives the record-kind vocabulary a canvas room runs
// under. A room starts with the base shape and binding kinds and widens as
// connecting clients declare custom kinds; configs are kept canonical so
// that equality checks never depend on declaration order.
package schema

import (
	"sort"
	"strings"
)

// Base kinds every room supports regardless of client declarations.
var (
	baseShapeKinds   = []string{"arrow", "draw", "frame", "geo", "image", "line", "note", "text"}
	baseBindingKinds = []string{"arrow"}
)

// Config names the custom shape and binding kinds declared for a room.
// Both slices are canonical: sorted, deduplicated, no empty entries.
type Config struct {
	ShapeKinds   []string `json:"shapeKinds"`
	BindingKinds []string `json:"bindingKinds"`
}

// NewConfig normalizes the provided kind lists into a canonical Config.
func NewConfig(shapeKinds, bindingKinds []string) Config {
	return Config{
		ShapeKinds:   Normalize(shapeKinds),
		BindingKinds: Normalize(bindingKinds),
	}
}

// Normalize deduplicates and lexicographically sorts kind names. Empty and
// whitespace-only entries are dropped rather than rejected.
func Normalize(kinds []string) []string {
	seen := make(map[string]struct{}, len(kinds))
	normalized := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		trimmed := strings.TrimSpace(kind)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	sort.Strings(normalized)
	return normalized
}

// Merge unions two configs field-wise. The result is canonical, so
// Merge(a, b) == Merge(b, a) and Merge(a, a) == a.
func Merge(base, incoming Config) Config {
	return Config{
		ShapeKinds:   Normalize(append(append([]string{}, base.ShapeKinds...), incoming.ShapeKinds...)),
		BindingKinds: Normalize(append(append([]string{}, base.BindingKinds...), incoming.BindingKinds...)),
	}
}

// Equal reports whether two configs carry the same normalized kind sets.
func Equal(a, b Config) bool {
	return equalKinds(a.ShapeKinds, b.ShapeKinds) && equalKinds(a.BindingKinds, b.BindingKinds)
}

func equalKinds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for index := range a {
		if a[index] != b[index] {
			return false
		}
	}
	return true
}

// Schema is the runtime vocabulary a document engine is constructed with:
// base kinds unioned with placeholder entries for every declared custom
// kind. Custom kinds are accepted structurally without shape validation.
type Schema struct {
	shapeKinds   map[string]struct{}
	bindingKinds map[string]struct{}
}

// Build derives the runtime schema for a config. Deterministic and pure.
func Build(cfg Config) *Schema {
	built := &Schema{
		shapeKinds:   make(map[string]struct{}, len(baseShapeKinds)+len(cfg.ShapeKinds)),
		bindingKinds: make(map[string]struct{}, len(baseBindingKinds)+len(cfg.BindingKinds)),
	}
	for _, kind := range baseShapeKinds {
		built.shapeKinds[kind] = struct{}{}
	}
	for _, kind := range cfg.ShapeKinds {
		built.shapeKinds[kind] = struct{}{}
	}
	for _, kind := range baseBindingKinds {
		built.bindingKinds[kind] = struct{}{}
	}
	for _, kind := range cfg.BindingKinds {
		built.bindingKinds[kind] = struct{}{}
	}
	return built
}

// SupportsShape reports whether the schema admits records of the given
// shape kind.
func (s *Schema) SupportsShape(kind string) bool {
	_, ok := s.shapeKinds[kind]
	return ok
}

// SupportsBinding reports whether the schema admits bindings of the given
// kind.
func (s *Schema) SupportsBinding(kind string) bool {
	_, ok := s.bindingKinds[kind]
	return ok
}

// ShapeKinds returns the full sorted shape vocabulary.
func (s *Schema) ShapeKinds() []string {
	kinds := make([]string, 0, len(s.shapeKinds))
	for kind := range s.shapeKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// BindingKinds returns the full sorted binding vocabulary.
func (s *Schema) BindingKinds() []string {
	kinds := make([]string, 0, len(s.bindingKinds))
	for kind := range s.bindingKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
