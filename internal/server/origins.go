package server

import (
	"fmt"
	"regexp"
	"strings"
)

// OriginPolicy is the allow-list evaluated for every request: exact
// production origins, prefix-matched origin families, and a pattern for
// ephemeral preview-deployment hostnames.
type OriginPolicy struct {
	exact    map[string]struct{}
	prefixes []string
	preview  *regexp.Regexp
}

// NewOriginPolicy compiles the allow-list. previewPattern may be empty.
func NewOriginPolicy(origins, prefixes []string, previewPattern string) (*OriginPolicy, error) {
	policy := &OriginPolicy{
		exact:    make(map[string]struct{}, len(origins)),
		prefixes: make([]string, 0, len(prefixes)),
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		policy.exact[trimmed] = struct{}{}
	}
	for _, prefix := range prefixes {
		trimmed := strings.TrimSpace(prefix)
		if trimmed == "" {
			continue
		}
		policy.prefixes = append(policy.prefixes, trimmed)
	}
	if strings.TrimSpace(previewPattern) != "" {
		compiled, err := regexp.Compile(previewPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid preview origin pattern: %w", err)
		}
		policy.preview = compiled
	}
	return policy, nil
}

// Allow reports whether the origin may call the service. Requests without
// an Origin header (non-browser clients) are allowed; origin enforcement is
// a cross-site guard, not authentication.
func (p *OriginPolicy) Allow(origin string) bool {
	if origin == "" {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	if p.preview != nil && p.preview.MatchString(origin) {
		return true
	}
	return false
}
