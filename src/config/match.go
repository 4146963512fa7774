package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ── Policy-aware pattern matching ─────────────────────────────────────────

// identifierRe matches valid policy key names: letter-first, alphanumeric + _ . -
var identifierRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

// regexMetaChars are characters that indicate a string is an intentional regex.
// "." is left out so plain names like "release-1.2" stay literal.
const regexMetaChars = `^$*+?()[]{}|\`

// isIdentifier returns true if s looks like a policy name (letter-first identifier).
func isIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// containsRegexMeta returns true if s contains any regex metacharacters.
func containsRegexMeta(s string) bool {
	for _, c := range s {
		if strings.ContainsRune(regexMetaChars, c) {
			return true
		}
	}
	return false
}

// CompiledPatterns holds pre-compiled include and exclude regex patterns.
// Avoids repeated regex compilation for every incoming event.
type CompiledPatterns struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// Match evaluates the compiled patterns against a value.
// Exclude-first semantics: if any exclude matches, rejected.
// Empty include list with only excludes = everything not excluded passes.
func (cp *CompiledPatterns) Match(value string) bool {
	if cp == nil {
		return true
	}

	for _, re := range cp.Exclude {
		if re.MatchString(value) {
			return false
		}
	}

	if len(cp.Include) == 0 {
		return true
	}

	for _, re := range cp.Include {
		if re.MatchString(value) {
			return true
		}
	}

	return false
}

// Empty reports whether no patterns were configured at all.
func (cp *CompiledPatterns) Empty() bool {
	return cp == nil || (len(cp.Include) == 0 && len(cp.Exclude) == 0)
}

// CompilePatterns resolves pattern tokens against a policy map and compiles
// them into include/exclude regex groups.
//
// Token forms:
//
//	"main"           → literal, matches exactly "main" (not "maintenance")
//	"^release/.*"    → regex, user decides anchoring
//	"release"        → policy name, resolved through policyMap
//	"!^.*-wip$"      → negated (any of the above)
func CompilePatterns(patterns []string, policyMap map[string]string) (*CompiledPatterns, error) {
	cp := &CompiledPatterns{}
	for _, p := range ResolvePatterns(patterns, policyMap) {
		negate := false
		pat := p
		if strings.HasPrefix(pat, "!") {
			negate = true
			pat = pat[1:]
		}

		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pat, err)
		}

		if negate {
			cp.Exclude = append(cp.Exclude, re)
		} else {
			cp.Include = append(cp.Include, re)
		}
	}
	return cp, nil
}

// ResolvePatterns turns pattern tokens into regex source strings.
// Policy names resolve through the map, literals become exact anchors and
// regex patterns pass through unchanged. Negation prefix (!) is preserved.
func ResolvePatterns(patterns []string, policyMap map[string]string) []string {
	if len(patterns) == 0 {
		return nil
	}

	resolved := make([]string, 0, len(patterns))
	for _, token := range patterns {
		prefix := ""
		raw := token
		if strings.HasPrefix(raw, "!") {
			prefix = "!"
			raw = raw[1:]
		}
		resolved = append(resolved, prefix+resolveToken(raw, policyMap))
	}
	return resolved
}

func resolveToken(token string, policyMap map[string]string) string {
	if isIdentifier(token) {
		if regex, ok := policyMap[token]; ok {
			return regex
		}
	}
	if !containsRegexMeta(token) {
		return "^" + regexp.QuoteMeta(token) + "$"
	}
	return token
}
