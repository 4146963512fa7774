package registry

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sofmeright/freightline/src/config"
)

// Repository and tag grammar from the OCI distribution spec.
var (
	// Lowercase components joined by single separators, slash-delimited.
	ociPathRe = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*$`)

	// Word character first, at most 128 characters.
	ociTagRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)
)

// ValidateRegistryURL checks that a registry URL is well-formed.
// Rejects strings with spaces, control characters, or invalid structure.
func ValidateRegistryURL(u string) error {
	if u == "" {
		return fmt.Errorf("registry URL is empty")
	}
	if containsControlChars(u) {
		return fmt.Errorf("registry URL %q contains control characters", u)
	}
	if strings.ContainsAny(u, " \t\n\r") {
		return fmt.Errorf("registry URL %q contains whitespace", u)
	}

	// Strip scheme for host validation
	host := u
	if idx := strings.Index(host, "://"); idx >= 0 {
		scheme := host[:idx]
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("registry URL %q has invalid scheme %q (expected http or https)", u, scheme)
		}
		host = host[idx+3:]
	}

	// Must have at least a host
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return fmt.Errorf("registry URL %q has empty host", u)
	}

	// Basic host validation: no spaces, has at least one dot or is localhost/IP
	if strings.ContainsAny(host, " \t{}[]<>\"'`") {
		return fmt.Errorf("registry URL %q has invalid host characters", u)
	}

	return nil
}

// ValidateImagePath checks that a repository/image path conforms to OCI spec.
func ValidateImagePath(path string) error {
	if path == "" {
		return fmt.Errorf("image path is empty")
	}
	if containsControlChars(path) {
		return fmt.Errorf("image path %q contains control characters", path)
	}
	if len(path) > 256 {
		return fmt.Errorf("image path %q exceeds 256 characters", path)
	}

	// Strip {…} blocks so templated paths validate on their literal parts.
	literal := stripTemplates(path)
	if literal != "" && !ociPathRe.MatchString(literal) {
		return fmt.Errorf("image path %q contains invalid characters (OCI spec: lowercase, digits, -, _, ., /)", path)
	}

	return nil
}

// ValidateTag checks that a resolved tag conforms to OCI spec.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag is empty")
	}
	if containsControlChars(tag) {
		return fmt.Errorf("tag %q contains control characters", tag)
	}
	if len(tag) > 128 {
		return fmt.Errorf("tag %q exceeds 128 characters", tag)
	}
	if !ociTagRe.MatchString(tag) {
		return fmt.Errorf("tag %q contains invalid characters (OCI spec: alphanumeric, -, _, .)", tag)
	}
	return nil
}

// tagPlaceholders are the variables a tag template may reference.
var tagPlaceholders = map[string]bool{
	"version": true,
	"major":   true,
	"minor":   true,
	"patch":   true,
	"branch":  true,
	"ref":     true,
	"sha":     true,
}

// ociTagLiteralRe covers the literal text between placeholders.
var ociTagLiteralRe = regexp.MustCompile(`^[a-zA-Z0-9._-]*$`)

// ValidateTagTemplate checks an unresolved tag template: balanced, unnested
// {name} placeholders drawn from the known set, and literal text that can
// appear in an OCI tag. Resolved tags are checked again with ValidateTag.
func ValidateTagTemplate(tmpl string) error {
	if tmpl == "" {
		return fmt.Errorf("tag template is empty")
	}
	if containsControlChars(tmpl) {
		return fmt.Errorf("tag template %q contains control characters", tmpl)
	}
	if strings.ContainsAny(tmpl, " \t\n\r") {
		return fmt.Errorf("tag template %q contains whitespace", tmpl)
	}

	rest := tmpl
	for rest != "" {
		open := strings.IndexAny(rest, "{}")
		if open < 0 {
			break
		}
		if rest[open] == '}' {
			return fmt.Errorf("tag template %q has an unmatched closing brace", tmpl)
		}
		name, after, ok := strings.Cut(rest[open+1:], "}")
		if !ok {
			return fmt.Errorf("tag template %q has an unclosed brace", tmpl)
		}
		if strings.Contains(name, "{") {
			return fmt.Errorf("tag template %q has nested braces", tmpl)
		}
		if !tagPlaceholders[name] {
			return fmt.Errorf("tag template %q uses unknown variable {%s}", tmpl, name)
		}
		rest = after
	}

	if !ociTagLiteralRe.MatchString(stripTemplates(tmpl)) {
		return fmt.Errorf("tag template %q contains characters not allowed in a tag (alphanumeric, -, _, .)", tmpl)
	}
	return nil
}

// ValidatePublishConfig checks the publish section before any run starts.
// registryURL may be empty when it is only known from the secret store.
// Returns all errors found (not just the first).
func ValidatePublishConfig(cfg config.PublishConfig, artifactName string) []error {
	var errs []error

	if cfg.RegistryURL != "" {
		if err := ValidateRegistryURL(cfg.RegistryURL); err != nil {
			errs = append(errs, err)
		}
	}
	path := cfg.Repository
	if path == "" {
		path = artifactName
	}
	if err := ValidateImagePath(path); err != nil {
		errs = append(errs, err)
	}
	for _, t := range cfg.Tags {
		if err := ValidateTagTemplate(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RegistryHost strips the scheme and any path from a registry URL.
func RegistryHost(u string) string {
	if idx := strings.Index(u, "://"); idx >= 0 {
		u = u[idx+3:]
	}
	if idx := strings.IndexByte(u, '/'); idx >= 0 {
		u = u[:idx]
	}
	return u
}

// containsControlChars returns true if the string has any ASCII control characters.
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
		if r == unicode.ReplacementChar {
			return true
		}
	}
	return false
}

// stripTemplates removes all {…} blocks from a string, returning only literal parts.
// Used to validate the non-template portions of paths/tags.
func stripTemplates(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '{' {
			j := i + 1
			for j < len(s) && s[j] != '}' {
				j++
			}
			if j < len(s) {
				i = j + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
