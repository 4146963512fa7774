package gitver

import (
	"strings"
)

// ResolveTags expands tag templates against the source and version info.
//
// Supported templates:
//
//	{version}        → "1.2.3"
//	{major}          → "1"
//	{minor}          → "2"
//	{patch}          → "3"
//	{major}.{minor}  → "1.2"
//	{branch}         → "main" (feature/x → feature-x)
//	{ref}            → the triggering ref, sanitized the same way
//	{sha}            → "abc1234"  (short)
//	latest           → "latest"   (literal passthrough)
//
// Results are not validated here; the publisher rejects malformed tags.
func ResolveTags(templates []string, src Source, ref string, v *VersionInfo) []string {
	if v == nil {
		v = &VersionInfo{}
	}

	r := strings.NewReplacer(
		"{version}", sanitizeTag(v.Version),
		"{major}", v.Major,
		"{minor}", v.Minor,
		"{patch}", v.Patch,
		"{branch}", sanitizeTag(src.Branch),
		"{ref}", sanitizeTag(ShortRef(ref)),
		"{sha}", src.SHA(),
	)

	tags := make([]string, 0, len(templates))
	seen := make(map[string]bool, len(templates))
	for _, tmpl := range templates {
		tag := r.Replace(tmpl)
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// ShortRef strips refs/heads/ and refs/tags/ prefixes.
func ShortRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	return strings.TrimPrefix(ref, "refs/tags/")
}

// sanitizeTag replaces characters not allowed in OCI tags.
func sanitizeTag(s string) string {
	r := strings.NewReplacer(
		"/", "-",
		" ", "-",
		"+", "-",
	)
	return r.Replace(s)
}
