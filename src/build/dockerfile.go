package build

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

var (
	// FROM [--platform=...] <image> [AS <name>]
	fromRe = regexp.MustCompile(`(?i)^FROM\s+(?:--platform=\S+\s+)?(\S+)(?:\s+AS\s+(\S+))?`)
)

// Stage describes a single FROM stage in a Dockerfile.
type Stage struct {
	Name      string // alias from "AS name", empty if unnamed
	BaseImage string // the FROM image reference
	Line      int    // line number of the FROM instruction
}

// DockerfileInfo is what the image phase needs to know about a Dockerfile.
type DockerfileInfo struct {
	Stages []Stage
}

// ParseDockerfile extracts stage info from a Dockerfile.
// This is a regex-based parser, not a full AST. Sufficient for checking that a
// runtime Dockerfile only wraps the packaged unit.
func ParseDockerfile(r io.Reader) (*DockerfileInfo, error) {
	info := &DockerfileInfo{}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := fromRe.FindStringSubmatch(line); m != nil {
			info.Stages = append(info.Stages, Stage{BaseImage: m[1], Name: m[2], Line: lineNum})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

// checkRuntimeDockerfile rejects Dockerfiles that would pull build tooling
// into the image phase: more than one stage means something gets compiled.
func checkRuntimeDockerfile(info *DockerfileInfo) error {
	switch len(info.Stages) {
	case 0:
		return fmt.Errorf("runtime Dockerfile has no FROM instruction")
	case 1:
		return nil
	default:
		return fmt.Errorf("runtime Dockerfile has %d stages (line %d: FROM %s); build steps belong in the package command",
			len(info.Stages), info.Stages[1].Line, info.Stages[1].BaseImage)
	}
}

// renderDockerfile generates the runtime Dockerfile: the runtime base, the
// packaged unit copied under /app, and an exec-form entrypoint.
func renderDockerfile(spec Spec, unit string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", spec.RuntimeImage)

	keys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "LABEL %s=%s\n", quote(k), quote(spec.Labels[k]))
	}

	b.WriteString("WORKDIR /app\n")
	cp, _ := json.Marshal([]string{unit, "/app/" + unit})
	fmt.Fprintf(&b, "COPY %s\n", cp)

	entry := spec.Entrypoint
	if len(entry) == 0 {
		entry = []string{"/app/" + unit}
	}
	ej, _ := json.Marshal(entry)
	fmt.Fprintf(&b, "ENTRYPOINT %s\n", ej)
	return b.String()
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\"'") {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return s
}
