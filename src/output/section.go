package output

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// frameWidth is the rule length after the corner character.
const frameWidth = 61

const indent = "    "

// Section is a framed block of rows:
//
//	── Stages ──────────────── 3.0s ──
//	│ build       ✓  2.0s
//	└──────────────────────────────────
type Section struct {
	w     io.Writer
	color bool
}

// NewSection writes the header line and returns the open section. A non-zero
// elapsed is shown at the right end of the header.
func NewSection(w io.Writer, name string, elapsed time.Duration, color bool) *Section {
	left := "── " + name + " "
	right := "──"
	if elapsed > 0 {
		right = " " + formatElapsed(elapsed) + " ──"
	}
	// the header is as wide as the footer: corner + rule
	fill := max(frameWidth+1-runeLen(left)-runeLen(right), 1)
	header := left + strings.Repeat("─", fill) + right

	fmt.Fprintf(w, "\n%s%s\n", indent, colorize(header, colorDimCyan, color))
	return &Section{w: w, color: color}
}

// Row writes one line inside the frame.
func (s *Section) Row(format string, args ...any) {
	fmt.Fprintf(s.w, "%s│ %s\n", indent, fmt.Sprintf(format, args...))
}

// Separator divides the section.
func (s *Section) Separator() { s.rule("├") }

// Close writes the footer.
func (s *Section) Close() { s.rule("└") }

func (s *Section) rule(corner string) {
	fmt.Fprintf(s.w, "%s%s%s\n", indent, corner, strings.Repeat("─", frameWidth))
}

// stage writes "name  icon  detail" for one stage or step.
func (s *Section) stage(name, status, detail string) {
	s.Row("%-12s%s  %s", name, StatusIcon(status, s.color), detail)
}

// total writes the closing line of a run: exit code, elapsed time, outcome.
func (s *Section) total(elapsed time.Duration, status string, exitCode int) {
	s.Row("%-12s%-30s%10s   %s", "total", fmt.Sprintf("exit %d", exitCode),
		formatElapsed(elapsed), StatusIcon(status, s.color))
}

var statusIcons = map[string]struct{ icon, color string }{
	"succeeded":  {"✓", colorGreen},
	"success":    {"✓", colorGreen},
	"failed":     {"✗", colorRed},
	"failure":    {"✗", colorRed},
	"pending":    {"…", colorCyan},
	"building":   {"…", colorCyan},
	"publishing": {"…", colorCyan},
	"running":    {"…", colorCyan},
}

// StatusIcon maps a run, stage or check status to a one-character icon.
// Anything unrecognized counts as skipped.
func StatusIcon(status string, color bool) string {
	ic, ok := statusIcons[status]
	if !ok {
		ic.icon, ic.color = "⊘", colorYellow
	}
	return colorize(ic.icon, ic.color, color)
}

// Dimmed greys out secondary text.
func Dimmed(text string, color bool) string {
	return colorize(text, colorGray, color)
}

// KV is one entry of a context block.
type KV struct {
	Key   string
	Value string
}

// contextBlock prints key/value pairs two to a line.
func contextBlock(w io.Writer, kv []KV) {
	if len(kv) == 0 {
		return
	}
	fmt.Fprintln(w)
	for pair := range slices.Chunk(kv, 2) {
		line := fmt.Sprintf("%-12s%s", pair[0].Key, pair[0].Value)
		if len(pair) == 2 {
			line = fmt.Sprintf("%-12s%-14s%-11s%s", pair[0].Key, pair[0].Value, pair[1].Key, pair[1].Value)
		}
		fmt.Fprintln(w, indent+line)
	}
}

// formatElapsed renders durations as <1ms, 250ms, 1.5s or 2m3.0s.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := d.Truncate(time.Minute)
	return fmt.Sprintf("%dm%.1fs", int(m.Minutes()), (d - m).Seconds())
}

func runeLen(s string) int { return len([]rune(s)) }
