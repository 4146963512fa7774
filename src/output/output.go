package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sofmeright/freightline/src/pipeline"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"

	colorDimCyan = "\033[2;36m"
)

func colorize(text, code string, color bool) string {
	if !color {
		return text
	}
	return code + text + colorReset
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

// RowStatus writes a row with label, detail, and a status icon.
func RowStatus(sec *Section, label, detail, status string, color bool) {
	icon := StatusIcon(status, color)
	if detail != "" {
		sec.Row("%s: %s %s", label, detail, icon)
	} else {
		sec.Row("%s %s", label, icon)
	}
}

// kindTag returns a short failure-kind label, optionally colored.
// Cancellation is yellow, everything an operator must look at is red.
func kindTag(k pipeline.Kind, color bool) string {
	label := strings.ToUpper(string(k))
	if !k.Operator() {
		return colorize(label, colorYellow, color)
	}
	return colorize(label, colorRed, color)
}

// Skipped prints the single line shown when an event does not start a run.
func Skipped(w io.Writer, ref, reason string, color bool) {
	fmt.Fprintf(w, "    %s %s %s\n",
		StatusIcon(string(pipeline.StageSkipped), color),
		colorize(ref, colorBold, color),
		colorize(reason, colorGray, color),
	)
}
