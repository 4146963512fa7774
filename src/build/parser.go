package build

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LayerEvent is one Dockerfile instruction as reported by buildx
// --progress=plain during the image phase.
type LayerEvent struct {
	Step        string // "2/4"
	Instruction string // FROM, COPY, WORKDIR, ENTRYPOINT, ...
	Detail      string
	Cached      bool
	Duration    time.Duration
}

var (
	// #N [stage M/N] INSTRUCTION args...  or  #N [M/N] INSTRUCTION args...
	layerStartRe = regexp.MustCompile(`^#(\d+) \[(?:[^\]]*? )?(\d+/\d+)\] (\w+)\s*(.*)`)
	// #N CACHED
	cachedRe = regexp.MustCompile(`^#(\d+) CACHED`)
	// #N DONE 44.8s
	doneRe = regexp.MustCompile(`^#(\d+) DONE (\d+\.?\d*)s`)
)

// ParseBuildxOutput turns captured buildx plain progress into the completed
// instruction layers, in build order. Internal steps are dropped.
func ParseBuildxOutput(output string) []LayerEvent {
	type state struct {
		ev   LayerEvent
		done bool
	}
	layers := make(map[int]*state)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := layerStartRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			detail := m[4]
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			layers[n] = &state{ev: LayerEvent{Step: m[2], Instruction: m[3], Detail: detail}}
			continue
		}
		if m := cachedRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if ls, ok := layers[n]; ok {
				ls.ev.Cached = true
				ls.done = true
			}
			continue
		}
		if m := doneRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			secs, _ := strconv.ParseFloat(m[2], 64)
			if ls, ok := layers[n]; ok {
				ls.ev.Duration = time.Duration(secs * float64(time.Second))
				ls.done = true
			}
		}
	}

	steps := make([]int, 0, len(layers))
	for n, ls := range layers {
		if ls.done {
			steps = append(steps, n)
		}
	}
	sort.Ints(steps)

	events := make([]LayerEvent, 0, len(steps))
	for _, n := range steps {
		events = append(events, layers[n].ev)
	}
	return events
}

// CachedCount returns how many layers were cache hits.
func CachedCount(layers []LayerEvent) int {
	n := 0
	for _, l := range layers {
		if l.Cached {
			n++
		}
	}
	return n
}
