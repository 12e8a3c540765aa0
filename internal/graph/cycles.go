package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDepthExceeded fails a traversal whose path grows beyond the configured
// cap. The failure is scoped to the query; it never corrupts stored state.
var ErrDepthExceeded = errors.New("graph too deep to verify safely")

// DefaultMaxDepth bounds traversal when the caller passes no cap.
const DefaultMaxDepth = 100

// CycleReport lists every detected closed loop and marks the participating
// nodes. Cycle paths are closed: the first id appears again at the end.
type CycleReport struct {
	Cycles  [][]string      `json:"cycles"`
	InCycle map[string]bool `json:"in_cycle"`
}

// HasCycles reports whether any cycle was detected.
func (r CycleReport) HasCycles() bool { return len(r.Cycles) > 0 }

// FormatCycle renders a cycle path as "a -> b -> a" for diagnostics.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

type frame struct {
	id   string
	next int
}

// DetectCycles runs an iterative depth-first search over the blocked_by
// edges. The recursion path is kept as an explicit stack with a depth
// counter, so the cap is enforced deterministically instead of depending on
// the runtime's call-stack limit. Detection never attempts to break a cycle;
// choosing which edge to drop is a human decision.
func (g *Graph) DetectCycles(maxDepth int) (CycleReport, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	report := CycleReport{InCycle: make(map[string]bool)}
	visited := make(map[string]bool, len(g.Nodes))
	onPath := make(map[string]int, len(g.Nodes))
	seenCycles := map[string]bool{}

	roots := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if visited[root] {
			continue
		}
		stack := []frame{{id: root}}
		path := []string{root}
		onPath[root] = 0
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := g.Edges[top.id]
			if top.next < len(neighbors) {
				next := neighbors[top.next]
				top.next++
				if pos, ok := onPath[next]; ok {
					report.record(path[pos:], seenCycles)
					continue
				}
				if visited[next] {
					continue
				}
				if len(path) >= maxDepth {
					return CycleReport{}, fmt.Errorf("%w: depth cap %d reached at %s", ErrDepthExceeded, maxDepth, next)
				}
				stack = append(stack, frame{id: next})
				path = append(path, next)
				onPath[next] = len(path) - 1
				continue
			}
			visited[top.id] = true
			delete(onPath, top.id)
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	sort.Slice(report.Cycles, func(i, j int) bool {
		return FormatCycle(report.Cycles[i]) < FormatCycle(report.Cycles[j])
	})
	return report, nil
}

// record stores a cycle once, keyed by its rotation-independent form, and
// marks every member.
func (r *CycleReport) record(segment []string, seen map[string]bool) {
	if len(segment) == 0 {
		return
	}
	canonical := rotateToSmallest(segment)
	key := strings.Join(canonical, "\x00")
	if seen[key] {
		return
	}
	seen[key] = true
	closed := append(append([]string(nil), canonical...), canonical[0])
	r.Cycles = append(r.Cycles, closed)
	for _, id := range canonical {
		r.InCycle[id] = true
	}
}

func rotateToSmallest(cycle []string) []string {
	smallest := 0
	for i, id := range cycle {
		if id < cycle[smallest] {
			smallest = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[smallest:]...)
	out = append(out, cycle[:smallest]...)
	return out
}
