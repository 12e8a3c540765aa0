package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hive/internal/domain"
	"hive/internal/graph"
	"hive/internal/store"
)

// Reasons explains why a record cannot be picked up. An unblocked record
// yields Blocked=false and an empty reason list.
type Reasons struct {
	RecordID        string   `json:"record_id"`
	Blocked         bool     `json:"blocked"`
	Reasons         []string `json:"reasons"`
	BlockingRecords []string `json:"blocking_records,omitempty"`
	InCycle         bool     `json:"in_cycle"`
}

// BlockingReasons composes every reason keeping id out of the ready
// list, in a stable order: explicit flag, then owner, then blockers and
// dangling refs, then cycle membership.
func BlockingReasons(id string, snap store.Snapshot, report graph.CycleReport) Reasons {
	out := Reasons{RecordID: id}
	rec, ok := snap.Get(id)
	if !ok {
		out.Blocked = true
		out.Reasons = []string{fmt.Sprintf("record %s not found", id)}
		return out
	}
	if rec.Blocked {
		reason := "explicitly marked as blocked"
		if rec.BlockingReason != "" {
			reason += ": " + rec.BlockingReason
		}
		out.Reasons = append(out.Reasons, reason)
	}
	if rec.Claimed() {
		out.Reasons = append(out.Reasons, fmt.Sprintf("currently owned by %s", *rec.Owner))
	}
	var open, missing []string
	for _, dep := range rec.Dependencies.BlockedBy {
		blocker, found := snap.Get(dep)
		if !found {
			missing = append(missing, dep)
			continue
		}
		if blocker.Status != domain.StatusCompleted {
			open = append(open, dep)
		}
	}
	sort.Strings(open)
	sort.Strings(missing)
	if len(open) > 0 {
		out.Reasons = append(out.Reasons, "still has incomplete blockers: "+join(open))
		out.BlockingRecords = append(out.BlockingRecords, open...)
	}
	for _, dep := range missing {
		out.Reasons = append(out.Reasons, "depends on unknown record: "+dep)
	}
	if report.InCycle[id] {
		out.InCycle = true
		for _, cycle := range report.Cycles {
			if containsID(cycle, id) {
				out.Reasons = append(out.Reasons, "part of dependency cycle: "+graph.FormatCycle(cycle))
				break
			}
		}
	}
	out.Blocked = len(out.Reasons) > 0
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// BlockingReasonsFor loads a snapshot and composes reasons for one id.
func (e Engine) BlockingReasonsFor(ctx context.Context, id string) (Reasons, error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return Reasons{}, err
	}
	g := graph.Build(snap.Records)
	report, err := g.DetectCycles(e.maxDepth())
	if err != nil {
		return Reasons{}, err
	}
	return BlockingReasons(id, snap, report), nil
}

// GraphSummary is the full graph view served over the API and rendered
// by the CLI.
type GraphSummary struct {
	Nodes    map[string]GraphNode `json:"nodes"`
	Edges    map[string][]string  `json:"edges"`
	Cycles   [][]string           `json:"cycles"`
	Warnings []graph.Warning      `json:"warnings"`
	Issues   []store.Issue        `json:"issues,omitempty"`
}

type GraphNode struct {
	Status          domain.Status   `json:"status"`
	Priority        domain.Priority `json:"priority"`
	Owner           string          `json:"owner,omitempty"`
	InCycle         bool            `json:"in_cycle"`
	BlockingReasons []string        `json:"blocking_reasons,omitempty"`
}

// Summarize builds the graph view for a snapshot.
func Summarize(snap store.Snapshot, maxDepth int) (GraphSummary, error) {
	g := graph.Build(snap.Records)
	report, err := g.DetectCycles(maxDepth)
	if err != nil {
		return GraphSummary{}, err
	}
	summary := GraphSummary{
		Nodes:    make(map[string]GraphNode, len(g.Nodes)),
		Edges:    g.Edges,
		Cycles:   report.Cycles,
		Warnings: g.Warnings,
		Issues:   snap.Issues,
	}
	for id, node := range g.Nodes {
		reasons := BlockingReasons(id, snap, report)
		summary.Nodes[id] = GraphNode{
			Status:          node.Status,
			Priority:        node.Priority,
			Owner:           node.Owner,
			InCycle:         reasons.InCycle,
			BlockingReasons: reasons.Reasons,
		}
	}
	return summary, nil
}

// GraphSummaryFromStore loads a snapshot and summarizes it.
func (e Engine) GraphSummaryFromStore(ctx context.Context) (GraphSummary, error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return GraphSummary{}, err
	}
	return Summarize(snap, e.maxDepth())
}

// RenderSummary formats the graph view for terminals.
func RenderSummary(s GraphSummary) string {
	var b strings.Builder
	b.WriteString("DEPENDENCY GRAPH\n")
	b.WriteString("================\n")
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := s.Nodes[id]
		marker := "o"
		switch {
		case node.InCycle:
			marker = "@"
		case len(node.BlockingReasons) > 0:
			marker = "x"
		case node.Status == domain.StatusCompleted:
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s [%s/%s]", marker, id, node.Status, node.Priority)
		if node.Owner != "" {
			fmt.Fprintf(&b, " owner=%s", node.Owner)
		}
		b.WriteString("\n")
		for _, dep := range s.Edges[id] {
			fmt.Fprintf(&b, "    blocks -> %s\n", dep)
		}
		for _, reason := range node.BlockingReasons {
			fmt.Fprintf(&b, "    ! %s\n", reason)
		}
	}
	if len(s.Cycles) > 0 {
		b.WriteString("\nCYCLES\n")
		for _, cycle := range s.Cycles {
			fmt.Fprintf(&b, "  %s\n", graph.FormatCycle(cycle))
		}
	}
	if len(s.Warnings) > 0 {
		b.WriteString("\nWARNINGS\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "  %s -> missing %s (%s)\n", w.RecordID, w.MissingID, w.Relation)
		}
	}
	for _, issue := range s.Issues {
		fmt.Fprintf(&b, "  issue: %s\n", issue)
	}
	b.WriteString("\nLegend: * completed  o ready or pending  x blocked  @ in cycle\n")
	return b.String()
}
