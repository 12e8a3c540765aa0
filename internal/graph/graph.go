// Package graph builds the dependency graph projection over a record
// snapshot and detects cycles in it. Building is pure: the same records
// always produce the same graph, and nothing here mutates records.
package graph

import (
	"sort"

	"hive/internal/domain"
)

// Node is the metadata snapshot the resolvers need, detached from the
// full record.
type Node struct {
	ID             string          `json:"id"`
	Status         domain.Status   `json:"status"`
	Priority       domain.Priority `json:"priority"`
	Blocked        bool            `json:"blocked"`
	BlockingReason string          `json:"blocking_reason,omitempty"`
	Owner          string          `json:"owner,omitempty"`
	LastModified   string          `json:"last_modified"`
	Parent         string          `json:"parent,omitempty"`
}

// Warning reports a declared dependency whose target does not exist in the
// record set. Dangling references never fail the build; downstream consumers
// treat them as unsatisfied.
type Warning struct {
	RecordID  string `json:"record_id"`
	MissingID string `json:"missing_id"`
	Relation  string `json:"relation"`
}

// Graph is a derived, read-side projection. Edges run blocker -> dependent:
// an edge A->B means B is blocked by A. Reverse indexes the same edges the
// other way for blocker lookup.
type Graph struct {
	Nodes    map[string]Node     `json:"nodes"`
	Edges    map[string][]string `json:"edges"`
	Reverse  map[string][]string `json:"reverse_edges"`
	Warnings []Warning           `json:"warnings,omitempty"`
}

// Build constructs the graph from a record snapshot. Declared blocked_by and
// blocks relations are unioned in both directions, so the edge B->A exists
// whenever A declares blocked_by B, whether or not B declares blocks A.
func Build(records []domain.Record) *Graph {
	g := &Graph{
		Nodes:   make(map[string]Node, len(records)),
		Edges:   make(map[string][]string, len(records)),
		Reverse: make(map[string][]string, len(records)),
	}
	for _, rec := range records {
		g.Nodes[rec.ID] = nodeFromRecord(rec)
		g.Edges[rec.ID] = []string{}
		g.Reverse[rec.ID] = []string{}
	}
	seen := map[[2]string]bool{}
	addEdge := func(from, to, declarer, relation string) {
		if _, ok := g.Nodes[from]; !ok {
			g.Warnings = append(g.Warnings, Warning{RecordID: declarer, MissingID: from, Relation: relation})
			return
		}
		if _, ok := g.Nodes[to]; !ok {
			g.Warnings = append(g.Warnings, Warning{RecordID: declarer, MissingID: to, Relation: relation})
			return
		}
		key := [2]string{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		g.Edges[from] = append(g.Edges[from], to)
		g.Reverse[to] = append(g.Reverse[to], from)
	}
	for _, rec := range records {
		for _, blocker := range rec.Dependencies.BlockedBy {
			addEdge(blocker, rec.ID, rec.ID, "blocked_by")
		}
		for _, dependent := range rec.Dependencies.Blocks {
			addEdge(rec.ID, dependent, rec.ID, "blocks")
		}
	}
	for id := range g.Edges {
		sort.Strings(g.Edges[id])
	}
	for id := range g.Reverse {
		sort.Strings(g.Reverse[id])
	}
	sort.Slice(g.Warnings, func(i, j int) bool {
		if g.Warnings[i].RecordID != g.Warnings[j].RecordID {
			return g.Warnings[i].RecordID < g.Warnings[j].RecordID
		}
		return g.Warnings[i].MissingID < g.Warnings[j].MissingID
	})
	return g
}

// BuildParent constructs a graph containing only the parent relation, one
// edge parent -> child per record with a parent. Cycle detection over this
// graph verifies that no record is its own transitive ancestor.
func BuildParent(records []domain.Record) *Graph {
	g := &Graph{
		Nodes:   make(map[string]Node, len(records)),
		Edges:   make(map[string][]string, len(records)),
		Reverse: make(map[string][]string, len(records)),
	}
	for _, rec := range records {
		g.Nodes[rec.ID] = nodeFromRecord(rec)
		g.Edges[rec.ID] = []string{}
		g.Reverse[rec.ID] = []string{}
	}
	for _, rec := range records {
		parent := rec.Dependencies.Parent
		if parent == nil || *parent == "" {
			continue
		}
		if _, ok := g.Nodes[*parent]; !ok {
			g.Warnings = append(g.Warnings, Warning{RecordID: rec.ID, MissingID: *parent, Relation: "parent"})
			continue
		}
		g.Edges[*parent] = append(g.Edges[*parent], rec.ID)
		g.Reverse[rec.ID] = append(g.Reverse[rec.ID], *parent)
	}
	for id := range g.Edges {
		sort.Strings(g.Edges[id])
	}
	return g
}

func nodeFromRecord(rec domain.Record) Node {
	n := Node{
		ID:             rec.ID,
		Status:         rec.Status,
		Priority:       rec.Priority,
		Blocked:        rec.Blocked,
		BlockingReason: rec.BlockingReason,
		LastModified:   rec.LastModified,
	}
	if rec.Owner != nil {
		n.Owner = *rec.Owner
	}
	if rec.Dependencies.Parent != nil {
		n.Parent = *rec.Dependencies.Parent
	}
	return n
}
