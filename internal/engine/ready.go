package engine

import (
	"context"
	"sort"
	"strings"

	"hive/internal/domain"
	"hive/internal/graph"
	"hive/internal/store"
)

// ReadyItem is one record that an agent may pick up right now.
type ReadyItem struct {
	ID           string          `json:"id"`
	Priority     domain.Priority `json:"priority"`
	Tags         []string        `json:"tags,omitempty"`
	LastModified string          `json:"last_modified"`
}

// ReadyWork resolves the snapshot into the ordered list of claimable
// records. A record is ready when it is active, not flagged blocked, has
// no durable owner, sits in no cycle, and every blocker is completed. A
// blocker that does not exist keeps its dependent out of the list: an
// unresolvable reference fails closed.
func ReadyWork(snap store.Snapshot, maxDepth int) ([]ReadyItem, error) {
	g := graph.Build(snap.Records)
	report, err := g.DetectCycles(maxDepth)
	if err != nil {
		return nil, err
	}
	var items []ReadyItem
	for _, rec := range snap.Records {
		if !recordReady(rec, snap, report) {
			continue
		}
		items = append(items, ReadyItem{
			ID:           rec.ID,
			Priority:     rec.Priority,
			Tags:         rec.Tags,
			LastModified: rec.LastModified,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if a, b := items[i].Priority.Rank(), items[j].Priority.Rank(); a != b {
			return a < b
		}
		if items[i].LastModified != items[j].LastModified {
			return items[i].LastModified < items[j].LastModified
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func recordReady(rec domain.Record, snap store.Snapshot, report graph.CycleReport) bool {
	if rec.Status != domain.StatusActive || rec.Blocked || rec.Claimed() {
		return false
	}
	if report.InCycle[rec.ID] {
		return false
	}
	for _, dep := range rec.Dependencies.BlockedBy {
		blocker, ok := snap.Get(dep)
		if !ok || blocker.Status != domain.StatusCompleted {
			return false
		}
	}
	return true
}

func join(ids []string) string {
	return strings.Join(ids, ", ")
}

// ReadyWorkFromStore is the convenience path used by the server and CLI.
func (e Engine) ReadyWorkFromStore(ctx context.Context) ([]ReadyItem, error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ReadyWork(snap, e.maxDepth())
}
