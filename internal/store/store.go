// Package store abstracts where records live. The engine only sees a
// Snapshot; whether it came from sqlite or a directory of frontmatter
// files is the adapter's business.
package store

import (
	"context"
	"fmt"

	"hive/internal/domain"
	"hive/internal/repo"
)

// Issue is a non-fatal diagnostic raised while loading a record. Records
// with issues severe enough to be unusable are skipped, never propagated
// as errors.
type Issue struct {
	Source   string `json:"source"`
	RecordID string `json:"record_id,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s: %s: %s", i.Source, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Source, i.Message)
}

// Snapshot is a point-in-time read of every loadable record.
type Snapshot struct {
	Records []domain.Record
	Issues  []Issue

	index map[string]int
}

// Get looks a record up by id.
func (s Snapshot) Get(id string) (domain.Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Record{}, false
	}
	return s.Records[i], true
}

func newSnapshot(records []domain.Record, issues []Issue) Snapshot {
	index := make(map[string]int, len(records))
	for i, r := range records {
		index[r.ID] = i
	}
	return Snapshot{Records: records, Issues: issues, index: index}
}

// Store yields record snapshots for the engine.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// DB reads records from the sqlite workspace.
type DB struct {
	Repo repo.Repo
}

func (d DB) Snapshot(ctx context.Context) (Snapshot, error) {
	records, err := d.Repo.ListRecords(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list records: %w", err)
	}
	var (
		kept   []domain.Record
		issues []Issue
	)
	for _, rec := range records {
		recIssues, usable := checkRecord("db", rec)
		issues = append(issues, recIssues...)
		if usable {
			kept = append(kept, rec)
		}
	}
	return newSnapshot(kept, issues), nil
}

// checkRecord validates fields that foreign writers could have corrupted.
// The repo enforces these on its own write paths, but a db edited out of
// band or a frontmatter file is not trusted. Only a missing id or an
// unknown status makes a record unusable; a bad priority is diagnosed
// and ranked as medium.
func checkRecord(source string, rec domain.Record) (issues []Issue, usable bool) {
	usable = true
	if rec.ID == "" {
		issues = append(issues, Issue{Source: source, Field: "id", Message: "missing record id"})
		usable = false
	}
	if !rec.Status.Valid() {
		issues = append(issues, Issue{Source: source, RecordID: rec.ID, Field: "status",
			Message: fmt.Sprintf("unknown status %q", rec.Status)})
		usable = false
	}
	if rec.Priority != "" && !rec.Priority.Valid() {
		issues = append(issues, Issue{Source: source, RecordID: rec.ID, Field: "priority",
			Message: fmt.Sprintf("unknown priority %q", rec.Priority)})
	}
	return issues, usable
}
