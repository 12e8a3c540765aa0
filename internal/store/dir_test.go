package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hive/internal/store"
)

func writeProject(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, "projects", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, store.StatusFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSnapshot(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "api", `---
project_id: api
status: active
priority: high
last_updated: "2024-03-01T10:00:00Z"
dependencies:
  blocked_by:
    - auth
---
# API service
`)
	writeProject(t, root, "auth", `---
project_id: auth
status: completed
owner: bee-1
last_updated: "2024-02-01T10:00:00Z"
---
`)

	snap, err := store.Dir{Root: root}.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 records, got %d (%v)", len(snap.Records), snap.Issues)
	}
	api, ok := snap.Get("api")
	if !ok {
		t.Fatalf("missing record api")
	}
	if len(api.Dependencies.BlockedBy) != 1 || api.Dependencies.BlockedBy[0] != "auth" {
		t.Fatalf("unexpected blocked_by %v", api.Dependencies.BlockedBy)
	}
	auth, _ := snap.Get("auth")
	if !auth.Claimed() || *auth.Owner != "bee-1" {
		t.Fatalf("expected auth owned by bee-1")
	}
	// frontmatter omits priority, defaults to medium
	if auth.Priority != "medium" {
		t.Fatalf("expected default priority medium, got %q", auth.Priority)
	}
}

func TestDirSnapshotMalformedSkipped(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "good", `---
project_id: good
status: pending
---
`)
	writeProject(t, root, "no-fence", "project_id: shapeless\nstatus: active\n")
	writeProject(t, root, "no-id", `---
status: active
---
`)
	writeProject(t, root, "bad-status", `---
project_id: bad-status
status: resting
---
`)

	snap, err := store.Dir{Root: root}.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Records) != 1 || snap.Records[0].ID != "good" {
		t.Fatalf("expected only the good record, got %v", snap.Records)
	}
	if len(snap.Issues) != 3 {
		t.Fatalf("expected 3 issues, got %v", snap.Issues)
	}
}

func TestDirSnapshotMissingTree(t *testing.T) {
	snap, err := store.Dir{Root: t.TempDir()}.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Records) != 0 || len(snap.Issues) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
