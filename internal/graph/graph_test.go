package graph_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"hive/internal/domain"
	"hive/internal/graph"
)

func rec(id string, deps domain.Dependencies) domain.Record {
	return domain.Record{
		ID:           id,
		Status:       domain.StatusActive,
		Priority:     domain.PriorityMedium,
		LastModified: "2024-01-01T00:00:00Z",
		Dependencies: deps,
	}
}

func TestBuildSingleRecord(t *testing.T) {
	g := graph.Build([]domain.Record{rec("solo", domain.Dependencies{})})
	if _, ok := g.Nodes["solo"]; !ok {
		t.Fatalf("expected node solo")
	}
	if len(g.Edges["solo"]) != 0 || len(g.Reverse["solo"]) != 0 {
		t.Fatalf("expected empty edge lists, got %v / %v", g.Edges["solo"], g.Reverse["solo"])
	}
}

func TestBuildNormalizesBlockedBy(t *testing.T) {
	// a declares blocked_by b; b declares nothing. The edge b->a must exist anyway.
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"b"}}),
		rec("b", domain.Dependencies{}),
	})
	if !reflect.DeepEqual(g.Edges["b"], []string{"a"}) {
		t.Fatalf("expected edge b->a, got %v", g.Edges["b"])
	}
	if !reflect.DeepEqual(g.Reverse["a"], []string{"b"}) {
		t.Fatalf("expected reverse a->b, got %v", g.Reverse["a"])
	}
}

func TestBuildNormalizesBlocks(t *testing.T) {
	// b declares blocks a; a declares nothing. Same edge as above.
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{}),
		rec("b", domain.Dependencies{Blocks: []string{"a"}}),
	})
	if !reflect.DeepEqual(g.Edges["b"], []string{"a"}) {
		t.Fatalf("expected edge b->a, got %v", g.Edges["b"])
	}
}

func TestBuildDeduplicatesDeclaredBothSides(t *testing.T) {
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"b"}}),
		rec("b", domain.Dependencies{Blocks: []string{"a"}}),
	})
	if len(g.Edges["b"]) != 1 {
		t.Fatalf("expected a single edge b->a, got %v", g.Edges["b"])
	}
}

func TestBuildDanglingReferenceWarns(t *testing.T) {
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"missing-id"}}),
	})
	if len(g.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", g.Warnings)
	}
	w := g.Warnings[0]
	if w.RecordID != "a" || w.MissingID != "missing-id" {
		t.Fatalf("unexpected warning %+v", w)
	}
	if len(g.Edges["a"]) != 0 {
		t.Fatalf("dangling reference must not create edges")
	}
}

func TestBuildIdempotent(t *testing.T) {
	records := []domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"b", "c"}}),
		rec("b", domain.Dependencies{Blocks: []string{"c"}}),
		rec("c", domain.Dependencies{}),
	}
	first := graph.Build(records)
	second := graph.Build(records)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical graphs from identical input")
	}
}

func TestDetectNoCycles(t *testing.T) {
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"b"}}),
		rec("b", domain.Dependencies{BlockedBy: []string{"c"}}),
		rec("c", domain.Dependencies{}),
	})
	report, err := g.DetectCycles(0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if report.HasCycles() {
		t.Fatalf("expected no cycles, got %v", report.Cycles)
	}
}

func TestDetectTwoNodeCycle(t *testing.T) {
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"b"}}),
		rec("b", domain.Dependencies{BlockedBy: []string{"a"}}),
	})
	report, err := g.DetectCycles(0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(report.Cycles) != 1 {
		t.Fatalf("expected one cycle, got %v", report.Cycles)
	}
	if !report.InCycle["a"] || !report.InCycle["b"] {
		t.Fatalf("expected both nodes marked in_cycle: %v", report.InCycle)
	}
	got := graph.FormatCycle(report.Cycles[0])
	if got != "a -> b -> a" {
		t.Fatalf("unexpected cycle rendering %q", got)
	}
}

func TestDetectCycleMixedWithAcyclicNodes(t *testing.T) {
	g := graph.Build([]domain.Record{
		rec("a", domain.Dependencies{BlockedBy: []string{"b"}}),
		rec("b", domain.Dependencies{BlockedBy: []string{"c"}}),
		rec("c", domain.Dependencies{BlockedBy: []string{"a"}}),
		rec("free", domain.Dependencies{}),
	})
	report, err := g.DetectCycles(0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(report.Cycles) != 1 {
		t.Fatalf("expected one cycle, got %v", report.Cycles)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !report.InCycle[id] {
			t.Fatalf("expected %s marked in_cycle", id)
		}
	}
	if report.InCycle["free"] {
		t.Fatalf("free node must not be marked in_cycle")
	}
}

func TestDetectCyclesDepthCap(t *testing.T) {
	var records []domain.Record
	for i := 0; i < 50; i++ {
		deps := domain.Dependencies{}
		if i > 0 {
			deps.BlockedBy = []string{fmt.Sprintf("n%03d", i-1)}
		}
		records = append(records, rec(fmt.Sprintf("n%03d", i), deps))
	}
	g := graph.Build(records)
	if _, err := g.DetectCycles(10); !errors.Is(err, graph.ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
	// generous cap passes
	if _, err := g.DetectCycles(100); err != nil {
		t.Fatalf("expected success with large cap: %v", err)
	}
}

func TestParentCycleDetected(t *testing.T) {
	pa, pb := "b", "a"
	records := []domain.Record{
		rec("a", domain.Dependencies{Parent: &pa}),
		rec("b", domain.Dependencies{Parent: &pb}),
	}
	g := graph.BuildParent(records)
	report, err := g.DetectCycles(0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !report.HasCycles() {
		t.Fatalf("expected parent cycle")
	}
}

func TestParentChainAcyclic(t *testing.T) {
	parent := "root"
	records := []domain.Record{
		rec("root", domain.Dependencies{}),
		rec("child", domain.Dependencies{Parent: &parent}),
	}
	g := graph.BuildParent(records)
	report, err := g.DetectCycles(0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if report.HasCycles() {
		t.Fatalf("expected no parent cycle, got %v", report.Cycles)
	}
}

func TestParentDanglingWarns(t *testing.T) {
	missing := "ghost"
	g := graph.BuildParent([]domain.Record{rec("a", domain.Dependencies{Parent: &missing})})
	if len(g.Warnings) != 1 || g.Warnings[0].Relation != "parent" {
		t.Fatalf("expected parent warning, got %v", g.Warnings)
	}
}
