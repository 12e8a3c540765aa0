package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hive/internal/config"
	"hive/internal/domain"
	"hive/internal/events"
	"hive/internal/graph"
	"hive/internal/repo"
	"hive/internal/store"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Store  store.Store
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Store:  store.DB{Repo: r},
		Config: cfg,
	}
	e.SetClock(time.Now)
	return e
}

// SetClock points record stamps and journaled event rows at the same
// time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Events.Now = now
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(domain.TimeLayout)
}

func (e Engine) maxDepth() int {
	if e.Config != nil && e.Config.Graph.MaxDepth > 0 {
		return e.Config.Graph.MaxDepth
	}
	return graph.DefaultMaxDepth
}

// RecordCreateOptions are parameters for creating a record.
type RecordCreateOptions struct {
	ID             string
	Status         domain.Status
	Priority       domain.Priority
	Tags           []string
	BlockedBy      []string
	Blocks         []string
	Related        []string
	Parent         string
	BlockingReason string
	ActorID        string
}

func (e Engine) CreateRecord(ctx context.Context, opts RecordCreateOptions) (domain.Record, error) {
	if opts.ID == "" {
		return domain.Record{}, errors.New("record id is required")
	}
	if opts.Status == "" {
		opts.Status = domain.StatusPending
	}
	if !opts.Status.Valid() {
		return domain.Record{}, fmt.Errorf("unknown status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Record{}, fmt.Errorf("unknown priority %q", opts.Priority)
	}
	if _, err := e.Repo.GetRecord(ctx, opts.ID); err == nil {
		return domain.Record{}, fmt.Errorf("record %s already exists", opts.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Record{}, err
	}

	rec := domain.Record{
		ID:             opts.ID,
		Status:         opts.Status,
		Blocked:        opts.BlockingReason != "",
		BlockingReason: opts.BlockingReason,
		Priority:       opts.Priority,
		Tags:           opts.Tags,
		LastModified:   e.stamp(),
	}
	if opts.Parent != "" {
		rec.Dependencies.Parent = &opts.Parent
		if err := e.ensureParentAcyclic(ctx, rec); err != nil {
			return domain.Record{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRecord(ctx, tx, rec); err != nil {
		return domain.Record{}, err
	}
	if err := e.writeDeclaredDeps(ctx, tx, rec.ID, opts.BlockedBy, opts.Blocks, opts.Related); err != nil {
		return domain.Record{}, err
	}
	if err := e.Events.Append(ctx, tx, "record.created", rec.ID, opts.ActorID, events.EventPayload{
		"status":   rec.Status,
		"priority": rec.Priority,
	}); err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	return e.Repo.GetRecord(ctx, rec.ID)
}

// writeDeclaredDeps persists dependency edits. A declared `blocks` is
// stored as the inverse blocked_by row on the dependent, so the durable
// store holds one canonical direction.
func (e Engine) writeDeclaredDeps(ctx context.Context, tx *sql.Tx, id string, addBlockedBy, addBlocks, addRelated []string) error {
	if err := e.Repo.AddDependencies(ctx, tx, id, addBlockedBy, "blocked_by"); err != nil {
		return err
	}
	for _, dependent := range addBlocks {
		if err := e.Repo.AddDependencies(ctx, tx, dependent, []string{id}, "blocked_by"); err != nil {
			return err
		}
	}
	return e.Repo.AddDependencies(ctx, tx, id, addRelated, "related")
}

// allowedTransition enforces the record lifecycle. Force skips it.
func allowedTransition(from, to domain.Status) bool {
	if from == to {
		return true
	}
	switch from {
	case domain.StatusPending:
		return to == domain.StatusActive || to == domain.StatusBlocked
	case domain.StatusActive:
		return to == domain.StatusBlocked || to == domain.StatusCompleted
	case domain.StatusBlocked:
		return to == domain.StatusActive || to == domain.StatusPending
	case domain.StatusCompleted:
		return false
	}
	return false
}

// RecordUpdateOptions are parameters for updating a record. Nil pointer
// fields are left untouched.
type RecordUpdateOptions struct {
	ID             string
	Status         *domain.Status
	Priority       *domain.Priority
	Blocked        *bool
	BlockingReason *string
	Tags           []string
	SetParent      *string
	ClearParent    bool
	AddBlockedBy   []string
	DropBlockedBy  []string
	AddBlocks      []string
	DropBlocks     []string
	AddRelated     []string
	DropRelated    []string
	ActorID        string
	Force          bool
}

func (e Engine) UpdateRecord(ctx context.Context, opts RecordUpdateOptions) (domain.Record, error) {
	rec, err := e.Repo.GetRecord(ctx, opts.ID)
	if err != nil {
		return domain.Record{}, err
	}
	eventType := "record.updated"
	if opts.Status != nil {
		if !opts.Status.Valid() {
			return domain.Record{}, fmt.Errorf("unknown status %q", *opts.Status)
		}
		if !opts.Force && !allowedTransition(rec.Status, *opts.Status) {
			return domain.Record{}, fmt.Errorf("cannot transition %s from %s to %s", rec.ID, rec.Status, *opts.Status)
		}
		if *opts.Status == domain.StatusCompleted {
			if err := e.ensureBlockersCompleted(ctx, rec, opts.Force); err != nil {
				return domain.Record{}, err
			}
			eventType = "record.completed"
		}
		rec.Status = *opts.Status
	}
	if opts.Priority != nil {
		if !opts.Priority.Valid() {
			return domain.Record{}, fmt.Errorf("unknown priority %q", *opts.Priority)
		}
		rec.Priority = *opts.Priority
	}
	if opts.Blocked != nil {
		rec.Blocked = *opts.Blocked
		if rec.Blocked {
			eventType = "record.blocked"
		} else {
			rec.BlockingReason = ""
		}
	}
	if opts.BlockingReason != nil {
		rec.BlockingReason = *opts.BlockingReason
	}
	if opts.Tags != nil {
		rec.Tags = opts.Tags
	}
	if opts.ClearParent {
		rec.Dependencies.Parent = nil
	} else if opts.SetParent != nil {
		rec.Dependencies.Parent = opts.SetParent
		if err := e.ensureParentAcyclic(ctx, rec); err != nil {
			return domain.Record{}, err
		}
	}
	rec.LastModified = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateRecord(ctx, tx, rec); err != nil {
		return domain.Record{}, err
	}
	if err := e.Repo.RemoveDependencies(ctx, tx, rec.ID, opts.DropBlockedBy, "blocked_by"); err != nil {
		return domain.Record{}, err
	}
	for _, dependent := range opts.DropBlocks {
		if err := e.Repo.RemoveDependencies(ctx, tx, dependent, []string{rec.ID}, "blocked_by"); err != nil {
			return domain.Record{}, err
		}
	}
	if err := e.Repo.RemoveDependencies(ctx, tx, rec.ID, opts.DropRelated, "related"); err != nil {
		return domain.Record{}, err
	}
	if err := e.writeDeclaredDeps(ctx, tx, rec.ID, opts.AddBlockedBy, opts.AddBlocks, opts.AddRelated); err != nil {
		return domain.Record{}, err
	}
	if err := e.Events.Append(ctx, tx, eventType, rec.ID, opts.ActorID, events.EventPayload{
		"status":  rec.Status,
		"blocked": rec.Blocked,
	}); err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	return e.Repo.GetRecord(ctx, rec.ID)
}

// Block flags a record with a human-readable reason.
func (e Engine) Block(ctx context.Context, id, reason, actorID string) (domain.Record, error) {
	blocked := true
	return e.UpdateRecord(ctx, RecordUpdateOptions{
		ID:             id,
		Blocked:        &blocked,
		BlockingReason: &reason,
		ActorID:        actorID,
	})
}

// Complete marks a record done. All blockers must be completed first
// unless force is set.
func (e Engine) Complete(ctx context.Context, id, actorID string, force bool) (domain.Record, error) {
	status := domain.StatusCompleted
	return e.UpdateRecord(ctx, RecordUpdateOptions{
		ID:      id,
		Status:  &status,
		ActorID: actorID,
		Force:   force,
	})
}

func (e Engine) DeleteRecord(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRecord(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "record.deleted", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ensureBlockersCompleted(ctx context.Context, rec domain.Record, force bool) error {
	if force {
		return nil
	}
	var open []string
	for _, dep := range rec.Dependencies.BlockedBy {
		blocker, err := e.Repo.GetRecord(ctx, dep)
		if errors.Is(err, repo.ErrNotFound) {
			open = append(open, dep)
			continue
		}
		if err != nil {
			return err
		}
		if blocker.Status != domain.StatusCompleted {
			open = append(open, dep)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("cannot complete %s: blockers not completed: %s", rec.ID, join(open))
	}
	return nil
}

// ensureParentAcyclic checks the would-be parent hierarchy for a cycle.
// A cycle among parents is always a hard error: there is no partial
// answer for a broken hierarchy.
func (e Engine) ensureParentAcyclic(ctx context.Context, candidate domain.Record) error {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return err
	}
	records := make([]domain.Record, 0, len(snap.Records)+1)
	replaced := false
	for _, r := range snap.Records {
		if r.ID == candidate.ID {
			records = append(records, candidate)
			replaced = true
			continue
		}
		records = append(records, r)
	}
	if !replaced {
		records = append(records, candidate)
	}
	g := graph.BuildParent(records)
	report, err := g.DetectCycles(e.maxDepth())
	if err != nil {
		return err
	}
	if report.InCycle[candidate.ID] {
		for _, cycle := range report.Cycles {
			for _, id := range cycle {
				if id == candidate.ID {
					return fmt.Errorf("parent hierarchy cycle: %s", graph.FormatCycle(cycle))
				}
			}
		}
		return fmt.Errorf("parent hierarchy cycle involving %s", candidate.ID)
	}
	return nil
}
