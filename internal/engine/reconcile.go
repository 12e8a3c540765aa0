package engine

import (
	"context"
	"fmt"

	"hive/internal/domain"
	"hive/internal/events"
)

// OwnedError reports that a durable claim lost to an existing owner.
type OwnedError struct {
	RecordID string
	Owner    string
}

func (e *OwnedError) Error() string {
	return fmt.Sprintf("record %s currently owned by %s", e.RecordID, e.Owner)
}

// NotOwnerError reports a release attempted by someone other than the
// current owner.
type NotOwnerError struct {
	RecordID string
	Owner    string
	Actor    string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("record %s owned by %s, not %s", e.RecordID, e.Owner, e.Actor)
}

// ClaimOwner writes agentName as the durable owner of id. The write is
// conditional on last_modified being unchanged since the read; a lost
// race surfaces repo.ErrStale and is never retried here. The caller
// decides whether to re-read and try again.
func (e Engine) ClaimOwner(ctx context.Context, id, agentName string) (domain.Record, error) {
	if agentName == "" {
		return domain.Record{}, fmt.Errorf("agent name is required")
	}
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if rec.Claimed() {
		if *rec.Owner == agentName {
			return rec, nil
		}
		e.journalConflict(ctx, id, agentName, *rec.Owner)
		return domain.Record{}, &OwnedError{RecordID: id, Owner: *rec.Owner}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	stamp := e.stamp()
	if err := e.Repo.SetOwnerCAS(ctx, tx, id, &agentName, rec.LastModified, stamp); err != nil {
		return domain.Record{}, err
	}
	if err := e.Events.Append(ctx, tx, "owner.claimed", id, agentName, events.EventPayload{"owner": agentName}); err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	rec.Owner = &agentName
	rec.LastModified = stamp
	return rec, nil
}

// ReleaseOwner clears the durable owner of id. Only the current owner
// may release, unless force is set.
func (e Engine) ReleaseOwner(ctx context.Context, id, agentName string, force bool) (domain.Record, error) {
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !rec.Claimed() {
		return rec, nil
	}
	if !force && *rec.Owner != agentName {
		return domain.Record{}, &NotOwnerError{RecordID: id, Owner: *rec.Owner, Actor: agentName}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record{}, err
	}
	defer tx.Rollback()

	stamp := e.stamp()
	if err := e.Repo.SetOwnerCAS(ctx, tx, id, nil, rec.LastModified, stamp); err != nil {
		return domain.Record{}, err
	}
	if err := e.Events.Append(ctx, tx, "owner.released", id, agentName, events.EventPayload{"previous_owner": *rec.Owner, "forced": force}); err != nil {
		return domain.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Record{}, err
	}
	rec.Owner = nil
	rec.LastModified = stamp
	return rec, nil
}

// journalConflict records a lost durable claim. Best effort: the
// conflict response matters more than its audit row.
func (e Engine) journalConflict(ctx context.Context, id, actor, owner string) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "owner.conflict", id, actor, events.EventPayload{"owner": owner}); err != nil {
		return
	}
	_ = tx.Commit()
}
