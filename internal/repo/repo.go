package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"hive/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale means a conditional write lost the race: the record changed
	// since it was read. Callers decide whether to re-read and retry.
	ErrStale = errors.New("record modified since read")
)

const recordColumns = `id,status,owner,blocked,COALESCE(blocking_reason,'') AS blocking_reason,priority,tags_json,parent,last_modified`

func scanRecord(scan func(dest ...any) error) (domain.Record, error) {
	var (
		rec      domain.Record
		owner    sql.NullString
		blocked  int
		tagsJSON sql.NullString
		parent   sql.NullString
	)
	err := scan(&rec.ID, &rec.Status, &owner, &blocked, &rec.BlockingReason, &rec.Priority, &tagsJSON, &parent, &rec.LastModified)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if owner.Valid && owner.String != "" {
		rec.Owner = &owner.String
	}
	rec.Blocked = blocked != 0
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &rec.Tags)
	}
	if parent.Valid && parent.String != "" {
		rec.Dependencies.Parent = &parent.String
	}
	return rec, nil
}

func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	tags, err := marshalStringSlice(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO records(id,status,owner,blocked,blocking_reason,priority,tags_json,parent,last_modified) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Status, optional(rec.Owner), boolInt(rec.Blocked), nullable(rec.BlockingReason), rec.Priority, tags, optional(rec.Dependencies.Parent), rec.LastModified)
	return err
}

func (r Repo) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, id).Scan)
	if err != nil {
		return rec, err
	}
	return r.attachDependencies(ctx, rec)
}

func (r Repo) ListRecords(ctx context.Context) ([]domain.Record, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range records {
		records[i], err = r.attachDependencies(ctx, records[i])
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r Repo) attachDependencies(ctx context.Context, rec domain.Record) (domain.Record, error) {
	blockedBy, related, err := r.listDeclaredDeps(ctx, rec.ID)
	if err != nil {
		return rec, err
	}
	blocks, err := r.listDependents(ctx, rec.ID)
	if err != nil {
		return rec, err
	}
	rec.Dependencies.BlockedBy = blockedBy
	rec.Dependencies.Related = related
	rec.Dependencies.Blocks = blocks
	return rec, nil
}

func (r Repo) listDeclaredDeps(ctx context.Context, id string) (blockedBy, related []string, err error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_id, kind FROM record_deps WHERE record_id=? ORDER BY depends_on_id`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dep, kind string
		if err := rows.Scan(&dep, &kind); err != nil {
			return nil, nil, err
		}
		switch kind {
		case "related":
			related = append(related, dep)
		default:
			blockedBy = append(blockedBy, dep)
		}
	}
	return blockedBy, related, rows.Err()
}

func (r Repo) listDependents(ctx context.Context, id string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT record_id FROM record_deps WHERE depends_on_id=? AND kind='blocked_by' ORDER BY record_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dependents []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		dependents = append(dependents, dep)
	}
	return dependents, rows.Err()
}

func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, recordID string, deps []string, kind string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO record_deps(record_id, depends_on_id, kind) VALUES (?,?,?)`, recordID, d, kind); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) RemoveDependencies(ctx context.Context, tx *sql.Tx, recordID string, deps []string, kind string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_deps WHERE record_id=? AND depends_on_id=? AND kind=?`, recordID, d, kind); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRecord writes mutable fields unconditionally. Dependency rows are
// managed separately via AddDependencies/RemoveDependencies.
func (r Repo) UpdateRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	tags, err := marshalStringSlice(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE records SET status=?, owner=?, blocked=?, blocking_reason=?, priority=?, tags_json=?, parent=?, last_modified=? WHERE id=?`,
		rec.Status, optional(rec.Owner), boolInt(rec.Blocked), nullable(rec.BlockingReason), rec.Priority, tags, optional(rec.Dependencies.Parent), rec.LastModified, rec.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOwnerCAS conditionally writes the owner column, guarded on last_modified
// being unchanged since the caller read the record. A zero-row update means
// either the race was lost (ErrStale) or the record was deleted in between
// (ErrNotFound).
func (r Repo) SetOwnerCAS(ctx context.Context, tx *sql.Tx, id string, owner *string, readLastModified, newLastModified string) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET owner=?, last_modified=? WHERE id=? AND last_modified=?`,
		optional(owner), newLastModified, id, readLastModified)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id=?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrStale
	}
	return nil
}

func (r Repo) DeleteRecord(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvents returns the newest events first, capped at limit.
func (r Repo) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(record_id,''),actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RecordID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func marshalStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), in...)
	sort.Strings(sorted)
	b, err := json.Marshal(sorted)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func optional(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
