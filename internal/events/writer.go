// Package events appends rows to the durable change log. Writes happen
// inside the caller's transaction so an event row never outlives the
// mutation it describes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventPayload is the free-form detail blob stored as JSON.
type EventPayload map[string]any

// Writer appends events. Now is injectable for tests; nil means wall
// clock.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append writes one event row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, recordID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data := []byte("{}")
	if len(payload) > 0 {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	var rid any
	if recordID != "" {
		rid = recordID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,record_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, rid, actorID, string(data))
	return err
}
