package models

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Checkpoint marks how far a batch run got through an owner's corpus.
// The cursor is (created_at_epoch, id) of the last bookmark of the last fully
// persisted chunk; a resumed run continues strictly after it.
type Checkpoint struct {
	CursorEpoch int64     `json:"cursor_epoch"`
	CursorID    uuid.UUID `json:"cursor_id"`
	Chunk       int       `json:"chunk"`
}

// Zero reports whether the checkpoint has no progress recorded.
func (c Checkpoint) Zero() bool {
	return c.Chunk == 0 && c.CursorEpoch == 0 && c.CursorID == uuid.Nil
}

// Scan implements sql.Scanner for a JSON TEXT column.
func (c *Checkpoint) Scan(value interface{}) error {
	if value == nil {
		*c = Checkpoint{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		if v == "" {
			*c = Checkpoint{}
			return nil
		}
		data = []byte(v)
	case []byte:
		if len(v) == 0 {
			*c = Checkpoint{}
			return nil
		}
		data = v
	default:
		return fmt.Errorf("unsupported type for Checkpoint: %T", value)
	}
	return json.Unmarshal(data, c)
}

// Value implements driver.Valuer.
func (c Checkpoint) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
