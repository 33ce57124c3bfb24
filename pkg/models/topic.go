package models

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
)

// TopicMetrics are the rollup metrics carried by every topic node.
// Recomputed bottom-up on every rebuild; doc_count of a parent is always
// >= the sum over its children.
type TopicMetrics struct {
	DocCount        int      `json:"doc_count"`
	DupGroupCount   int      `json:"dup_group_count"`
	DuplicationRate float64  `json:"duplication_rate"`
	TopTags         []string `json:"top_tags,omitempty"`
	RecencyEpoch    int64    `json:"recency_epoch"`
}

// Scan implements sql.Scanner for a JSON TEXT column.
func (m *TopicMetrics) Scan(value interface{}) error {
	if value == nil {
		*m = TopicMetrics{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		if v == "" {
			*m = TopicMetrics{}
			return nil
		}
		data = []byte(v)
	case []byte:
		if len(v) == 0 {
			*m = TopicMetrics{}
			return nil
		}
		data = v
	default:
		return fmt.Errorf("unsupported type for TopicMetrics: %T", value)
	}
	return json.Unmarshal(data, m)
}

// Value implements driver.Valuer.
func (m TopicMetrics) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
