package models

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
)

// JSONStringArray stores a []string as a JSON TEXT column.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		if v == "" {
			*a = nil
			return nil
		}
		data = []byte(v)
	case []byte:
		if len(v) == 0 {
			*a = nil
			return nil
		}
		data = v
	default:
		return fmt.Errorf("unsupported type for JSONStringArray: %T", value)
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// JSONFloat32Array stores an embedding vector as a JSON TEXT column.
type JSONFloat32Array []float32

// Scan implements sql.Scanner.
func (a *JSONFloat32Array) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		if v == "" {
			*a = nil
			return nil
		}
		data = []byte(v)
	case []byte:
		if len(v) == 0 {
			*a = nil
			return nil
		}
		data = v
	default:
		return fmt.Errorf("unsupported type for JSONFloat32Array: %T", value)
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a JSONFloat32Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
