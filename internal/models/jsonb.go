package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// jsonbValue marshals a Go value into a jsonb column value.
func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// jsonbScan unmarshals a jsonb column value into dst.
func jsonbScan(dst interface{}, src interface{}) error {
	if src == nil {
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, dst)
	case string:
		return json.Unmarshal([]byte(data), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// JSONRaw stores an opaque JSON payload (raw provider responses etc.) in a jsonb column.
type JSONRaw json.RawMessage

func (j JSONRaw) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONRaw) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	switch data := src.(type) {
	case []byte:
		*j = append((*j)[:0], data...)
	case string:
		*j = JSONRaw(data)
	default:
		return errors.New("unsupported jsonb source type")
	}
	return nil
}

func (j JSONRaw) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONRaw) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// GormDataType tells gorm to create jsonb columns for JSONRaw fields.
func (JSONRaw) GormDataType() string { return "jsonb" }

// StringList is a JSON-encoded list of ids or option names.
type StringList []string

func (l StringList) Value() (driver.Value, error) { return jsonbValue([]string(l)) }
func (l *StringList) Scan(src interface{}) error { return jsonbScan(l, src) }
func (StringList) GormDataType() string { return "jsonb" }

// Contains reports whether the list includes the given value.
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}
