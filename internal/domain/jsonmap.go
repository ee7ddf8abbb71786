package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap отображение строка-строка, хранимое в колонке jsonb
type JSONMap map[string]string

// Value сериализует отображение для записи в БД
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan читает jsonb колонку в отображение
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("jsonmap: unsupported source type %T", src)
	}
}
