package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/klaxonhq/klaxon/pkg/ctx"

	"gorm.io/gorm"
)

func DB(ctx *ctx.Context) *gorm.DB {
	return ctx.DB
}

func Count(tx *gorm.DB) (int64, error) {
	var cnt int64
	err := tx.Count(&cnt).Error
	return cnt, err
}

func Exists(tx *gorm.DB) (bool, error) {
	num, err := Count(tx)
	return num > 0, err
}

func Insert(ctx *ctx.Context, obj interface{}) error {
	return DB(ctx).Create(obj).Error
}

// Migrate creates or updates the engine tables.
func Migrate(ctx *ctx.Context) error {
	return DB(ctx).AutoMigrate(
		&Alert{},
		&AlertHistory{},
		&AlertGroup{},
		&Escalation{},
		&NotifyRecord{},
	)
}

func scanBytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// StringArray is a gorm custom type storing a string slice as JSON text.
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	j, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(j), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, ok := scanBytes(value)
	if !ok {
		return fmt.Errorf("failed to scan StringArray: %v", value)
	}
	strs := make([]string, 0)
	if err := json.Unmarshal(b, &strs); err != nil {
		return fmt.Errorf("failed to scan StringArray: %v", err)
	}
	*s = strs
	return nil
}

// StringMap is a gorm custom type storing a map[string]string as JSON text.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	j, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(j), nil
}

func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := scanBytes(value)
	if !ok {
		return fmt.Errorf("failed to scan StringMap: %v", value)
	}
	var data map[string]string
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("failed to scan StringMap: %v", err)
	}
	*m = data
	return nil
}

// JSONMap is a gorm custom type storing open-ended metadata as JSON text.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	j, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(j), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := scanBytes(value)
	if !ok {
		return fmt.Errorf("failed to scan JSONMap: %v", value)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("failed to scan JSONMap: %v", err)
	}
	*m = data
	return nil
}
