package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Queryable is the union of the sqlx methods our stores require. Both
// *sqlx.DB and *sqlx.Tx satisfy it, which lets store methods run inside
// or outside of a transaction without changing their signature.
type Queryable interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
}

// JsonColumn wraps a destination type so it can be scanned directly from
// a JSON/JSONB column (typically the output of a JSONB_AGG in a join).
type JsonColumn[T any] struct {
	val *T
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	srcBytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("JsonColumn scan failed: expected []byte source, got %T", src)
	}

	v := new(T)
	if err := json.Unmarshal(srcBytes, v); err != nil {
		return fmt.Errorf("JsonColumn scan failed: %w", err)
	}

	j.val = v
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(j.val)
}

func (j *JsonColumn[T]) Get() *T { return j.val }

func NewJsonColumn[T any](val *T) JsonColumn[T] {
	return JsonColumn[T]{val: val}
}
