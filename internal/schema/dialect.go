package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dialect selects the physical encoding of an entity in a SQL database.
type Dialect int

const (
	// SQLite stores booleans as 0/1 integers, timestamps as epoch
	// milliseconds and JSON as TEXT.
	SQLite Dialect = iota
	// Postgres stores native BOOLEAN, TIMESTAMPTZ and JSONB columns.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// seqColumn preserves insertion order in PostgreSQL, which has no rowid.
const seqColumn = "seq"

// InsertionOrder is the expression that orders rows by insertion.
func (d Dialect) InsertionOrder() string {
	if d == Postgres {
		return seqColumn
	}
	return "rowid"
}

func (d Dialect) columnType(k Kind) string {
	switch d {
	case Postgres:
		switch k {
		case KindInt:
			return "BIGINT"
		case KindFloat:
			return "DOUBLE PRECISION"
		case KindBool:
			return "BOOLEAN"
		case KindTime:
			return "TIMESTAMPTZ"
		case KindJSON:
			return "JSONB"
		default:
			return "TEXT"
		}
	default:
		switch k {
		case KindInt, KindBool, KindTime:
			return "INTEGER"
		case KindFloat:
			return "REAL"
		default:
			return "TEXT"
		}
	}
}

// DDL returns the idempotent statements that create e's table and indexes.
//
// Parent references (clientId, siteId) are indexed but carry no FOREIGN KEY
// constraint: referential integrity is unchecked in every backend.
func (e *Entity) DDL(d Dialect) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", e.Table)
	for i := range e.Fields {
		f := &e.Fields[i]
		fmt.Fprintf(&b, "    %s %s", f.Column, d.columnType(f.Kind))
		if f.Managed == ManagedID {
			b.WriteString(" PRIMARY KEY")
		} else if !f.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(e.Fields)-1 || d == Postgres {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if d == Postgres {
		fmt.Fprintf(&b, "    %s BIGSERIAL NOT NULL\n", seqColumn)
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	for i := range e.Fields {
		f := &e.Fields[i]
		switch {
		case f.Unique:
			stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS ux_%s_%s ON %s (%s)",
				e.Table, f.Column, e.Table, f.Column))
		case f.Indexed:
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS ix_%s_%s ON %s (%s)",
				e.Table, f.Column, e.Table, f.Column))
		}
	}
	return stmts
}

// Encode converts a normalized value into the argument bound for f's column.
func (d Dialect) Encode(f *Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%s: expected time.Time, got %T", f.Name, v)
		}
		if d == Postgres {
			return t.UTC(), nil
		}
		return t.UnixMilli(), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected bool, got %T", f.Name, v)
		}
		if d == Postgres {
			return b, nil
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case KindJSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal: %w", f.Name, err)
		}
		return string(raw), nil
	}
	return v, nil
}

// Decode converts a scanned column value back into the normalized
// representation documented on Payload.
func (d Dialect) Decode(f *Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindString, KindText:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case KindInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
	case KindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		}
	case KindTime:
		switch v := raw.(type) {
		case time.Time:
			return Timestamp(v), nil
		case int64:
			return time.UnixMilli(v).UTC(), nil
		case float64:
			return time.UnixMilli(int64(v)).UTC(), nil
		}
	case KindJSON:
		var data []byte
		switch v := raw.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			return NormalizeJSON(v)
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", f.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: cannot decode %T as %s", f.Name, raw, f.Kind)
}
