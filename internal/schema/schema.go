// Package schema holds the single logical description of every Athena
// entity. Physical table definitions for each SQL dialect, the value
// encodings used by the SQL backends, and the insert/patch validators used by
// the storage façade are all derived from these descriptions, so the
// in-memory, SQLite and PostgreSQL stores cannot drift apart.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the semantic type of a field, independent of any storage dialect.
type Kind int

const (
	KindString Kind = iota
	KindText
	KindInt
	KindFloat
	KindBool
	KindTime
	KindJSON
)

// String returns the lower-case kind name used in validation messages.
func (k Kind) String() string {
	switch k {
	case KindString, KindText:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "boolean"
	case KindTime:
		return "timestamp"
	case KindJSON:
		return "JSON value"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// JSONShape restricts the top-level shape of a KindJSON value.
type JSONShape int

const (
	// ShapeAny accepts any JSON value.
	ShapeAny JSONShape = iota
	// ShapeObject requires a JSON object.
	ShapeObject
	// ShapeStringList requires an array of strings.
	ShapeStringList
)

// Managed marks fields whose values are assigned by storage rather than by
// callers. Managed fields are dropped from insert and patch payloads.
type Managed int

const (
	Unmanaged Managed = iota
	// ManagedID is the primary key, assigned once on insert.
	ManagedID
	// ManagedCreated is set to the insert time and never changed.
	ManagedCreated
	// ManagedUpdated is set on insert and refreshed on every update.
	ManagedUpdated
)

// Field describes one attribute of an entity.
type Field struct {
	// Name is the JSON attribute name exposed over the REST API.
	Name string
	// Column is the SQL column name.
	Column string
	Kind   Kind
	// Required fields must be present and non-null in insert payloads.
	Required bool
	// Nullable fields accept JSON null.
	Nullable bool
	// Default is applied on insert when the field is absent. JSON defaults
	// are deep-copied before use.
	Default any
	// Enum, when non-empty, restricts string values to the listed set.
	Enum []string
	// Shape constrains KindJSON values.
	Shape JSONShape
	// NonNegative rejects numbers below zero.
	NonNegative bool
	Unique      bool
	Indexed     bool
	Managed     Managed
}

// Entity describes one persisted entity family.
type Entity struct {
	// Name is the REST resource name, e.g. "clients".
	Name string
	// Type is the singular entity type recorded in activity logs.
	Type  string
	Table string
	// Fields are listed in column order; the first field is the primary key.
	Fields []Field
	// Audited entities get an activity-log entry for every mutation.
	Audited bool
	// Summary names the fields copied into the details of a "created" log
	// entry.
	Summary []string
	// OrderBy names a timestamp field listed newest first. Empty means
	// insertion order.
	OrderBy string

	byName map[string]*Field
}

// Field returns the named field, or nil.
func (e *Entity) Field(name string) *Field {
	return e.byName[name]
}

// Managed returns the names of fields with the given management mode.
func (e *Entity) Managed(m Managed) []string {
	var out []string
	for i := range e.Fields {
		if e.Fields[i].Managed == m {
			out = append(out, e.Fields[i].Name)
		}
	}
	return out
}

// Columns returns the SQL column names in declaration order.
func (e *Entity) Columns() []string {
	cols := make([]string, len(e.Fields))
	for i := range e.Fields {
		cols[i] = e.Fields[i].Column
	}
	return cols
}

// define indexes e by field name. Entities must be defined before use.
func define(e *Entity) *Entity {
	e.byName = make(map[string]*Field, len(e.Fields))
	for i := range e.Fields {
		e.byName[e.Fields[i].Name] = &e.Fields[i]
	}
	return e
}

// Payload is a validated, normalized set of field values keyed by JSON name.
//
// Values are normalized per kind: strings as string, integers as int64,
// numbers as float64, booleans as bool, timestamps as UTC time.Time truncated
// to the millisecond, JSON values as the generic encoding/json shapes
// (map[string]any, []any, float64, string, bool), and null as nil.
type Payload map[string]any

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every offending field of a rejected payload.
type ValidationError struct {
	Entity string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Field + ": " + is.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}
