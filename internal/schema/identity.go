package schema

import (
	"fmt"
	"strings"
)

// TableIdentity is a resolved (schema, table) pair.
type TableIdentity struct {
	Schema string
	Table  string
}

// String returns the dotted, unquoted form.
func (id TableIdentity) String() string {
	if id.Schema == "" {
		return id.Table
	}
	return id.Schema + "." + id.Table
}

// Qualified returns the quoted, statement-ready form.
func (id TableIdentity) Qualified() string {
	return Qualify(id.Schema, id.Table)
}

// ParseIdentity resolves a bare "table" or "schema.table" string.
// Unqualified names fall back to defaultSchema.
func ParseIdentity(s, defaultSchema string) (TableIdentity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TableIdentity{}, &ValidationError{Msg: "empty table name"}
	}
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		if defaultSchema == "" {
			return TableIdentity{}, &ValidationError{Msg: fmt.Sprintf("table %q has no schema and no default schema is set", s)}
		}
		return TableIdentity{Schema: defaultSchema, Table: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return TableIdentity{}, &ValidationError{Msg: fmt.Sprintf("malformed table name %q", s)}
		}
		return TableIdentity{Schema: parts[0], Table: parts[1]}, nil
	default:
		return TableIdentity{}, &ValidationError{Msg: fmt.Sprintf("malformed table name %q", s)}
	}
}

// Target is the narrow capability the storage layer requires from
// task-like objects handed in by orchestration code. Adapters outside
// this module implement it; the engine never guesses identities.
type Target interface {
	// TableIdentity returns the resolved (schema, table) pair.
	TableIdentity() TableIdentity
	// SchemaDefinition returns the declarative table definition,
	// or nil when the caller carries none.
	SchemaDefinition() *TableSchema
}

// StringTarget adapts a plain "schema.table" string to the Target
// interface. It carries no schema definition.
type StringTarget struct {
	ID TableIdentity
}

// NewStringTarget parses name against defaultSchema.
func NewStringTarget(name, defaultSchema string) (StringTarget, error) {
	id, err := ParseIdentity(name, defaultSchema)
	if err != nil {
		return StringTarget{}, err
	}
	return StringTarget{ID: id}, nil
}

// TableIdentity implements Target.
func (s StringTarget) TableIdentity() TableIdentity { return s.ID }

// SchemaDefinition implements Target.
func (s StringTarget) SchemaDefinition() *TableSchema { return nil }
