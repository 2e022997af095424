// Package schema holds the declarative table model shared by every
// storage-layer component: column and index specs, table identities,
// and PostgreSQL identifier helpers.
package schema

import (
	"fmt"
	"strings"
)

// UpdateTimeColumn is the bookkeeping timestamp appended to every table
// unless explicitly disabled.
const UpdateTimeColumn = "update_time"

// ColumnSpec declares a single column.
type ColumnSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Constraints string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Comment     string `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// IndexSpec declares a secondary index.
type IndexSpec struct {
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Columns []string `yaml:"columns" json:"columns"`
	Unique  bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
}

// TableSchema is the declarative definition of a table: ordered columns,
// primary key, indexes, and the optional date column used for range scans.
type TableSchema struct {
	Schema       string       `yaml:"schema" json:"schema"`
	Table        string       `yaml:"table" json:"table"`
	Columns      []ColumnSpec `yaml:"columns" json:"columns"`
	PrimaryKey   []string     `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	DateColumn   string       `yaml:"date_column,omitempty" json:"date_column,omitempty"`
	Indexes      []IndexSpec  `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	NoUpdateTime bool         `yaml:"no_update_time,omitempty" json:"no_update_time,omitempty"`
}

// Identity returns the table identity for this definition.
func (t *TableSchema) Identity() TableIdentity {
	return TableIdentity{Schema: t.Schema, Table: t.Table}
}

// HasColumn reports whether a column with the given name is declared.
func (t *TableSchema) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// EffectiveColumns returns the declared columns with the implicit
// update_time TIMESTAMP appended unless disabled or already declared.
func (t *TableSchema) EffectiveColumns() []ColumnSpec {
	cols := make([]ColumnSpec, len(t.Columns))
	copy(cols, t.Columns)
	if !t.NoUpdateTime && !t.HasColumn(UpdateTimeColumn) {
		cols = append(cols, ColumnSpec{
			Name: UpdateTimeColumn,
			Type: "TIMESTAMP",
		})
	}
	return cols
}

// Validate checks the definition for structural errors.
func (t *TableSchema) Validate() error {
	if t.Table == "" {
		return &ValidationError{Msg: "table name is required"}
	}
	if len(t.Columns) == 0 {
		return &ValidationError{Msg: fmt.Sprintf("table %s declares no columns", t.Table)}
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return &ValidationError{Msg: fmt.Sprintf("table %s has a column with no name", t.Table)}
		}
		if c.Type == "" {
			return &ValidationError{Msg: fmt.Sprintf("column %s.%s has no type", t.Table, c.Name)}
		}
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return &ValidationError{Msg: fmt.Sprintf("column %s.%s declared twice", t.Table, c.Name)}
		}
		seen[lower] = true
	}
	for _, pk := range t.PrimaryKey {
		if !seen[strings.ToLower(pk)] {
			return &ValidationError{Msg: fmt.Sprintf("primary key column %s is not declared on table %s", pk, t.Table)}
		}
	}
	for _, idx := range t.Indexes {
		if len(idx.Columns) == 0 {
			return &ValidationError{Msg: fmt.Sprintf("index on table %s declares no columns", t.Table)}
		}
	}
	return nil
}

// IsPrimaryKey reports whether the named column is part of the primary key.
func (t *TableSchema) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKey {
		if strings.EqualFold(pk, name) {
			return true
		}
	}
	return false
}
