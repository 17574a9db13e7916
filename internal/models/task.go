package models

import "strings"

// TaskConfig describes one table-to-index mapping. It is loaded once and never mutated.
type TaskConfig struct {
	Name            string   `yaml:"name"`
	TableName       string   `yaml:"table_name"`
	Columns         []string `yaml:"columns"`
	CursorColumn    string   `yaml:"cursor_column"`
	IDColumn        string   `yaml:"id_column"`
	TimestampColumn string   `yaml:"timestamp_column"`
	Index           string   `yaml:"index"`
	Type            string   `yaml:"type"`
	StartID         int64    `yaml:"start_id"`
}

// Key returns the name used to partition checkpoint and dead-letter state.
func (t TaskConfig) Key() string {
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}
	return t.TableName
}

// DocumentIDColumn falls back to the cursor column when no id column is configured.
func (t TaskConfig) DocumentIDColumn() string {
	if strings.TrimSpace(t.IDColumn) != "" {
		return t.IDColumn
	}
	return t.CursorColumn
}

// DocumentType falls back to DefaultDocumentType.
func (t TaskConfig) DocumentType() string {
	if strings.TrimSpace(t.Type) != "" {
		return t.Type
	}
	return DefaultDocumentType
}

// SelectList renders the column list for a SELECT clause.
func (t TaskConfig) SelectList() string {
	if len(t.Columns) == 0 {
		return "*"
	}
	return strings.Join(t.Columns, ", ")
}
