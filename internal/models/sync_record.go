package models

import "encoding/json"

// SyncRecord is one source row converted to an index document.
type SyncRecord struct {
	Cursor          int64           `json:"cursor"`
	TimestampCursor string          `json:"timestamp_cursor,omitempty"`
	DocumentID      string          `json:"document_id"`
	Body            json.RawMessage `json:"body"`
	IsRepair        bool            `json:"is_repair"`
}
