package index

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"db2es/internal/models"
)

const (
	monthPlaceholder = "#(dtmon)"
	dayPlaceholder   = "#(dtday)"
)

// ResolveIndexName substitutes #(dtmon) with yyyy_MM and #(dtday) with yyyy_MM_dd.
func ResolveIndexName(template string, now time.Time) string {
	if !strings.Contains(template, "#(") {
		return template
	}
	name := strings.ReplaceAll(template, monthPlaceholder, now.Format("2006_01"))
	return strings.ReplaceAll(name, dayPlaceholder, now.Format("2006_01_02"))
}

type actionMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type,omitempty"`
	ID    string `json:"_id"`
}

type action struct {
	Index actionMeta `json:"index"`
}

// BuildBulkBody renders one index action line and one document line per record.
// The _type field is only sent for custom types; "_doc" is implied by the endpoint.
func BuildBulkBody(indexName, docType string, batch []models.SyncRecord) ([]byte, error) {
	if docType == models.DefaultDocumentType {
		docType = ""
	}

	var buf bytes.Buffer
	for _, rec := range batch {
		line, err := json.Marshal(action{Index: actionMeta{Index: indexName, Type: docType, ID: rec.DocumentID}})
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')

		if err := json.Compact(&buf, rec.Body); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
