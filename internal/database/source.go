package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"db2es/internal/models"
)

// DocumentTimeLayout is how temporal columns are rendered in documents.
const DocumentTimeLayout = "2006-01-02 15:04:05"

// QueryPage returns up to limit rows with cursor > after, ascending by cursor.
func (db *DB) QueryPage(ctx context.Context, task models.TaskConfig, after int64, limit int) ([]models.SyncRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s ASC LIMIT ?",
		task.SelectList(), task.TableName, task.CursorColumn, task.CursorColumn)

	db.logger.Debug().
		Str("task", task.Key()).
		Int64("after", after).
		Int("limit", limit).
		Str("sql", query).
		Msg("page query")

	rows, err := db.QueryContext(ctx, db.rebind(query), after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query page of %s: %w", task.TableName, err)
	}
	defer rows.Close()

	return scanRecords(rows, task, false)
}

// QueryRange returns every row with from < cursor <= to, in no particular order.
func (db *DB) QueryRange(ctx context.Context, task models.TaskConfig, from, to int64, repair bool) ([]models.SyncRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? AND %s <= ?",
		task.SelectList(), task.TableName, task.CursorColumn, task.CursorColumn)

	rows, err := db.QueryContext(ctx, db.rebind(query), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query range of %s: %w", task.TableName, err)
	}
	defer rows.Close()

	return scanRecords(rows, task, repair)
}

func scanRecords(rows *sql.Rows, task models.TaskConfig, repair bool) ([]models.SyncRecord, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var records []models.SyncRecord
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec, err := RowToRecord(task, columns, values)
		if err != nil {
			return nil, err
		}
		rec.IsRepair = repair
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return records, nil
}

// RowToRecord converts one result row into a SyncRecord. The cursor column must be numeric.
func RowToRecord(task models.TaskConfig, columns []string, values []any) (models.SyncRecord, error) {
	doc := RowToDocument(columns, values)

	cursorRaw, ok := lookupFold(doc, task.CursorColumn)
	if !ok {
		return models.SyncRecord{}, fmt.Errorf("cursor column %s missing or null", task.CursorColumn)
	}
	cursor, err := toInt64(cursorRaw)
	if err != nil {
		return models.SyncRecord{}, fmt.Errorf("cursor column %s: %w", task.CursorColumn, err)
	}

	idRaw, ok := lookupFold(doc, task.DocumentIDColumn())
	if !ok {
		return models.SyncRecord{}, fmt.Errorf("id column %s missing or null", task.DocumentIDColumn())
	}

	var tsCursor string
	if task.TimestampColumn != "" {
		if raw, ok := lookupFold(doc, task.TimestampColumn); ok {
			tsCursor = fmt.Sprint(raw)
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return models.SyncRecord{}, fmt.Errorf("encode document: %w", err)
	}

	return models.SyncRecord{
		Cursor:          cursor,
		TimestampCursor: tsCursor,
		DocumentID:      fmt.Sprint(idRaw),
		Body:            body,
	}, nil
}

// RowToDocument maps column names to JSON-friendly values, skipping nulls.
func RowToDocument(columns []string, values []any) map[string]any {
	doc := make(map[string]any, len(columns))
	for i, name := range columns {
		if i >= len(values) || values[i] == nil {
			continue
		}
		switch v := values[i].(type) {
		case []byte:
			doc[name] = string(v)
		case time.Time:
			doc[name] = v.In(time.Local).Format(DocumentTimeLayout)
		default:
			doc[name] = v
		}
	}
	return doc
}

func lookupFold(doc map[string]any, column string) (any, bool) {
	if v, ok := doc[column]; ok {
		return v, true
	}
	for k, v := range doc {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not integral", n)
		}
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported cursor type %T", v)
	}
}
