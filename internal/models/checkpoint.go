package models

import "time"

// Checkpoint is the main progress marker of a task.
type Checkpoint struct {
	Cursor          int64
	TimestampCursor string
}

// DailyStats holds the per-day write counters of a task.
type DailyStats struct {
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Failed  int64  `json:"failed"`
	Date    string `json:"date"`
}

// Today formats t the way DailyStats dates are stored.
func Today(t time.Time) string {
	return t.Format(DateLayout)
}

// ForDate returns s unchanged when it belongs to date, otherwise zeroed counters tagged with date.
func (s DailyStats) ForDate(date string) DailyStats {
	if s.Date != date {
		return DailyStats{Date: date}
	}
	return s
}

// DeadLetterEntry is a write-once snapshot of a batch that could not be indexed.
type DeadLetterEntry struct {
	ID        string       `json:"id"`
	Task      string       `json:"task"`
	Reason    string       `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
	Records   []SyncRecord `json:"records"`
}
