// Package ledger persists one durable record per tutoring session:
// when it started, how it ended, and how long it ran.
package ledger

import "time"

type Record struct {
	SessionID        string `gorm:"primaryKey"`
	ContextID        string `gorm:"index"`
	ClientHash       string
	StartedAt        time.Time
	EndedAt          *time.Time
	EndReason        string
	DetectedLanguage string
}

func (Record) TableName() string {
	return "session_records"
}

// Duration is zero until the session has ended.
func (r Record) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
