package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewStore(db *gorm.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With("component", "ledger_store"),
	}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Record{})
}

// RecordStart inserts the row for a session that just began. The start
// write races the end write when a session fails instantly, so an
// existing row only gets its start fields filled in.
func (s *Store) RecordStart(ctx context.Context, sessionID, contextID, clientHash string, startedAt time.Time) error {
	rec := Record{
		SessionID:  sessionID,
		ContextID:  contextID,
		ClientHash: clientHash,
		StartedAt:  startedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"context_id", "client_hash", "started_at"}),
		}).
		Create(&rec).Error
}

// RecordEnd closes out the session's row, creating it when the start
// write has not landed yet. The end reason is the one signal that must
// survive a short-lived or failed session.
func (s *Store) RecordEnd(ctx context.Context, sessionID string, endedAt time.Time, reason, language string) error {
	updates := map[string]any{
		"ended_at":   endedAt,
		"end_reason": reason,
	}
	if language != "" {
		updates["detected_language"] = language
	}

	result := s.db.WithContext(ctx).Model(&Record{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		rec := Record{
			SessionID:        sessionID,
			EndedAt:          &endedAt,
			EndReason:        reason,
			DetectedLanguage: language,
		}
		return s.db.WithContext(ctx).Create(&rec).Error
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// RecentByContext lists the latest sessions for one student context,
// newest first.
func (s *Store) RecentByContext(ctx context.Context, contextID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []Record
	err := s.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
