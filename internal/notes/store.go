// Package notes keeps the lightweight per-student memory that carries
// across sessions: tutor-written progress notes and the consent flag.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/seeme-labs/tutor-bridge/internal/bridge"
)

const (
	// Kept notes per context; older ones are trimmed away.
	maxStoredNotes = 50
	// Notes loaded into a new session's instruction.
	notesPerSession = 10

	noteTTL    = 90 * 24 * time.Hour
	consentTTL = 365 * 24 * time.Hour
)

type storedNote struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	client *redis.Client
	log    *slog.Logger
}

func NewStore(client *redis.Client, log *slog.Logger) *Store {
	return &Store{
		client: client,
		log:    log.With("component", "notes_store"),
	}
}

func notesKey(contextID string) string   { return fmt.Sprintf("notes:%s", contextID) }
func labelKey(contextID string) string   { return fmt.Sprintf("label:%s", contextID) }
func consentKey(contextID string) string { return fmt.Sprintf("consent:%s", contextID) }

// Context bundles what a new session wants to know about a returning
// student: their stored display label and recent notes.
func (s *Store) Context(ctx context.Context, contextID string) (bridge.ContextInfo, error) {
	if contextID == "" {
		return bridge.ContextInfo{}, nil
	}

	label, err := s.client.Get(ctx, labelKey(contextID)).Result()
	if err != nil && err != redis.Nil {
		return bridge.ContextInfo{}, err
	}

	prior, err := s.PriorNotes(ctx, contextID)
	if err != nil {
		return bridge.ContextInfo{}, err
	}

	consented, err := s.HasConsent(ctx, contextID)
	if err != nil {
		return bridge.ContextInfo{}, err
	}
	return bridge.ContextInfo{DisplayLabel: label, PriorNotes: prior, Consented: consented}, nil
}

// SetDisplayLabel remembers what to call the student next time.
func (s *Store) SetDisplayLabel(ctx context.Context, contextID, label string) error {
	if contextID == "" || label == "" {
		return nil
	}
	return s.client.Set(ctx, labelKey(contextID), label, noteTTL).Err()
}

// PriorNotes returns the most recent notes for a context in
// chronological order, ready to fold into a session instruction.
func (s *Store) PriorNotes(ctx context.Context, contextID string) ([]string, error) {
	if contextID == "" {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, notesKey(contextID), -notesPerSession, -1).Result()
	if err != nil {
		return nil, err
	}

	notes := make([]string, 0, len(raw))
	for _, item := range raw {
		var note storedNote
		if err := json.Unmarshal([]byte(item), &note); err != nil {
			s.log.Warn("skipping undecodable note", "context_id", contextID, "error", err)
			continue
		}
		notes = append(notes, note.Text)
	}
	return notes, nil
}

// SaveNote appends a note and trims the list to its cap.
func (s *Store) SaveNote(ctx context.Context, contextID, text string) (string, error) {
	if contextID == "" {
		return "", fmt.Errorf("cannot save a note without a context")
	}

	note := storedNote{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return "", err
	}

	key := notesKey(contextID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -maxStoredNotes, -1)
	pipe.Expire(ctx, key, noteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return note.ID, nil
}

// RecordConsent stores the moment the student acknowledged recording.
func (s *Store) RecordConsent(ctx context.Context, contextID string) error {
	if contextID == "" {
		return fmt.Errorf("cannot record consent without a context")
	}
	return s.client.Set(ctx, consentKey(contextID), time.Now().UTC().Format(time.RFC3339), consentTTL).Err()
}

func (s *Store) HasConsent(ctx context.Context, contextID string) (bool, error) {
	_, err := s.client.Get(ctx, consentKey(contextID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ping reports whether the backing redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
