// Package store is the persistence collaborator: conversation records,
// relayed-turn history, surveys, and conversation length, kept in SQLite
// through GORM. Every operation commits independently; nothing here
// spans a conversation-long transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lingolab/pairchat/backend/internal/model/chat"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrSurveyAlreadyRecorded = errors.New("post-survey already recorded for this side")
	ErrInvalidSide           = errors.New("side must be 1 or 2")
)

// Store wraps the GORM handle.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite file (":memory:" in tests) and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Conversation{}, &Turn{}); err != nil {
		return nil, fmt.Errorf("store: auto-migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewConversation carries everything needed to open a conversation
// record at pairing time.
type NewConversation struct {
	User1ID        string
	User2ID        string
	User1Lang      string
	User2Lang      string
	Condition      string
	Model          string
	StarterIndex   int
	User1Presurvey json.RawMessage
	User2Presurvey json.RawMessage
}

// CreateConversation inserts the record and returns the server-assigned
// conversation id, the shared key between the two halves of the session.
func (s *Store) CreateConversation(ctx context.Context, nc NewConversation) (int64, error) {
	row := Conversation{
		User1ID:        nc.User1ID,
		User2ID:        nc.User2ID,
		User1Lang:      nc.User1Lang,
		User2Lang:      nc.User2Lang,
		Condition:      nc.Condition,
		Model:          nc.Model,
		StarterIndex:   nc.StarterIndex,
		User1Presurvey: string(nc.User1Presurvey),
		User2Presurvey: string(nc.User2Presurvey),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("store: create conversation: %w", err)
	}
	return row.ID, nil
}

// AppendHistoryEntry records one relayed turn.
func (s *Store) AppendHistoryEntry(ctx context.Context, conversationID int64, entry chat.HistoryEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	turn := Turn{
		ConversationID: conversationID,
		Sender:         entry.Sender,
		Text:           entry.Text,
		Translation:    entry.Translation,
		DetectedLang:   entry.DetectedLang,
		CreatedAt:      createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&turn).Error; err != nil {
		return fmt.Errorf("store: append history conversation=%d: %w", conversationID, err)
	}
	return nil
}

// RecordPostSurvey stores one side's post-session survey exactly once. A
// second submission for the same side leaves the first untouched and
// reports ErrSurveyAlreadyRecorded.
func (s *Store) RecordPostSurvey(ctx context.Context, conversationID int64, side int, payload []byte) error {
	var column string
	switch side {
	case 1:
		column = "user1_postsurvey"
	case 2:
		column = "user2_postsurvey"
	default:
		return ErrInvalidSide
	}

	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND ("+column+" IS NULL OR "+column+" = '')", conversationID).
		Update(column, string(payload))
	if res.Error != nil {
		return fmt.Errorf("store: record post-survey conversation=%d side=%d: %w", conversationID, side, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Conversation{}).
			Where("id = ?", conversationID).Count(&count).Error; err != nil {
			return fmt.Errorf("store: record post-survey conversation=%d: %w", conversationID, err)
		}
		if count == 0 {
			return ErrConversationNotFound
		}
		return ErrSurveyAlreadyRecorded
	}
	return nil
}

// RecordConversationLength persists the measured duration, rounded to
// whole seconds.
func (s *Store) RecordConversationLength(ctx context.Context, conversationID int64, d time.Duration) error {
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("duration_seconds", int(d.Round(time.Second)/time.Second))
	if res.Error != nil {
		return fmt.Errorf("store: record length conversation=%d: %w", conversationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// GetConversation loads one conversation record.
func (s *Store) GetConversation(ctx context.Context, conversationID int64) (Conversation, error) {
	var row Conversation
	err := s.db.WithContext(ctx).First(&row, conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: get conversation=%d: %w", conversationID, err)
	}
	return row, nil
}

// History returns a conversation's turns in insertion order.
func (s *Store) History(ctx context.Context, conversationID int64) ([]Turn, error) {
	var turns []Turn
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("store: history conversation=%d: %w", conversationID, err)
	}
	return turns, nil
}
