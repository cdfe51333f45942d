// Package store persists conversation turns and sync cursors.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Conversation is one persisted user-input/agent-reply turn.
type Conversation struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	StudentID string    `gorm:"type:varchar(128);index;not null" json:"student_id"`
	AgentID   string    `gorm:"type:varchar(128);index;not null" json:"agent_id"`
	UserInput string    `gorm:"type:text;not null" json:"user_input"`
	BotReply  string    `gorm:"type:text;not null" json:"bot_reply"`
	Accuracy  *float64  `json:"accuracy"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// SyncCursor is the per-bot reconciliation watermark: the newest message
// creation timestamp (unix seconds) already ingested for that bot.
type SyncCursor struct {
	BotID                string    `gorm:"primaryKey;type:varchar(128)" json:"bot_id"`
	LastMessageCreatedAt int64     `gorm:"not null;default:0" json:"last_message_created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// MissingFieldError reports a turn submitted without a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "missing required field: " + e.Field
}

// Validate checks the four required turn fields. Accuracy is optional.
func (c *Conversation) Validate() error {
	switch {
	case c.StudentID == "":
		return &MissingFieldError{Field: "student_id"}
	case c.AgentID == "":
		return &MissingFieldError{Field: "agent_id"}
	case c.UserInput == "":
		return &MissingFieldError{Field: "user_input"}
	case c.BotReply == "":
		return &MissingFieldError{Field: "bot_reply"}
	}
	return nil
}

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres. schemaName namespaces the tables; "public" (or
// empty) means no prefix. Callers run Migrate before first use.
func Open(dsn, schemaName string) (*Store, error) {
	var prefix string
	if schemaName != "" && schemaName != "public" {
		prefix = schemaName + "."
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an already-open database handle. Intended for tests.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Conversation{}, &SyncCursor{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// InsertTurn writes one conversation turn.
func (s *Store) InsertTurn(ctx context.Context, turn *Conversation) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(turn).Error
}

// InsertTurns bulk-writes turns in a single statement. Empty input is a no-op.
func (s *Store) InsertTurns(ctx context.Context, turns []Conversation) error {
	if len(turns) == 0 {
		return nil
	}
	for i := range turns {
		if err := turns[i].Validate(); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Create(&turns).Error
}

// ListTurns returns a student's turns, newest first.
func (s *Store) ListTurns(ctx context.Context, studentID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var turns []Conversation
	err := s.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("id DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// GetCursor returns the stored watermark for a bot, or 0 when none exists.
func (s *Store) GetCursor(ctx context.Context, botID string) (int64, error) {
	var cursor SyncCursor
	err := s.db.WithContext(ctx).First(&cursor, "bot_id = ?", botID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.LastMessageCreatedAt, nil
}

// SetCursor upserts the watermark for a bot. The value never regresses a
// correctly advancing caller; writing the same value is an idempotent no-op
// advance.
func (s *Store) SetCursor(ctx context.Context, botID string, ts int64) error {
	cursor := SyncCursor{
		BotID:                botID,
		LastMessageCreatedAt: ts,
		UpdatedAt:            time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_message_created_at", "updated_at"}),
		}).
		Create(&cursor).Error
}
