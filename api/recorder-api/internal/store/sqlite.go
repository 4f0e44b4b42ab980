// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

// RecordingSession is the session row. Audio paths are filled once the
// recording is finalized.
type RecordingSession struct {
	SessionID      string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);primaryKey"`
	MicrophonePath string    `json:"microphonePath" gorm:"column:microphone_path;type:text;not null;default:''"`
	SystemPath     string    `json:"systemPath" gorm:"column:system_path;type:text;not null;default:''"`
	CreatedDate    time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;<-:create"`
	UpdatedDate    time.Time `json:"updatedDate" gorm:"column:updated_date;type:timestamp"`
}

func (RecordingSession) TableName() string {
	return "recording_sessions"
}

func (rs *RecordingSession) BeforeCreate(tx *gorm.DB) error {
	if rs.CreatedDate.IsZero() {
		rs.CreatedDate = time.Now()
	}
	return nil
}

// TranscriptChunkRow is one transcript chunk. Position preserves insertion
// order; the primary key makes re-saving the same chunk an update, not a
// duplicate.
type TranscriptChunkRow struct {
	ID        string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	SessionID string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;index"`
	Position  int       `json:"position" gorm:"column:position;type:bigint;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"column:timestamp;type:timestamp"`
	Source    string    `json:"source" gorm:"column:source;type:varchar(20);not null"`
	Text      string    `json:"text" gorm:"column:text;type:text;not null;default:''"`
	IsFinal   bool      `json:"isFinal" gorm:"column:is_final;not null;default:false"`
}

func (TranscriptChunkRow) TableName() string {
	return "transcript_chunks"
}

type sqliteStore struct {
	logger commons.Logger
	db     *gorm.DB
}

// NewSqliteStore opens (or creates) the local database and migrates the
// schema.
func NewSqliteStore(logger commons.Logger, path string) (internal_type.Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&RecordingSession{}, &TranscriptChunkRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &sqliteStore{logger: logger, db: db}, nil
}

// SaveSession upserts the session row and its chunk set in one transaction.
// Chunks conflict on id, so saving the same set twice converges instead of
// duplicating.
func (s *sqliteStore) SaveSession(ctx context.Context, sessionID string, chunks []internal_type.TranscriptChunk, audio *internal_type.AudioFileRef) error {
	session := RecordingSession{
		SessionID:   sessionID,
		UpdatedDate: time.Now(),
	}
	if audio != nil {
		session.MicrophonePath = audio.MicrophonePath
		session.SystemPath = audio.SystemPath
	}

	rows := make([]TranscriptChunkRow, 0, len(chunks))
	for i, c := range chunks {
		rows = append(rows, TranscriptChunkRow{
			ID:        c.ID,
			SessionID: sessionID,
			Position:  i,
			Timestamp: c.Timestamp,
			Source:    string(c.Source),
			Text:      c.Text,
			IsFinal:   c.IsFinal,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"microphone_path", "system_path", "updated_date"}),
		}).Create(&session).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "text", "is_final"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}

	s.logger.Debugf("persisted session %s: %d chunks", sessionID, len(rows))
	return nil
}

// LoadChunks returns the session's chunks in insertion order. Unknown
// sessions yield an empty slice.
func (s *sqliteStore) LoadChunks(ctx context.Context, sessionID string) ([]internal_type.TranscriptChunk, error) {
	var rows []TranscriptChunkRow
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load chunks for session %s: %w", sessionID, err)
	}

	chunks := make([]internal_type.TranscriptChunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, internal_type.TranscriptChunk{
			ID:        row.ID,
			Timestamp: row.Timestamp,
			Source:    internal_type.AudioSource(row.Source),
			Text:      row.Text,
			IsFinal:   row.IsFinal,
		})
	}
	return chunks, nil
}
