// Package storage persists the engine's outbound notification feed and
// per-auction summary rows for the external indexer layer. The engine
// never reads its own state back from here; in-memory state is
// authoritative.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"auction_go/internal/domain"
	"auction_go/internal/event"
)

// Storage is the SQLite-backed notification and auction log.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database. An empty path falls
// back to the per-OS user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.NotificationRecord{}, &domain.AuctionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the default database file path.
func getDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "AuctionGo", "data", "auctions.db"), nil
}

// SaveEvent appends one committed notification to the feed. Called by the
// engine before replying to the submitter, so the durable feed never runs
// ahead of or behind acknowledged state.
func (s *Storage) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ev.GetType(), err)
	}

	rec := domain.NotificationRecord{
		Seq:       ev.GetSeq(),
		Type:      ev.GetType(),
		AuctionID: ev.GetAuctionID(),
		Payload:   string(payload),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListEvents returns notifications with Seq > afterSeq, oldest first.
func (s *Storage) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]domain.NotificationRecord, error) {
	var recs []domain.NotificationRecord
	q := s.db.WithContext(ctx).Where("seq > ?", afterSeq).Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&recs).Error
	return recs, err
}

// LatestSeq returns the highest persisted sequence number, 0 when empty.
func (s *Storage) LatestSeq(ctx context.Context) (uint64, error) {
	var rec domain.NotificationRecord
	err := s.db.WithContext(ctx).Order("seq desc").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rec.Seq, err
}

// UpsertAuction creates or updates the indexer summary row.
func (s *Storage) UpsertAuction(ctx context.Context, rec *domain.AuctionRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

// GetAuction retrieves a summary row by auction id.
func (s *Storage) GetAuction(ctx context.Context, auctionID uint64) (*domain.AuctionRecord, error) {
	var rec domain.AuctionRecord
	err := s.db.WithContext(ctx).First(&rec, "auction_id = ?", auctionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &rec, err
}

// ListAuctions returns all summary rows.
func (s *Storage) ListAuctions(ctx context.Context) ([]domain.AuctionRecord, error) {
	var recs []domain.AuctionRecord
	err := s.db.WithContext(ctx).Order("auction_id asc").Find(&recs).Error
	return recs, err
}
