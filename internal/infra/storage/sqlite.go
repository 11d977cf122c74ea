package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"market_maker_go/internal/domain"
)

// Storage is the optional SQLite trade journal: placed and canceled
// orders plus per-rotation summaries. Writes are best-effort diagnostics;
// the maker never reads the journal back at runtime.
type Storage struct {
	db *gorm.DB
}

// Open creates or opens the journal database at path, creating parent
// directories as needed.
func Open(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	// Pure Go SQLite driver, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.AutoMigrate(&domain.OrderRecord{}, &domain.RotationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveOrder appends one order row.
func (s *Storage) SaveOrder(rec *domain.OrderRecord) error {
	return s.db.Create(rec).Error
}

// SaveRotation appends one rotation summary row.
func (s *Storage) SaveRotation(rec *domain.RotationRecord) error {
	return s.db.Create(rec).Error
}

// RecentOrders returns up to limit order rows, newest first.
func (s *Storage) RecentOrders(limit int) ([]domain.OrderRecord, error) {
	var recs []domain.OrderRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// RecentRotations returns up to limit rotation rows, newest first.
func (s *Storage) RecentRotations(limit int) ([]domain.RotationRecord, error) {
	var recs []domain.RotationRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// Prune deletes journal rows older than the retention window.
func (s *Storage) Prune(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	if err := s.db.Where("created_at < ?", cutoff).Delete(&domain.OrderRecord{}).Error; err != nil {
		return err
	}
	return s.db.Where("created_at < ?", cutoff).Delete(&domain.RotationRecord{}).Error
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
