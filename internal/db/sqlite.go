package db

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/objcflow/objcflow/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sqlite is a database that stores data in a sqlite database.
type Sqlite struct {
	URL string
	// Config
	BatchSize int

	db *gorm.DB
}

// NewSqlite creates a new Sqlite database.
func NewSqlite(path string, batchSize int) (Database, error) {
	if path == "" {
		return nil, fmt.Errorf("'path' is required")
	}
	return &Sqlite{
		URL:       path,
		BatchSize: batchSize,
	}, nil
}

// Connect connects to the database.
func (s *Sqlite) Connect() (err error) {
	s.db, err = gorm.Open(sqlite.Open(s.URL), &gorm.Config{
		CreateBatchSize:        s.BatchSize,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect sqlite database: %w", err)
	}
	return s.db.AutoMigrate(
		&model.Binary{},
		&model.CallSite{},
	)
}

func (s *Sqlite) SaveBinary(b *model.Binary) error {
	return s.db.Save(b).Error
}

func (s *Sqlite) GetBinary(key string) (*model.Binary, error) {
	var b model.Binary
	if err := s.db.Where("uuid = ?", key).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Sqlite) CreateCallSites(sites []*model.CallSite) error {
	if len(sites) == 0 {
		return nil
	}
	return s.db.CreateInBatches(sites, s.BatchSize).Error
}

func (s *Sqlite) find(query string, args ...any) ([]*model.CallSite, error) {
	var sites []*model.CallSite
	if err := s.db.Where(query, args...).Order("address").Find(&sites).Error; err != nil {
		return nil, err
	}
	return sites, nil
}

func (s *Sqlite) CallSites(key string) ([]*model.CallSite, error) {
	return s.find("binary_uuid = ?", key)
}

func (s *Sqlite) CallersOf(key string, addr uint64) ([]*model.CallSite, error) {
	return s.find("binary_uuid = ? AND has_destination = ? AND destination = ?", key, true, addr)
}

func (s *Sqlite) SendersOf(key, sel string) ([]*model.CallSite, error) {
	return s.find("binary_uuid = ? AND selector = ?", key, sel)
}

func (s *Sqlite) DeleteBinary(key string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("binary_uuid = ?", key).Delete(&model.CallSite{}).Error; err != nil {
			return err
		}
		return tx.Where("uuid = ?", key).Delete(&model.Binary{}).Error
	})
}

// Close closes the database.
func (s *Sqlite) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
