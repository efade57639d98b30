package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quotagate/quotagate/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	if err := SeedProviders(DB, config.Cfg.ProvidersFile); err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}

	return nil
}

// Migrate creates or updates the schema for all persisted state.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Provider{},
		&Project{},
		&QuotaUsage{},
		&AlertConfig{},
		&QuotaAlert{},
		&RateLimitEvent{},
		&QueuedRequest{},
		&AutoPauseLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// LockForUpdate applies a row-level write lock to the query on dialects
// that support it. SQLite has no FOR UPDATE; its single-writer
// transaction model already serializes the read-modify-write cycles
// that the lock protects on server databases.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockSkipLocked is LockForUpdate plus SKIP LOCKED, so concurrent queue
// consumers pass over rows another consumer is holding instead of
// blocking on them.
func LockSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

// GetProviderByName looks up an active provider by its enum name.
func GetProviderByName(name string) (*Provider, error) {
	var p Provider
	if err := DB.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
