// Package records persists media records and storage settings with gorm.
package records

import (
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DBConfig struct {
	Type string `mapstructure:"Type"`
	DSN  string `mapstructure:"DSN"`
}

// Connect opens the configured database and migrates the media tables.
func Connect(config DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	dbType := strings.ToLower(config.Type)
	dsn := config.DSN

	switch dbType {
	case "sqlite":
		// WAL keeps the reaper's deletes from blocking uploads.
		dialector = sqlite.Open(fmt.Sprintf("%s?_journal_mode=WAL", dsn))
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database (%s): %w", dbType, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}

	slog.Info("connected to database", "type", dbType)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&MediaRecord{}, &StorageSettings{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
