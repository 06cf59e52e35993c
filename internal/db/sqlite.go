package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/trade-nexus/internal/db/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const apiKeyConfigKey = "api_key"

// InitDB opens the SQLite database at dbPath and migrates every model.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := Open(dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	if _, err := EnsureAPIKey(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open connects and migrates without seeding. dsn may be any glebarez/sqlite
// DSN, including shared in-memory databases used by tests.
func Open(dsn string) (*gorm.DB, error) {
	gormLog := log.With().Str("component", "gorm").Logger()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(&gormLog, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	if err := db.AutoMigrate(
		&models.Credential{},
		&models.UpbitCredential{},
		&models.Token{},
		&models.Config{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// EnsureAPIKey generates the dashboard API key on first run and returns it.
func EnsureAPIKey(db *gorm.DB) (string, error) {
	var config models.Config
	err := db.Where("key = ?", apiKeyConfigKey).First(&config).Error
	if err == nil {
		return config.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("read api key: %w", err)
	}

	apiKey := newAPIKey()
	if err := db.Create(&models.Config{Key: apiKeyConfigKey, Value: apiKey}).Error; err != nil {
		return "", fmt.Errorf("store api key: %w", err)
	}
	log.Info().Msg("generated new dashboard API key, see GET /api/config/apikey")
	return apiKey, nil
}

// GetAPIKey returns the stored API key, or "" when none exists.
func GetAPIKey(db *gorm.DB) string {
	var config models.Config
	if err := db.Where("key = ?", apiKeyConfigKey).First(&config).Error; err != nil {
		return ""
	}
	return config.Value
}

// RegenerateAPIKey replaces the API key and returns the new value.
func RegenerateAPIKey(db *gorm.DB) (string, error) {
	apiKey := newAPIKey()
	res := db.Model(&models.Config{}).Where("key = ?", apiKeyConfigKey).Update("value", apiKey)
	if res.Error != nil {
		return "", fmt.Errorf("regenerate api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Create(&models.Config{Key: apiKeyConfigKey, Value: apiKey}).Error; err != nil {
			return "", fmt.Errorf("store api key: %w", err)
		}
	}
	log.Info().Msg("regenerated dashboard API key")
	return apiKey, nil
}

// newAPIKey returns sk-<32 hex chars>.
func newAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "sk-" + hex.EncodeToString(keyBytes)
}
