// Package credential persists per-user brokerage and exchange API settings.
// The token manager only ever reads from it.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/trade-nexus/internal/db/models"
	"github.com/pysugar/trade-nexus/internal/kis"
	"github.com/pysugar/trade-nexus/internal/upbit"
	"github.com/pysugar/trade-nexus/internal/util"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSettings is returned by Save* when a required field is missing.
var ErrInvalidSettings = errors.New("invalid settings")

type Store struct {
	db           *gorm.DB
	sealer       sealer
	kisBaseURL   string
	upbitBaseURL string
}

type Option func(*Store)

// WithBaseURLs overrides the defaults applied to rows without a base URL.
func WithBaseURLs(kisBaseURL, upbitBaseURL string) Option {
	return func(s *Store) {
		if kisBaseURL != "" {
			s.kisBaseURL = kisBaseURL
		}
		if upbitBaseURL != "" {
			s.upbitBaseURL = upbitBaseURL
		}
	}
}

// NewStore creates a Store. key must be 32 bytes, or nil to keep secrets
// unencrypted.
func NewStore(db *gorm.DB, key []byte, opts ...Option) *Store {
	s := &Store{
		db:           db,
		sealer:       sealer{key: key},
		kisBaseURL:   kis.DefaultBaseURL,
		upbitBaseURL: upbit.DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KISSettings is the settings form view of a brokerage credential.
type KISSettings struct {
	AppKey             string `json:"app_key"`
	AppSecret          string `json:"app_secret"`
	AccountNumber      string `json:"account_number"`
	AccountProductCode string `json:"account_product_code"`
	BaseURL            string `json:"base_url"`
}

// GetKIS returns the user's usable credential with defaults applied, or
// (nil, nil) when no row exists or a required field is empty.
func (s *Store) GetKIS(ctx context.Context, userID string) (*kis.Credential, error) {
	row, err := s.loadKIS(ctx, userID)
	if err != nil || row == nil {
		return nil, err
	}
	appKey, err := s.sealer.open(row.AppKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt app key for %s: %w", userID, err)
	}
	appSecret, err := s.sealer.open(row.AppSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt app secret for %s: %w", userID, err)
	}

	cred := kis.Credential{
		AppKey:             appKey,
		AppSecret:          appSecret,
		AccountNumber:      row.AccountNumber,
		AccountProductCode: row.AccountProductCode,
		BaseURL:            row.BaseURL,
	}.WithDefaults(s.kisBaseURL)
	if !cred.Usable() {
		return nil, nil
	}
	return &cred, nil
}

// KISSettingsView returns the stored settings with the secret masked, or
// the defaults when nothing is stored.
func (s *Store) KISSettingsView(ctx context.Context, userID string) (KISSettings, error) {
	view := KISSettings{AccountProductCode: kis.DefaultProductCode, BaseURL: s.kisBaseURL}
	row, err := s.loadKIS(ctx, userID)
	if err != nil || row == nil {
		return view, err
	}
	appKey, err := s.sealer.open(row.AppKey)
	if err != nil {
		return view, fmt.Errorf("decrypt app key for %s: %w", userID, err)
	}
	view.AppKey = appKey
	view.AccountNumber = row.AccountNumber
	if row.AppSecret != "" {
		view.AppSecret = util.SecretMask
	}
	if row.AccountProductCode != "" {
		view.AccountProductCode = row.AccountProductCode
	}
	if row.BaseURL != "" {
		view.BaseURL = row.BaseURL
	}
	return view, nil
}

// SaveKIS upserts the user's settings. App key and account number are
// required. An empty or masked secret leaves the stored secret untouched.
func (s *Store) SaveKIS(ctx context.Context, userID string, in KISSettings) error {
	if in.AppKey == "" || in.AccountNumber == "" {
		return fmt.Errorf("%w: app key and account number are required", ErrInvalidSettings)
	}
	if in.AccountProductCode == "" {
		in.AccountProductCode = kis.DefaultProductCode
	}
	if in.BaseURL == "" {
		in.BaseURL = s.kisBaseURL
	}

	appKey, err := s.sealer.seal(in.AppKey)
	if err != nil {
		return fmt.Errorf("encrypt app key: %w", err)
	}
	row := models.Credential{
		UserID:             userID,
		AppKey:             appKey,
		AccountNumber:      in.AccountNumber,
		AccountProductCode: in.AccountProductCode,
		BaseURL:            in.BaseURL,
	}
	updates := []string{"app_key", "account_number", "account_product_code", "base_url", "updated_at"}
	if in.AppSecret != "" && !util.IsMasked(in.AppSecret) {
		if row.AppSecret, err = s.sealer.seal(in.AppSecret); err != nil {
			return fmt.Errorf("encrypt app secret: %w", err)
		}
		updates = append(updates, "app_secret")
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save kis settings for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) loadKIS(ctx context.Context, userID string) (*models.Credential, error) {
	var row models.Credential
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load kis settings for %s: %w", userID, err)
	}
	return &row, nil
}
