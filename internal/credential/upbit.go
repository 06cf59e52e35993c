package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/trade-nexus/internal/db/models"
	"github.com/pysugar/trade-nexus/internal/upbit"
	"github.com/pysugar/trade-nexus/internal/util"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpbitSettings is the settings form view of an exchange key pair.
type UpbitSettings struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
}

// GetUpbit mirrors GetKIS for the exchange key pair.
func (s *Store) GetUpbit(ctx context.Context, userID string) (*upbit.Credential, error) {
	row, err := s.loadUpbit(ctx, userID)
	if err != nil || row == nil {
		return nil, err
	}
	access, err := s.sealer.open(row.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt upbit access key for %s: %w", userID, err)
	}
	secret, err := s.sealer.open(row.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt upbit secret key for %s: %w", userID, err)
	}

	cred := upbit.Credential{AccessKey: access, SecretKey: secret, BaseURL: row.BaseURL}.WithDefaults(s.upbitBaseURL)
	if !cred.Usable() {
		return nil, nil
	}
	return &cred, nil
}

func (s *Store) UpbitSettingsView(ctx context.Context, userID string) (UpbitSettings, error) {
	view := UpbitSettings{BaseURL: s.upbitBaseURL}
	row, err := s.loadUpbit(ctx, userID)
	if err != nil || row == nil {
		return view, err
	}
	access, err := s.sealer.open(row.AccessKey)
	if err != nil {
		return view, fmt.Errorf("decrypt upbit access key for %s: %w", userID, err)
	}
	view.AccessKey = access
	if row.SecretKey != "" {
		view.SecretKey = util.SecretMask
	}
	if row.BaseURL != "" {
		view.BaseURL = row.BaseURL
	}
	return view, nil
}

// SaveUpbit upserts the key pair; the secret follows the SaveKIS masking rule.
func (s *Store) SaveUpbit(ctx context.Context, userID string, in UpbitSettings) error {
	if in.AccessKey == "" {
		return fmt.Errorf("%w: access key is required", ErrInvalidSettings)
	}
	if in.BaseURL == "" {
		in.BaseURL = s.upbitBaseURL
	}

	access, err := s.sealer.seal(in.AccessKey)
	if err != nil {
		return fmt.Errorf("encrypt upbit access key: %w", err)
	}
	row := models.UpbitCredential{UserID: userID, AccessKey: access, BaseURL: in.BaseURL}
	updates := []string{"access_key", "base_url", "updated_at"}
	if in.SecretKey != "" && !util.IsMasked(in.SecretKey) {
		if row.SecretKey, err = s.sealer.seal(in.SecretKey); err != nil {
			return fmt.Errorf("encrypt upbit secret key: %w", err)
		}
		updates = append(updates, "secret_key")
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save upbit settings for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) loadUpbit(ctx context.Context, userID string) (*models.UpbitCredential, error) {
	var row models.UpbitCredential
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load upbit settings for %s: %w", userID, err)
	}
	return &row, nil
}
