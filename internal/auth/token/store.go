package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/trade-nexus/internal/db/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists at most one cached brokerage token per user.
type Store struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

type StoreOption func(*Store)

// WithNowFunc replaces the clock used for expiry decisions.
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is the diagnostic view of a user's cached token. ExpiresAt and
// RemainingHours are set whenever a row exists, expired or not.
type Status struct {
	HasToken       bool       `json:"has_token"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RemainingHours *int64     `json:"remaining_hours,omitempty"`
}

// GetValidToken returns the cached token when expires_at is strictly after
// now, otherwise (nil, nil). Expired rows are left in place.
func (s *Store) GetValidToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	row, err := s.load(ctx, userID)
	if err != nil || row == nil {
		return nil, err
	}
	if !row.ExpiresAt.After(s.nowFunc()) {
		return nil, nil
	}
	return &oauth2.Token{
		AccessToken: row.AccessToken,
		TokenType:   "Bearer",
		Expiry:      row.ExpiresAt,
	}, nil
}

// Upsert stores accessToken for userID with expires_at = now + ttl,
// replacing any existing row in a single statement.
func (s *Store) Upsert(ctx context.Context, userID, accessToken string, ttl time.Duration) error {
	now := s.nowFunc().UTC()
	row := models.Token{
		UserID:      userID,
		AccessToken: accessToken,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert token for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's row. Deleting a missing row succeeds.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Token{}).Error; err != nil {
		return fmt.Errorf("delete token for %s: %w", userID, err)
	}
	return nil
}

// Status reports whether a valid token exists and how long it has left,
// floored to whole hours and never negative.
func (s *Store) Status(ctx context.Context, userID string) (Status, error) {
	row, err := s.load(ctx, userID)
	if err != nil || row == nil {
		return Status{}, err
	}

	remaining := row.ExpiresAt.Sub(s.nowFunc())
	hours := int64(remaining / time.Hour)
	if hours < 0 {
		hours = 0
	}
	expiresAt := row.ExpiresAt
	return Status{
		HasToken:       remaining > 0,
		ExpiresAt:      &expiresAt,
		RemainingHours: &hours,
	}, nil
}

// DeleteExpired removes every row with expires_at < now.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", s.nowFunc().UTC()).Delete(&models.Token{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) load(ctx context.Context, userID string) (*models.Token, error) {
	var row models.Token
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", userID, err)
	}
	return &row, nil
}
