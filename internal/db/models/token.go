package models

import "time"

// Token is the single cached brokerage access token of a user.
type Token struct {
	UserID      string    `gorm:"primaryKey"`
	AccessToken string    `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"index;not null"`
	UpdatedAt   time.Time
}

func (Token) TableName() string { return "tokens" }
