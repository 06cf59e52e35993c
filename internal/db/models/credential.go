package models

import "time"

// Credential stores one user's brokerage (KIS) API settings.
// AppKey and AppSecret hold ciphertext when an encryption key is configured.
type Credential struct {
	UserID             string `gorm:"primaryKey"`
	AppKey             string
	AppSecret          string
	AccountNumber      string
	AccountProductCode string
	BaseURL            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Credential) TableName() string { return "credentials" }

// UpbitCredential stores one user's exchange API keys.
type UpbitCredential struct {
	UserID    string `gorm:"primaryKey"`
	AccessKey string
	SecretKey string
	BaseURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UpbitCredential) TableName() string { return "upbit_credentials" }
