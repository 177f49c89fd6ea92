package users

import (
	"strings"
	"time"
)

// ProviderLocal tags identities created through password registration.
const ProviderLocal = "local"

const (
	maxEmailLength    = 320
	maxNicknameLength = 64
)

// Identity is the canonical user record. Email, nickname and the
// (provider, provider id) pair are each unique; local identities always carry a password hash.
type Identity struct {
	ID              string    `gorm:"column:id;primaryKey;size:36"`
	Email           string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	PasswordHash    *string   `gorm:"column:password_hash;size:255;check:chk_users_local_password,provider <> 'local' OR password_hash IS NOT NULL"`
	Nickname        string    `gorm:"column:nickname;size:64;not null;uniqueIndex:idx_users_nickname"`
	ProfileImageURL *string   `gorm:"column:profile_image_url;size:512"`
	Bio             *string   `gorm:"column:bio;size:1024"`
	Provider        string    `gorm:"column:provider;size:32;not null;default:local;uniqueIndex:idx_users_provider_subject"`
	ProviderID      *string   `gorm:"column:provider_id;size:190;uniqueIndex:idx_users_provider_subject"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing identities.
func (Identity) TableName() string {
	return "users"
}

// HasPassword reports whether the identity can authenticate locally.
func (i Identity) HasPassword() bool {
	return i.PasswordHash != nil && *i.PasswordHash != ""
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// optional converts blank strings to nil.
func optional(value string) *string {
	trimmed := normalize(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
