package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no identity matched the lookup.
	ErrNotFound = errors.New("users: identity not found")
	// ErrDuplicate indicates the store rejected an insert on a uniqueness constraint.
	ErrDuplicate = errors.New("users: duplicate identity")
	// ErrInvalidIdentity indicates a record is missing required fields or a local password.
	ErrInvalidIdentity = errors.New("users: invalid identity")
)

// Store persists identities in the users table.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open gorm connection whose schema includes Identity.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	return &Store{db: db}, nil
}

// Create inserts identity. Uniqueness violations are reported as ErrDuplicate
// wrapping the driver error.
func (s *Store) Create(ctx context.Context, identity *Identity) error {
	if identity == nil || identity.ID == "" || identity.Email == "" || identity.Nickname == "" || identity.Provider == "" {
		return ErrInvalidIdentity
	}
	if identity.Provider == ProviderLocal && !identity.HasPassword() {
		return fmt.Errorf("%w: local identity requires a password hash", ErrInvalidIdentity)
	}
	if err := s.db.WithContext(ctx).Create(identity).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	return nil
}

// FindByID looks up an identity by primary key.
func (s *Store) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.take(ctx, s.db.Where("id = ?", id))
}

// FindByEmail looks up an identity by exact email.
func (s *Store) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return s.take(ctx, s.db.Where("email = ?", email))
}

// FindByNickname looks up an identity by exact nickname.
func (s *Store) FindByNickname(ctx context.Context, nickname string) (Identity, error) {
	return s.take(ctx, s.db.Where("nickname = ?", nickname))
}

// FindByProviderSubject looks up an identity by its third-party key.
func (s *Store) FindByProviderSubject(ctx context.Context, provider, providerID string) (Identity, error) {
	return s.take(ctx, s.db.Where("provider = ? AND provider_id = ?", provider, providerID))
}

// FindMatch returns the first identity, in primary key order, whose email
// equals email or whose provider key equals (provider, providerID).
func (s *Store) FindMatch(ctx context.Context, email, provider, providerID string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("email = ?", email).
		Or("provider = ? AND provider_id = ?", provider, providerID).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func (s *Store) take(ctx context.Context, query *gorm.DB) (Identity, error) {
	var identity Identity
	err := query.WithContext(ctx).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// duplicateColumn names the column reported in a sqlite uniqueness error, if any.
func duplicateColumn(err error) string {
	message := strings.ToLower(err.Error())
	for _, column := range []string{"users.email", "users.nickname", "users.provider"} {
		if strings.Contains(message, column) {
			return strings.TrimPrefix(column, "users.")
		}
	}
	return ""
}
