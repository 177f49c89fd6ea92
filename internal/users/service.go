package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
	timingPassword    = "leaflog-timing-equalisation"
)

// CredentialStore is the persistence contract the resolver relies on.
type CredentialStore interface {
	Create(ctx context.Context, identity *Identity) error
	FindByID(ctx context.Context, id string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByNickname(ctx context.Context, nickname string) (Identity, error)
	FindMatch(ctx context.Context, email, provider, providerID string) (Identity, error)
}

// PasswordHasher hashes and verifies local passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// TokenMinter mints bearer tokens for resolved identities.
type TokenMinter interface {
	IssueToken(ctx context.Context, subject, email string) (string, int64, error)
}

// ServiceConfig describes the dependencies of the identity resolver.
type ServiceConfig struct {
	Store      CredentialStore
	Hasher     PasswordHasher
	Tokens     TokenMinter
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service resolves local credentials and provider assertions to canonical identities.
type Service struct {
	store      CredentialStore
	hasher     PasswordHasher
	tokens     TokenMinter
	idProvider IDProvider
	logger     *zap.Logger

	timingOnce sync.Once
	timingHash string
}

// Registration is the input of local registration.
type Registration struct {
	Email           string
	Password        string
	Nickname        string
	ProfileImageURL string
	Bio             string
}

// ProviderAssertion is the verified profile handed back by a third-party exchange.
type ProviderAssertion struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Session pairs a resolved identity with a freshly minted bearer token.
type Session struct {
	Identity  Identity
	Token     string
	ExpiresIn int64
}

// NewService validates dependencies. A nil IDProvider selects UUIDv7 ids.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errors.New("credential store is required"))
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opServiceNew, "missing_hasher", errors.New("password hasher is required"))
	}
	if cfg.Tokens == nil {
		return nil, newServiceError(opServiceNew, "missing_token_minter", errors.New("token minter is required"))
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		hasher:     cfg.Hasher,
		tokens:     cfg.Tokens,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// RegisterLocal creates a password identity. Email uniqueness is checked
// before nickname uniqueness; a concurrent duplicate rejected by the store
// surfaces as the same *ConflictError.
func (s *Service) RegisterLocal(ctx context.Context, registration Registration) (Session, error) {
	email := normalize(registration.Email)
	nickname := normalize(registration.Nickname)
	if err := validateRegistration(email, registration.Password, nickname); err != nil {
		return Session{}, err
	}

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return Session{}, &ConflictError{Field: ConflictEmail}
	} else if !errors.Is(err, ErrNotFound) {
		s.logError(opRegisterLocal, "email_lookup_failed", err)
		return Session{}, newServiceError(opRegisterLocal, "email_lookup_failed", err)
	}

	if _, err := s.store.FindByNickname(ctx, nickname); err == nil {
		return Session{}, &ConflictError{Field: ConflictNickname}
	} else if !errors.Is(err, ErrNotFound) {
		s.logError(opRegisterLocal, "nickname_lookup_failed", err)
		return Session{}, newServiceError(opRegisterLocal, "nickname_lookup_failed", err)
	}

	passwordHash, err := s.hasher.Hash(registration.Password)
	if err != nil {
		s.logError(opRegisterLocal, "hash_failed", err)
		return Session{}, newServiceError(opRegisterLocal, "hash_failed", err)
	}

	identityID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegisterLocal, "id_generation_failed", err)
		return Session{}, newServiceError(opRegisterLocal, "id_generation_failed", err)
	}

	identity := Identity{
		ID:              identityID,
		Email:           email,
		PasswordHash:    &passwordHash,
		Nickname:        nickname,
		ProfileImageURL: optional(registration.ProfileImageURL),
		Bio:             optional(registration.Bio),
		Provider:        ProviderLocal,
	}
	if err := s.store.Create(ctx, &identity); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Session{}, s.classifyDuplicate(ctx, err, email)
		}
		s.logError(opRegisterLocal, "insert_failed", err)
		return Session{}, newServiceError(opRegisterLocal, "insert_failed", err)
	}

	s.logger.Info("identity registered",
		zap.String("user_id", identity.ID),
		zap.String("provider", identity.Provider))
	return s.issue(ctx, opRegisterLocal, identity)
}

// AuthenticateLocal verifies an email and password pair. Unknown emails,
// identities without a password and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) AuthenticateLocal(ctx context.Context, email, password string) (Session, error) {
	identity, err := s.store.FindByEmail(ctx, normalize(email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logError(opAuthenticateLocal, "email_lookup_failed", err)
		return Session{}, newServiceError(opAuthenticateLocal, "email_lookup_failed", err)
	}
	if err != nil || !identity.HasPassword() {
		s.equaliseTiming(password)
		return Session{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, *identity.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(ctx, opAuthenticateLocal, identity)
}

// ResolveProvider maps a verified provider assertion to exactly one identity.
// An identity matching the asserted email or the (provider, subject) pair is
// reused as is, which links provider logins to earlier accounts sharing the
// email. Otherwise a new identity is created; losing a creation race re-reads
// and returns the winner.
func (s *Service) ResolveProvider(ctx context.Context, assertion ProviderAssertion) (Session, error) {
	assertion = normalizeAssertion(assertion)
	if assertion.Provider == "" || assertion.Provider == ProviderLocal || assertion.Subject == "" || assertion.Email == "" {
		return Session{}, ErrInvalidAssertion
	}

	identity, err := s.store.FindMatch(ctx, assertion.Email, assertion.Provider, assertion.Subject)
	if err == nil {
		return s.issue(ctx, opResolveProvider, identity)
	}
	if !errors.Is(err, ErrNotFound) {
		s.logError(opResolveProvider, "match_lookup_failed", err, zap.String("provider", assertion.Provider))
		return Session{}, newServiceError(opResolveProvider, "match_lookup_failed", err)
	}

	identityID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opResolveProvider, "id_generation_failed", err)
		return Session{}, newServiceError(opResolveProvider, "id_generation_failed", err)
	}

	subject := assertion.Subject
	candidates := nicknameCandidates(assertion)
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Session{}, newServiceError(opResolveProvider, "cancelled", ctxErr)
		}
		nickname := nicknameForAttempt(candidates, attempt)
		identity = Identity{
			ID:              identityID,
			Email:           assertion.Email,
			Nickname:        nickname,
			ProfileImageURL: optional(assertion.AvatarURL),
			Provider:        assertion.Provider,
			ProviderID:      &subject,
		}
		err = s.store.Create(ctx, &identity)
		if err == nil {
			s.logger.Info("identity created from provider",
				zap.String("user_id", identity.ID),
				zap.String("provider", identity.Provider))
			return s.issue(ctx, opResolveProvider, identity)
		}
		if !errors.Is(err, ErrDuplicate) {
			s.logError(opResolveProvider, "insert_failed", err, zap.String("provider", assertion.Provider))
			return Session{}, newServiceError(opResolveProvider, "insert_failed", err)
		}

		winner, matchErr := s.store.FindMatch(ctx, assertion.Email, assertion.Provider, assertion.Subject)
		if matchErr == nil {
			s.logger.Debug("provider identity created concurrently",
				zap.String("user_id", winner.ID),
				zap.String("provider", assertion.Provider))
			return s.issue(ctx, opResolveProvider, winner)
		}
		if !errors.Is(matchErr, ErrNotFound) {
			s.logError(opResolveProvider, "match_reread_failed", matchErr, zap.String("provider", assertion.Provider))
			return Session{}, newServiceError(opResolveProvider, "match_reread_failed", matchErr)
		}
	}
}

// GetIdentity re-reads an identity by primary key.
func (s *Service) GetIdentity(ctx context.Context, id string) (Identity, error) {
	identity, err := s.store.FindByID(ctx, normalize(id))
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGetIdentity, "lookup_failed", err, zap.String("user_id", id))
		return Identity{}, newServiceError(opGetIdentity, "lookup_failed", err)
	}
	return identity, nil
}

func (s *Service) issue(ctx context.Context, operation string, identity Identity) (Session, error) {
	token, expiresIn, err := s.tokens.IssueToken(ctx, identity.ID, identity.Email)
	if err != nil {
		s.logError(operation, "token_issue_failed", err, zap.String("user_id", identity.ID))
		return Session{}, newServiceError(operation, "token_issue_failed", err)
	}
	return Session{Identity: identity, Token: token, ExpiresIn: expiresIn}, nil
}

// classifyDuplicate maps a store-level uniqueness rejection to the field the
// pre-check would have reported, email first.
func (s *Service) classifyDuplicate(ctx context.Context, cause error, email string) error {
	_, err := s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return &ConflictError{Field: ConflictEmail}
	case !errors.Is(err, ErrNotFound):
		s.logError(opRegisterLocal, "email_lookup_failed", err)
		return newServiceError(opRegisterLocal, "email_lookup_failed", err)
	case duplicateColumn(cause) == string(ConflictEmail):
		return &ConflictError{Field: ConflictEmail}
	default:
		return &ConflictError{Field: ConflictNickname}
	}
}

// equaliseTiming spends one hash comparison so failed lookups cost the same as wrong passwords.
func (s *Service) equaliseTiming(password string) {
	s.timingOnce.Do(func() {
		hash, err := s.hasher.Hash(timingPassword)
		if err != nil {
			s.logger.Warn("timing hash unavailable", zap.Error(err))
			return
		}
		s.timingHash = hash
	})
	if s.timingHash != "" {
		_ = s.hasher.Verify(password, s.timingHash)
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

func validateRegistration(email, password, nickname string) error {
	if email == "" || len(email) > maxEmailLength {
		return fmt.Errorf("%w: email required", ErrInvalidRegistration)
	}
	address, err := mail.ParseAddress(email)
	if err != nil || address.Address != email {
		return fmt.Errorf("%w: malformed email", ErrInvalidRegistration)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d bytes", ErrInvalidRegistration, minPasswordLength, maxPasswordLength)
	}
	if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLength {
		return fmt.Errorf("%w: nickname must be 1 to %d characters", ErrInvalidRegistration, maxNicknameLength)
	}
	return nil
}

func normalizeAssertion(assertion ProviderAssertion) ProviderAssertion {
	return ProviderAssertion{
		Provider:    strings.ToLower(normalize(assertion.Provider)),
		Subject:     normalize(assertion.Subject),
		Email:       normalize(assertion.Email),
		DisplayName: normalize(assertion.DisplayName),
		AvatarURL:   normalize(assertion.AvatarURL),
	}
}

// nicknameCandidates derives nicknames deterministically: display name, else
// the email local part, else a provider-prefixed placeholder. The placeholder
// always comes last.
func nicknameCandidates(assertion ProviderAssertion) []string {
	placeholder := truncate(assertion.Provider+"_"+assertion.Subject, maxNicknameLength)
	primary := assertion.DisplayName
	if primary == "" {
		if local, _, ok := strings.Cut(assertion.Email, "@"); ok {
			primary = normalize(local)
		}
	}
	if primary == "" {
		return []string{placeholder}
	}
	primary = truncate(primary, maxNicknameLength)
	if primary == placeholder {
		return []string{primary}
	}
	return []string{primary, placeholder}
}

// nicknameForAttempt walks the candidates, then numbers the placeholder
// (<placeholder>_2, _3, ...) so provider resolution never runs out of names.
func nicknameForAttempt(candidates []string, attempt int) string {
	if attempt < len(candidates) {
		return candidates[attempt]
	}
	placeholder := candidates[len(candidates)-1]
	suffix := "_" + strconv.Itoa(attempt-len(candidates)+2)
	return truncate(placeholder, maxNicknameLength-utf8.RuneCountInString(suffix)) + suffix
}
