package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/memoryshelf/backend/internal/auth"
)

// ErrInvalidIdentity indicates the verified claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ErrIdentityNotFound is returned by Store implementations when no identity
// exists for a provider+subject pair.
var ErrIdentityNotFound = errors.New("users: identity not found")

// Store persists identity mappings. Save replaces any existing record for
// the same provider+subject pair.
type Store interface {
	FindIdentity(provider string, subject string) (Identity, error)
	SaveIdentity(identity Identity) error
}

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Store Store
	Clock func() time.Time
}

// Service resolves verified Google claims to canonical MemoryShelf users.
type Service struct {
	store Store
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("users: identity store required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: cfg.Store, now: clock}, nil
}

// Resolve returns the principal for the provided verified claims. New
// provider subjects are recorded on first sight; returning users get their
// profile fields refreshed and last-seen bumped on every sign-in. The cache
// only spares the store read for subjects already seen by this process.
func (s *Service) Resolve(claims auth.GoogleClaims) (auth.Principal, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		subject = normalize(claims.Email)
	}
	if subject == "" {
		return auth.Principal{}, ErrInvalidIdentity
	}

	cacheKey := ProviderGoogle + ":" + subject
	nowMillis := s.now().UnixMilli()

	if cached, ok := s.cache.Load(cacheKey); ok {
		if identity, ok := cached.(Identity); ok {
			return s.touch(cacheKey, identity, claims, nowMillis)
		}
	}

	identity, err := s.store.FindIdentity(ProviderGoogle, subject)
	if errors.Is(err, ErrIdentityNotFound) {
		identity = Identity{
			Provider:          ProviderGoogle,
			Subject:           subject,
			UserID:            subject,
			Email:             normalize(claims.Email),
			DisplayName:       normalize(claims.DisplayName),
			AvatarURL:         normalize(claims.AvatarURL),
			FirstSeenAtMillis: nowMillis,
			LastSeenAtMillis:  nowMillis,
		}
		if err := s.store.SaveIdentity(identity); err != nil {
			return auth.Principal{}, err
		}
		s.cache.Store(cacheKey, identity)
		return principalOf(identity), nil
	} else if err != nil {
		return auth.Principal{}, err
	}
	return s.touch(cacheKey, identity, claims, nowMillis)
}

// touch persists the per-sign-in refresh for a known identity and keeps the
// cache aligned with what was stored.
func (s *Service) touch(cacheKey string, identity Identity, claims auth.GoogleClaims, nowMillis int64) (auth.Principal, error) {
	identity = refreshProfile(identity, claims)
	identity.LastSeenAtMillis = nowMillis
	if err := s.store.SaveIdentity(identity); err != nil {
		return auth.Principal{}, err
	}
	s.cache.Store(cacheKey, identity)
	return principalOf(identity), nil
}

func principalOf(identity Identity) auth.Principal {
	return auth.Principal{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
}

// refreshProfile copies non-empty profile claims over the stored identity.
// Empty claims never erase a previously known value.
func refreshProfile(identity Identity, claims auth.GoogleClaims) Identity {
	if email := normalize(claims.Email); email != "" {
		identity.Email = email
	}
	if display := normalize(claims.DisplayName); display != "" {
		identity.DisplayName = display
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" {
		identity.AvatarURL = avatar
	}
	return identity
}
