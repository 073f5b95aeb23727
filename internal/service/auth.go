package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/secret"
)

// Principal is an authenticated caller.
type Principal struct {
	CallerID string
	// CredentialID is set when the caller authenticated with an API key.
	CredentialID string
	// Mode is the credential's environment for API keys. It is empty for
	// bearer tokens until resolved from the caller's profile.
	Mode   model.EnvironmentMode
	Scopes []string
}

type AuthService struct {
	store     *config.Store
	codec     *secret.Codec
	jwtSecret []byte
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthService(store *config.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     store,
		codec:     secret.NewCodec(""),
		jwtSecret: []byte(jwtSecret),
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets the logger used for background failures.
func (s *AuthService) WithLogger(l *slog.Logger) *AuthService {
	s.logger = l
	return s
}

// ValidateAPIKey checks the provided raw API key against stored key hashes.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*Principal, error) {
	if !s.codec.LooksLikeKey(rawKey) {
		return nil, ErrInvalidCredentials
	}

	key, err := s.store.GetCredentialByHash(ctx, secret.Hash(rawKey))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: lookup api key: %w", ErrInternal, err)
	}
	if !secret.Verify(rawKey, key.SecretHash) {
		return nil, ErrInvalidCredentials
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}
	if key.Expired(s.now()) {
		return nil, ErrKeyExpired
	}

	// Update last used timestamp (fire and forget)
	go func(id string) {
		if err := s.store.TouchCredential(context.Background(), id); err != nil {
			s.logger.Debug("touch api key failed", "key_id", id, "error", err)
		}
	}(key.ID)

	return &Principal{
		CallerID:     key.OwnerID,
		CredentialID: key.ID,
		Mode:         key.EnvironmentMode,
		Scopes:       key.Scopes,
	}, nil
}

// ValidateJWT verifies a bearer token and returns the caller in its subject.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*Principal, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	return &Principal{CallerID: claims.Subject}, nil
}

// IssueJWT creates a new signed bearer token for callerID.
func (s *AuthService) IssueJWT(ctx context.Context, callerID string, ttl time.Duration) (string, error) {
	if callerID == "" {
		return "", errors.New("caller id is required")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   callerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "quotakey",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ResolveMode returns the environment mode in the caller's profile.
// Callers without a profile are in sandbox.
func (s *AuthService) ResolveMode(ctx context.Context, callerID string) (model.EnvironmentMode, error) {
	mode, err := s.store.GetEnvironmentMode(ctx, callerID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return model.ModeSandbox, nil
		}
		return "", fmt.Errorf("%w: resolve environment mode: %w", ErrInternal, err)
	}
	if !mode.Valid() {
		return model.ModeSandbox, nil
	}
	return mode, nil
}
