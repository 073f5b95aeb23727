package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/ratelimit"
	"github.com/faucetdb/quotakey/internal/secret"
)

const (
	maxNameLength  = 100
	maxScopes      = 10
	maxScopeLength = 64
	maxExpiryDays  = 365
)

// Key management actions.
const (
	ActionCreate = "create"
	ActionList   = "list"
	ActionRevoke = "revoke"
	ActionUpdate = "update"
)

// CredentialStore is the owner-scoped credential persistence KeyService
// needs. *config.Store implements it.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *model.Credential) error
	ListCredentials(ctx context.Context, ownerID string) ([]model.Credential, error)
	DeleteCredential(ctx context.Context, ownerID, id string) (int64, error)
	UpdateCredential(ctx context.Context, ownerID, id string, patch model.CredentialPatch) (int64, error)
}

// Gate decides whether a caller may proceed. *ratelimit.Limiter implements it.
type Gate interface {
	Check(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode) model.Decision
}

// Caller identifies who a key operation runs as.
type Caller struct {
	ID   string
	Mode model.EnvironmentMode
}

// CreateKeyRequest is the payload of the create action. EnvironmentMode
// defaults to the caller's mode.
type CreateKeyRequest struct {
	Name            string   `json:"name"`
	Scopes          []string `json:"scopes"`
	EnvironmentMode string   `json:"environment_mode,omitempty"`
	ExpiresInDays   *int     `json:"expires_in_days,omitempty"`
}

// CreatedKey is returned exactly once per key. Key is the raw secret.
type CreatedKey struct {
	KeyID           string                `json:"key_id"`
	Key             string                `json:"key"`
	Prefix          string                `json:"prefix"`
	Name            string                `json:"name"`
	Scopes          []string              `json:"scopes"`
	EnvironmentMode model.EnvironmentMode `json:"environment_mode"`
	ExpiresAt       *time.Time            `json:"expires_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// ActionRequest is the body of the manage-api-keys endpoint: an action
// discriminator plus the fields of every action.
type ActionRequest struct {
	Action string `json:"action"`

	CreateKeyRequest

	KeyID    string   `json:"key_id,omitempty"`
	IsActive *bool    `json:"is_active,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// MutationResult is returned by revoke and update. Zero rows affected is
// still a success: it covers unknown keys, already revoked keys and keys
// owned by someone else alike.
type MutationResult struct {
	KeyID string `json:"key_id"`
}

// KeyService issues, lists, revokes and updates API keys. Every call passes
// the manage-api-keys rate limit first.
type KeyService struct {
	store  CredentialStore
	codec  *secret.Codec
	gate   Gate
	logger *slog.Logger
	now    func() time.Time
}

func NewKeyService(store CredentialStore, codec *secret.Codec, gate Gate, logger *slog.Logger) *KeyService {
	if codec == nil {
		codec = secret.NewCodec("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		store:  store,
		codec:  codec,
		gate:   gate,
		logger: logger,
		now:    time.Now,
	}
}

// Execute gates the request once and dispatches it by action.
func (s *KeyService) Execute(ctx context.Context, caller Caller, req ActionRequest) (interface{}, error) {
	if err := s.admit(ctx, caller); err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionCreate:
		create := req.CreateKeyRequest
		create.Scopes = req.Scopes
		return s.create(ctx, caller, create)
	case ActionList:
		return s.list(ctx, caller)
	case ActionRevoke:
		return s.revoke(ctx, caller, req.KeyID)
	case ActionUpdate:
		return s.update(ctx, caller, req.KeyID, model.CredentialPatch{IsActive: req.IsActive, Scopes: req.Scopes})
	case "":
		return nil, &ValidationError{Fields: map[string]string{"action": "is required"}}
	default:
		return nil, &ValidationError{Fields: map[string]string{
			"action": fmt.Sprintf("unknown action %q (want create, list, revoke or update)", req.Action),
		}}
	}
}

// Create issues a new key owned by the caller.
func (s *KeyService) Create(ctx context.Context, caller Caller, req CreateKeyRequest) (*CreatedKey, error) {
	if err := s.admit(ctx, caller); err != nil {
		return nil, err
	}
	return s.create(ctx, caller, req)
}

// List returns the caller's keys, newest first.
func (s *KeyService) List(ctx context.Context, caller Caller) ([]model.Credential, error) {
	if err := s.admit(ctx, caller); err != nil {
		return nil, err
	}
	return s.list(ctx, caller)
}

// Revoke deletes one of the caller's keys.
func (s *KeyService) Revoke(ctx context.Context, caller Caller, keyID string) (*MutationResult, error) {
	if err := s.admit(ctx, caller); err != nil {
		return nil, err
	}
	return s.revoke(ctx, caller, keyID)
}

// Update toggles is_active and/or replaces the scopes of one of the
// caller's keys.
func (s *KeyService) Update(ctx context.Context, caller Caller, keyID string, patch model.CredentialPatch) (*MutationResult, error) {
	if err := s.admit(ctx, caller); err != nil {
		return nil, err
	}
	return s.update(ctx, caller, keyID, patch)
}

func (s *KeyService) admit(ctx context.Context, caller Caller) error {
	if caller.ID == "" {
		return ErrAuthenticationRequired
	}
	d := s.gate.Check(ctx, caller.ID, ratelimit.EndpointManageAPIKeys, caller.Mode)
	if !d.Allowed {
		return &RateLimitedError{Decision: d}
	}
	return nil
}

func (s *KeyService) create(ctx context.Context, caller Caller, req CreateKeyRequest) (*CreatedKey, error) {
	verr := &ValidationError{}

	name := req.Name
	if n := utf8.RuneCountInString(name); n < 1 || n > maxNameLength {
		verr.add("name", fmt.Sprintf("must be between 1 and %d characters", maxNameLength))
	}

	scopes := req.Scopes
	if msg := validateScopes(scopes); msg != "" {
		verr.add("scopes", msg)
	}

	mode := caller.Mode
	if req.EnvironmentMode != "" {
		m, err := model.ParseEnvironmentMode(req.EnvironmentMode)
		if err != nil {
			verr.add("environment_mode", "must be sandbox or production")
		}
		mode = m
	}
	if mode == "" {
		mode = model.ModeSandbox
	}

	now := s.now().UTC()
	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		days := *req.ExpiresInDays
		if days < 1 || days > maxExpiryDays {
			verr.add("expires_in_days", fmt.Sprintf("must be between 1 and %d", maxExpiryDays))
		} else {
			t := now.AddDate(0, 0, days)
			expiresAt = &t
		}
	}

	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	sec, err := s.codec.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	cred := &model.Credential{
		ID:              uuid.Must(uuid.NewV7()).String(),
		OwnerID:         caller.ID,
		Name:            name,
		Prefix:          sec.Prefix,
		SecretHash:      sec.Hash,
		Scopes:          scopes,
		EnvironmentMode: mode,
		IsActive:        true,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("%w: create api key: %w", ErrInternal, err)
	}

	s.logger.Info("api key created",
		"caller_id", caller.ID,
		"key_id", cred.ID,
		"prefix", cred.Prefix,
		"environment_mode", string(mode),
	)

	return &CreatedKey{
		KeyID:           cred.ID,
		Key:             sec.Raw,
		Prefix:          cred.Prefix,
		Name:            cred.Name,
		Scopes:          cred.Scopes,
		EnvironmentMode: cred.EnvironmentMode,
		ExpiresAt:       cred.ExpiresAt,
		CreatedAt:       cred.CreatedAt,
	}, nil
}

func (s *KeyService) list(ctx context.Context, caller Caller) ([]model.Credential, error) {
	keys, err := s.store.ListCredentials(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list api keys: %w", ErrInternal, err)
	}
	if keys == nil {
		keys = []model.Credential{}
	}
	return keys, nil
}

func (s *KeyService) revoke(ctx context.Context, caller Caller, keyID string) (*MutationResult, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, &ValidationError{Fields: map[string]string{"key_id": "is required"}}
	}

	n, err := s.store.DeleteCredential(ctx, caller.ID, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: revoke api key: %w", ErrInternal, err)
	}
	s.logMutation(ctx, "api key revoked", caller, keyID, n)
	return &MutationResult{KeyID: keyID}, nil
}

func (s *KeyService) update(ctx context.Context, caller Caller, keyID string, patch model.CredentialPatch) (*MutationResult, error) {
	verr := &ValidationError{}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		verr.add("key_id", "is required")
	}
	if patch.Empty() {
		verr.add("patch", "is_active or scopes must be provided")
	}
	if patch.Scopes != nil {
		if msg := validateScopes(patch.Scopes); msg != "" {
			verr.add("scopes", msg)
		}
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	n, err := s.store.UpdateCredential(ctx, caller.ID, keyID, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: update api key: %w", ErrInternal, err)
	}
	s.logMutation(ctx, "api key updated", caller, keyID, n)
	return &MutationResult{KeyID: keyID}, nil
}

func (s *KeyService) logMutation(ctx context.Context, msg string, caller Caller, keyID string, rows int64) {
	if rows == 0 {
		s.logger.DebugContext(ctx, msg, "caller_id", caller.ID, "key_id", keyID, "rows_affected", rows)
		return
	}
	s.logger.InfoContext(ctx, msg, "caller_id", caller.ID, "key_id", keyID, "rows_affected", rows)
}

// validateScopes checks a scope list exactly as submitted and returns a
// message describing the first problem, or "" if it is acceptable.
func validateScopes(scopes []string) string {
	if len(scopes) < 1 || len(scopes) > maxScopes {
		return fmt.Sprintf("must contain between 1 and %d scopes", maxScopes)
	}
	seen := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		if strings.TrimSpace(sc) == "" {
			return "scopes must not be blank"
		}
		if len(sc) > maxScopeLength {
			return fmt.Sprintf("each scope must be at most %d characters", maxScopeLength)
		}
		if seen[sc] {
			return fmt.Sprintf("duplicate scope %q", sc)
		}
		seen[sc] = true
	}
	return ""
}
