package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/ratelimit"
	"github.com/faucetdb/quotakey/internal/secret"
	"github.com/faucetdb/quotakey/internal/server/middleware"
	"github.com/faucetdb/quotakey/internal/service"
)

var alice = &middleware.Principal{Type: "bearer", CallerID: "alice", Mode: model.ModeSandbox}

type handlerEnv struct {
	keys   *KeysHandler
	limits *RateLimitHandler
	store  *config.Store
}

func newHandlerEnv(t *testing.T, rules ratelimit.StaticRules) *handlerEnv {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if rules == nil {
		rules = ratelimit.StaticRules(ratelimit.DefaultRules())
	}
	now := time.Date(2025, 3, 1, 12, 30, 17, 0, time.UTC)
	limiter := ratelimit.New(rules, store, ratelimit.WithClock(func() time.Time { return now }))
	logger := discardLogger()
	return &handlerEnv{
		keys:   NewKeysHandler(service.NewKeyService(store, secret.NewCodec(""), limiter, logger), logger),
		limits: NewRateLimitHandler(rules, limiter, logger),
		store:  store,
	}
}

func serve(h http.HandlerFunc, p *middleware.Principal, method, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "/", strings.NewReader(body))
	if p != nil {
		r = r.WithContext(middleware.WithPrincipal(r.Context(), p))
	}
	rr := httptest.NewRecorder()
	h(rr, r)
	return rr
}

// ---------------------------------------------------------------------------
// KeysHandler
// ---------------------------------------------------------------------------

func TestManageAPIKeysRequiresPrincipal(t *testing.T) {
	env := newHandlerEnv(t, nil)
	rr := serve(env.keys.ManageAPIKeys, nil, "POST", `{"action":"list"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestManageAPIKeysCreate(t *testing.T) {
	env := newHandlerEnv(t, nil)
	rr := serve(env.keys.ManageAPIKeys, alice, "POST",
		`{"action":"create","name":"ci","scopes":["read"],"expires_in_days":30}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("create response must not be cached")
	}

	var resp struct {
		Success bool               `json:"success"`
		Data    service.CreatedKey `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.Key == "" || resp.Data.ExpiresAt == nil {
		t.Errorf("resp = %+v", resp)
	}

	stored, err := env.store.GetCredentialByHash(context.Background(), secret.Hash(resp.Data.Key))
	if err != nil {
		t.Fatalf("stored credential: %v", err)
	}
	if stored.OwnerID != "alice" {
		t.Errorf("owner = %q", stored.OwnerID)
	}
}

func TestManageAPIKeysList(t *testing.T) {
	env := newHandlerEnv(t, nil)
	serve(env.keys.ManageAPIKeys, alice, "POST", `{"action":"create","name":"a","scopes":["read"]}`)
	serve(env.keys.ManageAPIKeys, alice, "POST", `{"action":"create","name":"b","scopes":["read"]}`)

	rr := serve(env.keys.ManageAPIKeys, alice, "POST", `{"action":"list"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Data struct {
			Resource []model.Credential `json:"resource"`
			Count    int                `json:"count"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Count != 2 || len(resp.Data.Resource) != 2 {
		t.Errorf("list = %+v", resp.Data)
	}
}

func TestManageAPIKeysErrors(t *testing.T) {
	env := newHandlerEnv(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"bad json", `{`, http.StatusBadRequest, "body"},
		{"empty body", ``, http.StatusBadRequest, "body"},
		{"missing action", `{}`, http.StatusBadRequest, "action"},
		{"unknown action", `{"action":"rotate"}`, http.StatusBadRequest, "action"},
		{"bad expiry", `{"action":"create","name":"x","scopes":["r"],"expires_in_days":400}`, http.StatusBadRequest, "expires_in_days"},
		{"too many scopes", `{"action":"create","name":"x","scopes":["a","b","c","d","e","f","g","h","i","j","k"]}`, http.StatusBadRequest, "scopes"},
		{"empty update", `{"action":"update","key_id":"k1"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(env.keys.ManageAPIKeys, alice, "POST", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.status, rr.Body.String())
			}
			resp := decodeResponse(t, rr)
			if tt.field != "" && resp.Details[tt.field] == "" {
				t.Errorf("details = %v, want %q", resp.Details, tt.field)
			}
		})
	}
}

func TestManageAPIKeysRateLimited(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.StaticRules{
		{Endpoint: ratelimit.EndpointManageAPIKeys, EnvironmentMode: model.ModeSandbox, MaxPerMinute: 1},
	})

	if rr := serve(env.keys.ManageAPIKeys, alice, "POST", `{"action":"list"}`); rr.Code != http.StatusOK {
		t.Fatalf("first call status = %d", rr.Code)
	}
	rr := serve(env.keys.ManageAPIKeys, alice, "POST", `{"action":"list"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "43" {
		t.Errorf("Retry-After = %q, want 43", rr.Header().Get("Retry-After"))
	}
}

type failingStore struct{}

func (failingStore) CreateCredential(context.Context, *model.Credential) error {
	return errors.New("database is locked")
}
func (failingStore) ListCredentials(context.Context, string) ([]model.Credential, error) {
	return nil, errors.New("database is locked")
}
func (failingStore) DeleteCredential(context.Context, string, string) (int64, error) {
	return 0, errors.New("database is locked")
}
func (failingStore) UpdateCredential(context.Context, string, string, model.CredentialPatch) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestManageAPIKeysStoreFailure(t *testing.T) {
	limiter := ratelimit.New(ratelimit.StaticRules(nil), nil)
	h := NewKeysHandler(service.NewKeyService(failingStore{}, nil, limiter, discardLogger()), discardLogger())

	for _, body := range []string{
		`{"action":"list"}`,
		`{"action":"create","name":"x","scopes":["read"]}`,
		`{"action":"revoke","key_id":"k1"}`,
	} {
		rr := serve(h.ManageAPIKeys, alice, "POST", body)
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", body, rr.Code)
		}
		if strings.Contains(rr.Body.String(), "locked") {
			t.Errorf("%s: store error leaked to client", body)
		}
	}
}

// ---------------------------------------------------------------------------
// RateLimitHandler
// ---------------------------------------------------------------------------

func TestListRules(t *testing.T) {
	env := newHandlerEnv(t, nil)

	prod := &middleware.Principal{Type: "api_key", CallerID: "alice", Mode: model.ModeProduction}
	rr := serve(env.limits.ListRules, prod, "GET", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Data struct {
			Resource []model.RateLimitRule `json:"resource"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data.Resource) != 2 {
		t.Fatalf("got %d rules, want 2", len(resp.Data.Resource))
	}
	for _, r := range resp.Data.Resource {
		if r.EnvironmentMode != model.ModeProduction {
			t.Errorf("rule for wrong mode: %+v", r)
		}
	}
}

func TestListRulesEmpty(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.StaticRules{})
	rr := serve(env.limits.ListRules, alice, "GET", "")
	if !strings.Contains(rr.Body.String(), `"resource":[]`) {
		t.Errorf("body = %s, want empty resource array", rr.Body.String())
	}
}

func TestCheck(t *testing.T) {
	env := newHandlerEnv(t, nil)

	rr := serve(env.limits.Check, alice, "POST", `{"endpoint":"run-comparison"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "50" || rr.Header().Get("X-RateLimit-Remaining") != "49" {
		t.Errorf("headers = %v", rr.Header())
	}

	var resp struct {
		Data model.Decision `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.Allowed || resp.Data.Remaining == nil || *resp.Data.Remaining != 49 {
		t.Errorf("decision = %+v", resp.Data)
	}
}

func TestCheckDenied(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.StaticRules{
		{Endpoint: "summarize", EnvironmentMode: model.ModeSandbox, MaxPerMinute: 0},
	})

	rr := serve(env.limits.Check, alice, "POST", `{"endpoint":"summarize"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.RetryAfterSeconds == nil || *resp.RetryAfterSeconds != 43 {
		t.Errorf("retryAfterSeconds = %v", resp.RetryAfterSeconds)
	}
}

func TestCheckValidation(t *testing.T) {
	env := newHandlerEnv(t, nil)

	for _, body := range []string{``, `{`, `{"endpoint":""}`} {
		rr := serve(env.limits.Check, alice, "POST", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", body, rr.Code)
		}
	}
	if rr := serve(env.limits.Check, nil, "POST", `{"endpoint":"x"}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("no principal: status = %d, want 401", rr.Code)
	}
}
