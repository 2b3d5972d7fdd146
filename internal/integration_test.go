package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aspect-build/listbridge/internal/crypto"
	"github.com/aspect-build/listbridge/internal/ebay"
	"github.com/aspect-build/listbridge/internal/server"
	"github.com/aspect-build/listbridge/internal/server/db"
)

const (
	testAdminToken   = "test-admin-token-1234567890"
	testMasterSecret = "integration-master-secret-0123456789"
)

// fakeEbay serves the token and identity endpoints and counts grants.
type fakeEbay struct {
	mu     sync.Mutex
	grants map[string]int
	issued int
}

func (f *fakeEbay) count(grant string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants[grant]
}

func (f *fakeEbay) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		grant := r.PostForm.Get("grant_type")

		f.mu.Lock()
		f.grants[grant]++
		f.issued++
		n := f.issued
		f.mu.Unlock()

		body := map[string]any{"expires_in": 7200, "token_type": "User Access Token"}
		switch grant {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			body["access_token"] = fmt.Sprintf("access-%d", n)
			body["refresh_token"] = "refresh-1"
		case "refresh_token":
			body["access_token"] = fmt.Sprintf("access-%d", n)
		case "client_credentials":
			body["access_token"] = fmt.Sprintf("app-%d", n)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/identity", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"userId":"u-1","username":"seller_one"}`))
	})
	return mux
}

type testEnv struct {
	ts    *httptest.Server
	ebay  *fakeEbay
	store *db.Store
	vault *crypto.Vault

	closers []func()
}

func (e *testEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// startEnv runs the router against a fake eBay and an in-memory store.
func startEnv() (*testEnv, error) {
	e := &testEnv{ebay: &fakeEbay{grants: map[string]int{}}}

	ebaySrv := httptest.NewServer(e.ebay.handler())
	e.closers = append(e.closers, ebaySrv.Close)

	store, err := db.NewStore(":memory:")
	if err != nil {
		e.close()
		return nil, fmt.Errorf("NewStore: %w", err)
	}
	e.store = store
	e.closers = append(e.closers, func() { store.Close() })

	cfg := &server.Config{
		MasterSecret: testMasterSecret,
		AdminToken:   testAdminToken,
		ConfigPage:   "/settings",
		SessionTTL:   time.Hour,
		Ebay: ebay.Config{
			ClientID:     "server-cid",
			ClientSecret: "server-secret",
			RedirectURI:  "Listbridge-RuName",
			Endpoints: ebay.Endpoints{
				AuthURL:     ebaySrv.URL + "/authorize",
				TokenURL:    ebaySrv.URL + "/token",
				IdentityURL: ebaySrv.URL + "/identity",
			},
			HTTPTimeout: 2 * time.Second,
		},
	}
	svc, err := server.NewServices(context.Background(), store, cfg, ebaySrv.Client())
	if err != nil {
		e.close()
		return nil, fmt.Errorf("NewServices: %w", err)
	}
	e.closers = append(e.closers, func() { svc.Close() })

	e.ts = httptest.NewServer(server.NewRouter(svc, cfg))
	e.closers = append(e.closers, e.ts.Close)

	e.vault, err = crypto.NewVault(testMasterSecret)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("NewVault: %w", err)
	}
	return e, nil
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	e, err := startEnv()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.close)
	return e
}

func adminRequest(method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return http.DefaultClient.Do(req)
}

// browser is a cookie-carrying client that does not follow redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (e *testEnv) login(t *testing.T, userID string) *browser {
	t.Helper()
	jar, _ := cookiejar.New(nil)
	b := &browser{t: t, base: e.ts.URL, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}

	body, _ := json.Marshal(map[string]string{"user_id": userID})
	req, _ := http.NewRequest("POST", e.ts.URL+"/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := b.client.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /v1/sessions: status %d, body: %s", resp.StatusCode, raw)
	}
	return b
}

func (b *browser) do(method, path string, body any) (int, http.Header, map[string]any) {
	b.t.Helper()
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, b.base+path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, resp.Header, out
}

func createAccount(t *testing.T, e *testEnv, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "display_name": "Shop Owner"})
	resp, err := adminRequest("POST", e.ts.URL+"/v1/accounts", body)
	if err != nil {
		t.Fatalf("POST /v1/accounts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /v1/accounts: status %d, body: %s", resp.StatusCode, raw)
	}
	var out struct {
		AccountID string `json:"account_id"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	return out.AccountID
}

func addUser(t *testing.T, e *testEnv, accountID, email, role string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "role": role})
	resp, err := adminRequest("POST", e.ts.URL+"/v1/accounts/"+accountID+"/users", body)
	if err != nil {
		t.Fatalf("POST users: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST users: status %d, body: %s", resp.StatusCode, raw)
	}
	var out struct {
		UserID string `json:"user_id"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	return out.UserID
}

// connect runs initiate and callback and returns the callback redirect.
func connect(t *testing.T, b *browser, code string) *url.URL {
	t.Helper()
	status, hdr, _ := b.do("GET", "/v1/ebay/oauth/initiate", nil)
	if status != http.StatusFound {
		t.Fatalf("initiate: status %d", status)
	}
	consent, err := url.Parse(hdr.Get("Location"))
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	state := consent.Query().Get("state")
	if state == "" {
		t.Fatalf("consent url without state: %s", consent)
	}

	q := url.Values{"code": {code}, "state": {state}}
	status, hdr, _ = b.do("GET", "/v1/ebay/oauth/callback?"+q.Encode(), nil)
	if status != http.StatusFound {
		t.Fatalf("callback: status %d", status)
	}
	loc, _ := url.Parse(hdr.Get("Location"))
	return loc
}

func TestEndToEnd_OAuthConnectAndRefresh(t *testing.T) {
	e := setupTestServer(t)
	acct := createAccount(t, e, "Owner@Example.com")
	admin := e.login(t, acct)

	loc := connect(t, admin, "good-code")
	if loc.Path != "/settings" || loc.Query().Get("oauth") != "success" {
		t.Fatalf("callback redirect = %s", loc)
	}
	if n := e.ebay.count("authorization_code"); n != 1 {
		t.Fatalf("code exchanges = %d, want 1", n)
	}

	// Tokens live encrypted on the owner row.
	owner, _ := e.store.GetUser(context.Background(), acct)
	if owner.OAuthAccessToken == "" || owner.OAuthAccessToken == "access-1" {
		t.Fatalf("access token not sealed: %q", owner.OAuthAccessToken)
	}
	if e.vault.Decrypt(owner.OAuthRefreshToken) != "refresh-1" {
		t.Fatal("refresh token not stored")
	}

	status, _, cfg := admin.do("GET", "/v1/config", nil)
	if status != http.StatusOK {
		t.Fatalf("GET /v1/config: status %d", status)
	}
	ev, _ := cfg["ebay"].(map[string]any)
	if ev["oauth_connected"] != true || ev["oauth_username"] != "seller_one" {
		t.Fatalf("ebay section = %v", ev)
	}

	status, _, st := admin.do("GET", "/v1/credentials/status", nil)
	if status != http.StatusOK || st["user"] != "oauth" || st["catalog"] != "oauth" {
		t.Fatalf("status = %d %v", status, st)
	}

	// Age the access token past expiry; the next request refreshes it.
	stale, _ := e.vault.Encrypt("access-1")
	if err := e.store.UpdateOwnerAccessToken(context.Background(), acct, stale, time.Now().Add(-time.Minute), ""); err != nil {
		t.Fatalf("UpdateOwnerAccessToken: %v", err)
	}
	status, _, st = admin.do("GET", "/v1/credentials/status", nil)
	if status != http.StatusOK || st["oauth_connected"] != true {
		t.Fatalf("status after expiry = %d %v", status, st)
	}
	if n := e.ebay.count("refresh_token"); n != 1 {
		t.Fatalf("refreshes = %d, want 1", n)
	}
	owner, _ = e.store.GetUser(context.Background(), acct)
	if got := e.vault.Decrypt(owner.OAuthAccessToken); got == "access-1" || got == "" {
		t.Fatalf("refreshed token not persisted: %q", got)
	}
	if !owner.OAuthTokenExpiry.After(time.Now().Add(time.Hour)) {
		t.Fatalf("expiry not advanced: %v", owner.OAuthTokenExpiry)
	}

	// The fresh token is reused without another provider call.
	admin.do("GET", "/v1/credentials/status", nil)
	if n := e.ebay.count("refresh_token"); n != 1 {
		t.Fatalf("refreshes = %d after valid token, want 1", n)
	}
}

func TestEndToEnd_CallbackOutcomes(t *testing.T) {
	e := setupTestServer(t)
	acct := createAccount(t, e, "owner@example.com")
	admin := e.login(t, acct)

	loc := connect(t, admin, "bad-code")
	if loc.Query().Get("oauth") != "error" || loc.Query().Get("reason") != "token_exchange" {
		t.Fatalf("bad code redirect = %s", loc)
	}

	// No pending state: the callback is rejected before any exchange.
	q := url.Values{"code": {"good-code"}, "state": {"forged"}}
	_, hdr, _ := admin.do("GET", "/v1/ebay/oauth/callback?"+q.Encode(), nil)
	loc, _ = url.Parse(hdr.Get("Location"))
	if loc.Query().Get("reason") != "invalid_state" {
		t.Fatalf("forged state redirect = %s", loc)
	}

	_, _, _ = admin.do("GET", "/v1/ebay/oauth/initiate", nil)
	_, hdr, _ = admin.do("GET", "/v1/ebay/oauth/callback?error=access_denied", nil)
	loc, _ = url.Parse(hdr.Get("Location"))
	if loc.Query().Get("oauth") != "declined" {
		t.Fatalf("declined redirect = %s", loc)
	}

	if n := e.ebay.count("authorization_code"); n != 1 {
		t.Fatalf("code exchanges = %d, want 1", n)
	}
}

func TestEndToEnd_ManualFallbackAndBlankClears(t *testing.T) {
	e := setupTestServer(t)
	acct := createAccount(t, e, "owner@example.com")
	admin := e.login(t, acct)

	connect(t, admin, "good-code")

	status, _, _ := admin.do("PUT", "/v1/config", map[string]string{
		"ebay_token":         "  manual-user-token-1234 ",
		"ebay_client_id":     "manual-cid-5678",
		"ebay_client_secret": "manual-secret-9999",
	})
	if status != http.StatusOK {
		t.Fatalf("PUT /v1/config: status %d", status)
	}

	_, _, cfg := admin.do("GET", "/v1/config", nil)
	ev := cfg["ebay"].(map[string]any)
	if ev["ebay_token"] != "****1234" || ev["ebay_client_secret"] != "****9999" {
		t.Fatalf("previews = %v", ev)
	}

	status, _, _ = admin.do("POST", "/v1/ebay/oauth/disconnect", nil)
	if status != http.StatusOK {
		t.Fatalf("disconnect: status %d", status)
	}

	_, _, st := admin.do("GET", "/v1/credentials/status", nil)
	if st["oauth_connected"] != false || st["user"] != "manual" || st["catalog"] != "application" {
		t.Fatalf("status after disconnect = %v", st)
	}

	// Verifying acquires an application token once and reuses the cached one.
	for i := 0; i < 2; i++ {
		status, _, v := admin.do("POST", "/v1/credentials/verify", nil)
		catalog, _ := v["catalog"].(map[string]any)
		if status != http.StatusOK || catalog["source"] != "application" || catalog["ok"] != true {
			t.Fatalf("verify = %d %v", status, v)
		}
	}
	if n := e.ebay.count("client_credentials"); n != 1 {
		t.Fatalf("application token grants = %d, want 1", n)
	}

	// A blank value clears one field and leaves the others.
	admin.do("PUT", "/v1/config", map[string]string{"ebay_token": ""})
	_, _, st = admin.do("GET", "/v1/credentials/status", nil)
	if st["user"] != nil || st["catalog"] != "application" || st["manual_keys"] != true {
		t.Fatalf("status after clearing token = %v", st)
	}

	owner, _ := e.store.GetUser(context.Background(), acct)
	if owner.EbayToken != "" || e.vault.Decrypt(owner.EbayClientID) != "manual-cid-5678" {
		t.Fatalf("owner row = %+v", owner)
	}
}

func TestEndToEnd_SubUserSharesOwnerCredentials(t *testing.T) {
	e := setupTestServer(t)
	acct := createAccount(t, e, "owner@example.com")
	subID := addUser(t, e, acct, "op@example.com", "operator")

	admin := e.login(t, acct)
	connect(t, admin, "good-code")

	op := e.login(t, subID)
	_, _, st := op.do("GET", "/v1/credentials/status", nil)
	if st["account_id"] != acct || st["user"] != "oauth" {
		t.Fatalf("sub-user status = %v", st)
	}

	_, _, cfg := op.do("GET", "/v1/config", nil)
	if _, ok := cfg["ebay"]; ok {
		t.Fatalf("operator must not see credential previews: %v", cfg)
	}

	status, _, _ := op.do("PUT", "/v1/config", map[string]string{"ebay_token": "x"})
	if status != http.StatusForbidden {
		t.Fatalf("operator credential write: status %d, want 403", status)
	}
	status, _, _ = op.do("GET", "/v1/ebay/oauth/initiate", nil)
	if status != http.StatusForbidden {
		t.Fatalf("operator initiate: status %d, want 403", status)
	}
}

func TestEndToEnd_RoleChangeAppliesToLiveSession(t *testing.T) {
	e := setupTestServer(t)
	acct := createAccount(t, e, "owner@example.com")
	subID := addUser(t, e, acct, "op@example.com", "operator")

	admin := e.login(t, acct)
	op := e.login(t, subID)

	if status, _, _ := op.do("GET", "/v1/users", nil); status != http.StatusForbidden {
		t.Fatalf("operator list users: status %d, want 403", status)
	}

	status, _, _ := admin.do("PUT", "/v1/users/"+subID+"/role", map[string]string{"role": "admin"})
	if status != http.StatusOK {
		t.Fatalf("promote: status %d", status)
	}

	status, _, out := op.do("GET", "/v1/users", nil)
	if status != http.StatusOK {
		t.Fatalf("promoted list users: status %d", status)
	}
	if users, _ := out["users"].([]any); len(users) != 2 {
		t.Fatalf("users = %v", out["users"])
	}

	status, _, _ = admin.do("DELETE", "/v1/users/"+subID, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete: status %d", status)
	}
	if status, _, _ := op.do("GET", "/v1/config", nil); status != http.StatusUnauthorized {
		t.Fatalf("deleted user's session: status %d, want 401", status)
	}
}

func TestAdminAuth(t *testing.T) {
	e := setupTestServer(t)

	resp, err := http.Post(e.ts.URL+"/v1/accounts", "application/json", bytes.NewReader([]byte(`{"email":"a@example.com"}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", resp.StatusCode)
	}
}
