package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/store"
	"github.com/notifyer/notifyer/internal/tokencache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClientID = "test-client-id"

type fakeProvider struct {
	mux          *http.ServeMux
	server       *httptest.Server
	tokenHandler http.HandlerFunc
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{mux: http.NewServeMux()}
	p.mux.HandleFunc("/consumers/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenHandler(w, r)
	})
	p.mux.HandleFunc("/consumers/oauth2/v2.0/devicecode", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":      "dev-code",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       30,
			"interval":         1,
		})
	})
	p.server = httptest.NewServer(p.mux)
	t.Cleanup(p.server.Close)
	return p
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func tokenResponse() map[string]any {
	return map[string]any{
		"token_type":     "Bearer",
		"access_token":   "new-access-token",
		"refresh_token":  "rotated-refresh-token",
		"expires_in":     3600,
		"ext_expires_in": 7200,
		"scope":          "user.read notes.read",
		"client_info":    encodeClientInfo("uid-1", "utid-1"),
	}
}

func encodeClientInfo(uid, utid string) string {
	data, _ := json.Marshal(map[string]string{"uid": uid, "utid": utid})
	return base64.RawURLEncoding.EncodeToString(data)
}

func newTestClient(t *testing.T, p *fakeProvider) (*Client, *store.MemoryStore, string) {
	t.Helper()
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	st := store.NewMemoryStore()
	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	bridge := tokencache.NewBridge(cachePath, st, logger)

	client, err := NewClient(config.AuthConfig{
		ClientID:  testClientID,
		Authority: p.server.URL + "/consumers",
		Scopes:    []string{"user.read", "notes.read", "offline_access"},
	}, bridge, logger)
	require.NoError(t, err)
	client.SetHTTPClient(p.server.Client())
	return client, st, cachePath
}

func seedCacheFile(t *testing.T, client *Client, cachePath string) tokencache.Account {
	t.Helper()
	account := tokencache.Account{
		HomeAccountID: "uid-1.utid-1",
		Environment:   client.environment,
		Realm:         "consumers",
		Username:      "user@example.com",
		AuthorityType: "MSSTS",
	}
	c := tokencache.NewContract()
	c.PutAccount(account)
	c.PutRefreshToken(tokencache.RefreshToken{
		HomeAccountID: account.HomeAccountID,
		Environment:   account.Environment,
		ClientID:      testClientID,
		Secret:        "seeded-refresh-token",
	})
	c.PutAccessToken(tokencache.AccessToken{
		HomeAccountID: account.HomeAccountID,
		Environment:   account.Environment,
		ClientID:      testClientID,
		Realm:         "consumers",
		Target:        "user.read notes.read",
		Secret:        "old-access-token",
	})
	data, err := c.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cachePath, data, 0600))
	return account
}

func TestAccounts_EmptyCache(t *testing.T) {
	p := newFakeProvider(t)
	client, _, _ := newTestClient(t, p)

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestAccounts_FromSeededCacheFile(t *testing.T) {
	p := newFakeProvider(t)
	client, _, cachePath := newTestClient(t, p)
	seedCacheFile(t, client, cachePath)

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "uid-1.utid-1", accounts[0].HomeAccountID)
}

func TestAcquireSilent_Success(t *testing.T) {
	p := newFakeProvider(t)
	p.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "seeded-refresh-token", r.Form.Get("refresh_token"))
		writeJSON(w, http.StatusOK, tokenResponse())
	}

	client, st, cachePath := newTestClient(t, p)
	account := seedCacheFile(t, client, cachePath)

	result, err := client.AcquireSilent(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "new-access-token", result.AccessToken)
	assert.Equal(t, account.HomeAccountID, result.Account.HomeAccountID)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), result.ExtExpiresOn, time.Minute)
	assert.True(t, result.ExtExpiresOn.After(result.ExpiresOn))

	// The rotated refresh token must land in both the file and the mirror.
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	var c tokencache.Contract
	require.NoError(t, c.Unmarshal(data))
	rt, ok := c.RefreshTokenFor(account.HomeAccountID, account.Environment, testClientID)
	require.True(t, ok)
	assert.Equal(t, "rotated-refresh-token", rt.Secret)

	mirror, ok := st.Get(context.Background(), "cache")
	require.True(t, ok)
	assert.JSONEq(t, string(data), mirror)
}

func TestAcquireSilent_EmptyCacheIsNoTokensFound(t *testing.T) {
	p := newFakeProvider(t)
	client, _, _ := newTestClient(t, p)

	_, err := client.AcquireSilent(context.Background(), tokencache.Account{HomeAccountID: "x"})
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, KindNoTokensFound, authErr.Kind)
}

func TestAcquireSilent_UnknownAccountIsNoCachedRefreshToken(t *testing.T) {
	p := newFakeProvider(t)
	client, _, cachePath := newTestClient(t, p)
	seedCacheFile(t, client, cachePath)

	_, err := client.AcquireSilent(context.Background(), tokencache.Account{
		HomeAccountID: "someone-else",
		Environment:   client.environment,
	})
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, KindNoCachedRefreshToken, authErr.Kind)
}

func TestAcquireSilent_InvalidGrantClassified(t *testing.T) {
	p := newFakeProvider(t)
	p.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "AADSTS700082: The refresh token has expired due to inactivity.",
		})
	}

	client, _, cachePath := newTestClient(t, p)
	account := seedCacheFile(t, client, cachePath)

	_, err := client.AcquireSilent(context.Background(), account)
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, KindRefreshTokenExpired, authErr.Kind)
	assert.True(t, authErr.Kind.TriggersLogin())
}

func TestDeviceLogin_CompletesAndPersists(t *testing.T) {
	p := newFakeProvider(t)
	p.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.Form.Get("grant_type"))
		assert.Equal(t, "dev-code", r.Form.Get("device_code"))
		writeJSON(w, http.StatusOK, tokenResponse())
	}

	client, st, cachePath := newTestClient(t, p)

	flow, err := client.StartDeviceLogin(context.Background())
	require.NoError(t, err)

	details := flow.Details()
	assert.Equal(t, "ABCD-1234", details.UserCode)
	assert.Equal(t, "https://microsoft.com/devicelogin", details.VerificationURI)
	assert.Greater(t, details.ExpiresIn, time.Duration(0))

	result, err := flow.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access-token", result.AccessToken)
	assert.Equal(t, "uid-1.utid-1", result.Account.HomeAccountID)

	// Cache file and durable mirror hold the new grant.
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	var c tokencache.Contract
	require.NoError(t, c.Unmarshal(data))
	_, ok := c.RefreshTokenFor("uid-1.utid-1", client.environment, testClientID)
	assert.True(t, ok)

	_, ok = st.Get(context.Background(), "cache")
	assert.True(t, ok)

	// The client's own registry now sees the account.
	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestDeviceLogin_Declined(t *testing.T) {
	p := newFakeProvider(t)
	p.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "authorization_declined",
		})
	}

	client, _, _ := newTestClient(t, p)

	flow, err := client.StartDeviceLogin(context.Background())
	require.NoError(t, err)

	_, err = flow.Wait(context.Background())
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, KindAuthorizationDeclined, authErr.Kind)
}
