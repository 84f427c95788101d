package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/tokencache"
	"golang.org/x/oauth2"
)

// Result is the decoded outcome of a successful token acquisition.
type Result struct {
	AccessToken     string
	ExpiresOn       time.Time
	ExtExpiresOn    time.Time
	GrantedScopes   []string
	Account         tokencache.Account
	IDTokenAudience string
}

// DeviceLoginDetails carries the human-facing parts of a started
// device-code flow.
type DeviceLoginDetails struct {
	UserCode        string
	VerificationURI string
	ExpiresIn       time.Duration
}

// LoginFlow is a started device-code grant awaiting out-of-band
// authorization.
type LoginFlow interface {
	Details() DeviceLoginDetails
	// Wait blocks until the provider reports completion or failure.
	// The wait is bounded by the provider's own code expiry; there is
	// no caller-visible polling loop.
	Wait(ctx context.Context) (*Result, error)
}

// Client talks the OAuth2 device-code and refresh-token protocols to
// the identity provider. Its internal token cache hydrates from the
// cache bridge before every read and exports through it after every
// mutation, so the ephemeral cache file stays the source of truth for
// what the provider considers valid.
type Client struct {
	conf        *oauth2.Config
	clientID    string
	environment string
	realm       string
	bridge      *tokencache.Bridge
	cache       *tokencache.Contract
	logger      *logging.Logger
	httpClient  *http.Client
}

// NewClient builds a client for the configured authority and scopes,
// wired to the given cache bridge.
func NewClient(cfg config.AuthConfig, bridge *tokencache.Bridge, logger *logging.Logger) (*Client, error) {
	authority, err := url.Parse(cfg.Authority)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(cfg.Authority, "/")
	conf := &oauth2.Config{
		ClientID: cfg.ClientID,
		Scopes:   cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       base + "/oauth2/v2.0/authorize",
			TokenURL:      base + "/oauth2/v2.0/token",
			DeviceAuthURL: base + "/oauth2/v2.0/devicecode",
		},
	}

	realm := "consumers"
	if parts := strings.Split(strings.Trim(authority.Path, "/"), "/"); len(parts) > 0 && parts[len(parts)-1] != "" {
		realm = parts[len(parts)-1]
	}

	if logger == nil {
		logger = logging.NewLogger()
	}

	return &Client{
		conf:        conf,
		clientID:    cfg.ClientID,
		environment: authority.Host,
		realm:       realm,
		bridge:      bridge,
		cache:       tokencache.NewContract(),
		logger:      logger,
	}, nil
}

// SetHTTPClient overrides the HTTP client used for provider calls.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	if c.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	return ctx
}

// Accounts hydrates the cache from the bridge and returns the account
// registry. This registry, not any higher-level session state, decides
// whether a silent acquisition can be attempted.
func (c *Client) Accounts(ctx context.Context) ([]tokencache.Account, error) {
	if err := c.bridge.Replace(ctx, c.cache); err != nil {
		return nil, err
	}
	return c.cache.AccountList(), nil
}

// AcquireSilent redeems the cached refresh token for the account. On
// success the cache is updated and exported through the bridge.
func (c *Client) AcquireSilent(ctx context.Context, account tokencache.Account) (*Result, error) {
	if err := c.bridge.Replace(ctx, c.cache); err != nil {
		return nil, err
	}

	if len(c.cache.RefreshTokens) == 0 {
		return nil, newError(KindNoTokensFound)
	}

	rt, ok := c.cache.RefreshTokenFor(account.HomeAccountID, account.Environment, c.clientID)
	if !ok {
		return nil, newError(KindNoCachedRefreshToken)
	}

	ts := c.conf.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: rt.Secret})
	tok, err := ts.Token()
	if err != nil {
		return nil, classify(err)
	}

	result := c.storeToken(ctx, tok, account)
	c.logger.InfoWithContext(ctx, "silent token acquisition succeeded", "account", account.Username)
	return result, nil
}

// StartDeviceLogin requests a device code from the provider and returns
// the pending flow. The returned details are meant to be relayed to a
// human operator through the notification side channel.
func (c *Client) StartDeviceLogin(ctx context.Context) (LoginFlow, error) {
	resp, err := c.conf.DeviceAuth(c.oauthContext(ctx), clientInfoParam())
	if err != nil {
		return nil, classify(err)
	}
	return &deviceLoginFlow{client: c, resp: resp}, nil
}

type deviceLoginFlow struct {
	client *Client
	resp   *oauth2.DeviceAuthResponse
}

func (f *deviceLoginFlow) Details() DeviceLoginDetails {
	return DeviceLoginDetails{
		UserCode:        f.resp.UserCode,
		VerificationURI: f.resp.VerificationURI,
		ExpiresIn:       time.Until(f.resp.Expiry),
	}
}

func (f *deviceLoginFlow) Wait(ctx context.Context) (*Result, error) {
	c := f.client
	tok, err := c.conf.DeviceAccessToken(c.oauthContext(ctx), f.resp, clientInfoParam())
	if err != nil {
		return nil, classify(err)
	}

	account := c.accountFromToken(tok)
	result := c.storeToken(ctx, tok, account)
	c.logger.InfoWithContext(ctx, "device login completed", "account", account.Username)
	return result, nil
}

// storeToken records the acquired token in the cache, exports the cache
// through the bridge, and builds the Result.
func (c *Client) storeToken(ctx context.Context, tok *oauth2.Token, account tokencache.Account) *Result {
	now := time.Now()
	extExpiresOn := tok.Expiry
	if ext, ok := tok.Extra("ext_expires_in").(float64); ok && ext > 0 {
		extExpiresOn = now.Add(time.Duration(ext) * time.Second)
	}

	scopes := c.conf.Scopes
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}

	c.cache.PutAccount(account)
	if tok.RefreshToken != "" {
		c.cache.PutRefreshToken(tokencache.RefreshToken{
			HomeAccountID: account.HomeAccountID,
			Environment:   account.Environment,
			ClientID:      c.clientID,
			Secret:        tok.RefreshToken,
		})
	}
	c.cache.PutAccessToken(tokencache.AccessToken{
		HomeAccountID:     account.HomeAccountID,
		Environment:       account.Environment,
		ClientID:          c.clientID,
		Realm:             c.realm,
		Target:            strings.Join(scopes, " "),
		Secret:            tok.AccessToken,
		CachedAt:          tokencache.UnixString(now),
		ExpiresOn:         tokencache.UnixString(tok.Expiry),
		ExtendedExpiresOn: tokencache.UnixString(extExpiresOn),
	})

	// The cache changed; mirror it out in the same call.
	_ = c.bridge.Export(ctx, c.cache)

	audience := c.clientID
	if aud, ok := idTokenClaims(tok)["aud"].(string); ok && aud != "" {
		audience = aud
	}

	return &Result{
		AccessToken:     tok.AccessToken,
		ExpiresOn:       tok.Expiry,
		ExtExpiresOn:    extExpiresOn,
		GrantedScopes:   scopes,
		Account:         account,
		IDTokenAudience: audience,
	}
}

// accountFromToken derives the cached account entry from the token
// response: home account ID from client_info (uid.utid), username from
// the ID token claims when present.
func (c *Client) accountFromToken(tok *oauth2.Token) tokencache.Account {
	account := tokencache.Account{
		Environment:   c.environment,
		Realm:         c.realm,
		AuthorityType: "MSSTS",
	}

	if info, ok := tok.Extra("client_info").(string); ok && info != "" {
		if uid, utid, ok := decodeClientInfo(info); ok {
			account.HomeAccountID = uid + "." + utid
		}
	}

	claims := idTokenClaims(tok)
	if account.HomeAccountID == "" {
		if sub, ok := claims["sub"].(string); ok {
			account.HomeAccountID = sub
		}
	}
	if name, ok := claims["preferred_username"].(string); ok {
		account.Username = name
	} else if email, ok := claims["email"].(string); ok {
		account.Username = email
	}

	return account
}

func clientInfoParam() oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("client_info", "1")
}

// decodeClientInfo unpacks the provider's client_info value, a
// base64url JSON object holding the user and tenant identifiers.
func decodeClientInfo(info string) (uid, utid string, ok bool) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(info, "="))
	if err != nil {
		return "", "", false
	}
	var parsed struct {
		UID  string `json:"uid"`
		UTID string `json:"utid"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.UID == "" {
		return "", "", false
	}
	return parsed.UID, parsed.UTID, true
}

// idTokenClaims extracts the claims from the id_token response field
// without signature verification; the token arrived over TLS from the
// token endpoint itself.
func idTokenClaims(tok *oauth2.Token) map[string]any {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil
	}
	return claims
}
