package tokencache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Contract is the serialized token cache blob. The layout is compatible
// with the MSAL cache schema so a cache written by any MSAL client for
// the same identity remains readable. A blob is well-formed only when
// all three sections are present; anything less is treated as corrupt
// and discarded rather than loaded.
type Contract struct {
	Accounts      map[string]Account      `json:"Account"`
	RefreshTokens map[string]RefreshToken `json:"RefreshToken"`
	AccessTokens  map[string]AccessToken  `json:"AccessToken"`
}

// Account is the cached identity descriptor.
type Account struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	Realm         string `json:"realm"`
	Username      string `json:"username"`
	AuthorityType string `json:"authority_type"`
}

// RefreshToken is a cached refresh-token entry.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	ClientID       string `json:"client_id"`
	CredentialType string `json:"credential_type"`
	Secret         string `json:"secret"`
}

// AccessToken is a cached access-token entry.
type AccessToken struct {
	HomeAccountID     string `json:"home_account_id"`
	Environment       string `json:"environment"`
	ClientID          string `json:"client_id"`
	CredentialType    string `json:"credential_type"`
	Realm             string `json:"realm"`
	Target            string `json:"target"`
	Secret            string `json:"secret"`
	CachedAt          string `json:"cached_at"`
	ExpiresOn         string `json:"expires_on"`
	ExtendedExpiresOn string `json:"extended_expires_on"`
}

// NewContract creates an empty, well-formed contract.
func NewContract() *Contract {
	return &Contract{
		Accounts:      make(map[string]Account),
		RefreshTokens: make(map[string]RefreshToken),
		AccessTokens:  make(map[string]AccessToken),
	}
}

// Marshal serializes the contract to its JSON blob form.
func (c *Contract) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal overwrites the contract with the given blob.
func (c *Contract) Unmarshal(data []byte) error {
	var next Contract
	if err := json.Unmarshal(data, &next); err != nil {
		return err
	}
	*c = next
	return nil
}

// WellFormed reports whether all three required sections are present.
// json.Unmarshal leaves missing sections as nil maps, so presence is a
// nil check, not an emptiness check: an empty section is still present.
func (c *Contract) WellFormed() bool {
	return c.Accounts != nil && c.RefreshTokens != nil && c.AccessTokens != nil
}

// AccountList returns the cached accounts in the registry.
func (c *Contract) AccountList() []Account {
	accounts := make([]Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		accounts = append(accounts, a)
	}
	return accounts
}

// RefreshTokenFor looks up the refresh token for the given account and
// client using the MSAL cache key syntax.
func (c *Contract) RefreshTokenFor(homeAccountID, environment, clientID string) (RefreshToken, bool) {
	rt, ok := c.RefreshTokens[RefreshTokenKey(homeAccountID, environment, clientID)]
	return rt, ok
}

// PutAccount stores an account entry under its cache key.
func (c *Contract) PutAccount(a Account) {
	c.Accounts[AccountKey(a.HomeAccountID, a.Environment, a.Realm)] = a
}

// PutRefreshToken stores a refresh-token entry under its cache key.
func (c *Contract) PutRefreshToken(rt RefreshToken) {
	rt.CredentialType = "RefreshToken"
	c.RefreshTokens[RefreshTokenKey(rt.HomeAccountID, rt.Environment, rt.ClientID)] = rt
}

// PutAccessToken stores an access-token entry under its cache key.
func (c *Contract) PutAccessToken(at AccessToken) {
	at.CredentialType = "AccessToken"
	key := strings.ToLower(fmt.Sprintf("%s-%s-accesstoken-%s-%s-%s",
		at.HomeAccountID, at.Environment, at.ClientID, at.Realm, at.Target))
	c.AccessTokens[key] = at
}

// AccountKey builds the MSAL cache key for an account entry.
func AccountKey(homeAccountID, environment, realm string) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%s", homeAccountID, environment, realm))
}

// RefreshTokenKey builds the MSAL cache key for a refresh-token entry.
// Refresh tokens are realm-independent, hence the empty trailing parts.
func RefreshTokenKey(homeAccountID, environment, clientID string) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-refreshtoken-%s--", homeAccountID, environment, clientID))
}

// UnixString formats a time as the epoch-seconds string the blob uses.
func UnixString(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}
