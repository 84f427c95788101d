package auth

import (
	"encoding/json"
	"time"
)

// ValidityBuffer is subtracted from the extended expiry when judging
// whether a credential is still usable. Access tokens near the edge of
// their window are treated as expired so in-flight Graph calls do not
// outlive them.
const ValidityBuffer = 5 * time.Minute

// Credential is the decoded representation of the user's OAuth grant,
// stored in the session under the "onenote" key and mirrored to the
// durable record store.
type Credential struct {
	AccessToken   string      `json:"accessToken"`
	ExpiresOn     Timestamp   `json:"expiresOn"`
	ExtExpiresOn  Timestamp   `json:"extExpiresOn"`
	Account       AccountInfo `json:"account"`
	IDTokenClaims Claims      `json:"idTokenClaims"`
	// Datestamp is the local capture time, set by this system when the
	// record was stored, not by the identity provider.
	Datestamp Timestamp `json:"datestamp"`
}

// AccountInfo locates the grant's identity in the token cache.
type AccountInfo struct {
	HomeAccountID string `json:"homeAccountId"`
	Environment   string `json:"environment"`
	Username      string `json:"username,omitempty"`
}

// Claims carries the ID token claims the system uses.
type Claims struct {
	Audience string `json:"aud"`
}

// Valid reports whether the credential can still back Graph calls at
// the given instant. Validity is gated on the extended expiry, not
// expiresOn: expiresOn bounds the short-lived access token while
// extExpiresOn reflects the provider's tolerance window.
func (c *Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresOn.IsZero() || c.ExtExpiresOn.IsZero() {
		return false
	}
	return !now.After(c.ExtExpiresOn.Add(-ValidityBuffer))
}

// Timestamp is an RFC 3339 timestamp that tolerates malformed input:
// an unparsable value decodes to the zero time instead of failing, so
// validity checks can treat it as expired rather than raising.
type Timestamp struct {
	time.Time
}

// MarshalJSON encodes the timestamp as an RFC 3339 string.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes an RFC 3339 string, mapping anything
// unreadable to the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}

	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t.Time = parsed
	return nil
}
