package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stampedCredential(extExpiresOn time.Time) *Credential {
	return &Credential{
		AccessToken:  "token-value",
		ExpiresOn:    Timestamp{extExpiresOn.Add(-time.Hour)},
		ExtExpiresOn: Timestamp{extExpiresOn},
		Account: AccountInfo{
			HomeAccountID: "uid.utid",
			Environment:   "login.microsoftonline.com",
			Username:      "user@example.com",
		},
		Datestamp: Timestamp{time.Now()},
	}
}

func TestCredentialValid(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		extExpiresOn time.Time
		want         bool
	}{
		{"well inside window", now.Add(10 * time.Minute), true},
		{"exactly at buffer edge", now.Add(ValidityBuffer), true},
		{"inside buffer", now.Add(4 * time.Minute), false},
		{"just expired", now.Add(-time.Second), false},
		{"long expired", now.Add(-24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := stampedCredential(tt.extExpiresOn)
			assert.Equal(t, tt.want, cred.Valid(now))
		})
	}
}

func TestCredentialValidRejectsIncompleteRecords(t *testing.T) {
	now := time.Now()

	empty := &Credential{}
	assert.False(t, empty.Valid(now))

	noToken := stampedCredential(now.Add(time.Hour))
	noToken.AccessToken = ""
	assert.False(t, noToken.Valid(now))

	zeroExpiry := stampedCredential(now.Add(time.Hour))
	zeroExpiry.ExpiresOn = Timestamp{}
	assert.False(t, zeroExpiry.Valid(now))

	zeroExtExpiry := stampedCredential(now.Add(time.Hour))
	zeroExtExpiry.ExtExpiresOn = Timestamp{}
	assert.False(t, zeroExtExpiry.Valid(now))
}

func TestTimestampRoundTrip(t *testing.T) {
	stamp := Timestamp{time.Date(2026, 3, 14, 12, 30, 45, 0, time.UTC)}

	data, err := json.Marshal(stamp)
	require.NoError(t, err)

	var decoded Timestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, stamp.Equal(decoded.Time))
}

func TestTimestampToleratesMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not a date", `"yesterday-ish"`},
		{"empty string", `""`},
		{"wrong type", `42`},
		{"null", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stamp Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &stamp))
			assert.True(t, stamp.IsZero())
		})
	}
}

func TestCredentialDecodeWithMalformedTimestampIsExpired(t *testing.T) {
	raw := `{
		"accessToken": "token-value",
		"expiresOn": "not-a-date",
		"extExpiresOn": "2099-01-01T00:00:00Z",
		"account": {"homeAccountId": "uid.utid", "environment": "login.microsoftonline.com"}
	}`

	var cred Credential
	require.NoError(t, json.Unmarshal([]byte(raw), &cred))
	assert.False(t, cred.Valid(time.Now()))
}
