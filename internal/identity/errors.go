package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// ErrorKind enumerates identity-provider failure classes. Credential
// state kinds route the caller to device login; the rest propagate.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// Credential-state kinds: the grant is unusable and a new device
	// login is the remedy.
	KindInvalidGrant
	KindInteractionRequired
	KindNoTokensFound
	KindNoAccountFound
	KindNoCachedRefreshToken
	KindRefreshTokenExpired

	// Device-login terminal kinds.
	KindExpiredToken
	KindAuthorizationDeclined

	// Transport-level failure; retryable only by a later invocation.
	KindConnectivity
)

var kindReasons = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindInvalidGrant:          "invalid_grant",
	KindInteractionRequired:   "interaction_required",
	KindNoTokensFound:         "no_tokens_found",
	KindNoAccountFound:        "no_account_found",
	KindNoCachedRefreshToken:  "no_cached_refresh_token",
	KindRefreshTokenExpired:   "refresh_token_expired",
	KindExpiredToken:          "expired_token",
	KindAuthorizationDeclined: "authorization_declined",
	KindConnectivity:          "connectivity_failure",
}

// Reason returns the machine-readable reason code for the kind.
func (k ErrorKind) Reason() string {
	return kindReasons[k]
}

// TriggersLogin reports whether the kind indicates an invalid, expired,
// or missing grant that a device login would fix.
func (k ErrorKind) TriggersLogin() bool {
	switch k {
	case KindInvalidGrant, KindInteractionRequired, KindNoTokensFound,
		KindNoAccountFound, KindNoCachedRefreshToken, KindRefreshTokenExpired:
		return true
	}
	return false
}

// Error is a classified identity-provider failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Kind.Reason(), e.Err)
	}
	return fmt.Sprintf("identity: %s", e.Kind.Reason())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error with no underlying cause.
func newError(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

// classify maps raw protocol errors to a tagged Error. OAuth errors
// surface as *oauth2.RetrieveError with machine-readable codes; a
// context deadline during the device-code wait means the user did not
// complete the flow inside the provider's expiry window.
func classify(err error) *Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant":
			if refreshExpired(re.ErrorDescription) {
				return &Error{Kind: KindRefreshTokenExpired, Err: err}
			}
			return &Error{Kind: KindInvalidGrant, Err: err}
		case "interaction_required":
			return &Error{Kind: KindInteractionRequired, Err: err}
		case "expired_token":
			return &Error{Kind: KindExpiredToken, Err: err}
		case "authorization_declined", "access_denied":
			return &Error{Kind: KindAuthorizationDeclined, Err: err}
		default:
			return &Error{Kind: KindUnknown, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindExpiredToken, Err: err}
	}

	return &Error{Kind: KindConnectivity, Err: err}
}

// refreshExpired detects the provider's refresh-token-expired subcases
// of invalid_grant (AADSTS700082: token expired due to inactivity,
// AADSTS70008: expired grant, AADSTS70043: expired by policy).
func refreshExpired(description string) bool {
	for _, code := range []string{"AADSTS700082", "AADSTS70008", "AADSTS70043"} {
		if strings.Contains(description, code) {
			return true
		}
	}
	return false
}
