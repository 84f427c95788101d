package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/notifyer/notifyer/internal/identity"
)

// loginMessage builds the operator-facing device-login instructions,
// including why a login is needed and how long the code lives.
func loginMessage(reason string, details identity.DeviceLoginDetails) string {
	expires := details.ExpiresIn.Round(time.Minute)
	if expires < time.Minute {
		expires = details.ExpiresIn.Round(time.Second)
	}
	return fmt.Sprintf(
		"🔒 Login needed (%s).\nOpen %s and enter code %s within %s.",
		humanReason(reason), details.VerificationURI, details.UserCode, expires,
	)
}

// failureMessage builds the operator-facing terminal-failure report for
// an abandoned or rejected device login.
func failureMessage(err error) string {
	var authErr *identity.Error
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case identity.KindExpiredToken:
			return "🔒 Login not completed: the device code expired before it was used. A new code will be issued on the next run."
		case identity.KindAuthorizationDeclined:
			return "🔒 Login declined: the sign-in request was rejected. No retry will happen until the next run."
		}
	}
	return fmt.Sprintf("🔒 Login failed: %v", err)
}

// loginOutcome maps a device-login failure onto a metric outcome label.
func loginOutcome(err error) string {
	var authErr *identity.Error
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case identity.KindExpiredToken:
			return "expired"
		case identity.KindAuthorizationDeclined:
			return "declined"
		}
	}
	return "failure"
}

var reasonText = map[string]string{
	"invalid_grant":           "the saved sign-in is no longer accepted",
	"interaction_required":    "the provider requires a fresh sign-in",
	"no_tokens_found":         "no saved sign-in was found",
	"no_account_found":        "no account is signed in yet",
	"no_cached_refresh_token": "the saved sign-in is incomplete",
	"refresh_token_expired":   "the saved sign-in has expired",
}

func humanReason(reason string) string {
	if text, ok := reasonText[reason]; ok {
		return text
	}
	return reason
}
