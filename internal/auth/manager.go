package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/notifyer/notifyer/internal/identity"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/session"
	"github.com/notifyer/notifyer/internal/store"
	"github.com/notifyer/notifyer/internal/tokencache"
)

// SessionKey is the session and durable-store attribute holding the
// current credential record.
const SessionKey = "onenote"

// Provider is the identity-provider surface the manager drives.
// Implemented by identity.Client; faked in tests.
type Provider interface {
	Accounts(ctx context.Context) ([]tokencache.Account, error)
	AcquireSilent(ctx context.Context, account tokencache.Account) (*identity.Result, error)
	StartDeviceLogin(ctx context.Context) (identity.LoginFlow, error)
}

// Notifier is the human-facing side channel for device-login
// instructions and terminal failures.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Manager orchestrates the credential lifecycle across the three state
// stores: the per-invocation session, the ephemeral cache file behind
// the provider, and the durable record store. One manager serves one
// invocation; it holds no global state.
type Manager struct {
	session   *session.Session
	provider  Provider
	notifier  Notifier
	store     store.Store
	cachePath string
	logger    *logging.Logger
	now       func() time.Time

	recordLogin func(reason, outcome string)
}

// NewManager wires a lifecycle manager for one invocation.
func NewManager(sess *session.Session, provider Provider, notifier Notifier, st store.Store, cachePath string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Manager{
		session:   sess,
		provider:  provider,
		notifier:  notifier,
		store:     st,
		cachePath: cachePath,
		logger:    logger,
		now:       time.Now,
	}
}

// SetLoginRecorder installs a callback invoked once per device login
// attempt with its reason and terminal outcome.
func (m *Manager) SetLoginRecorder(fn func(reason, outcome string)) {
	m.recordLogin = fn
}

// HasValidToken reports whether the session holds a credential still
// inside its extended-expiry window. Pure read: no I/O, never fails.
func (m *Manager) HasValidToken() bool {
	var cred Credential
	if !m.session.GetItem(SessionKey, &cred) {
		return false
	}
	return cred.Valid(m.now())
}

// RefreshToken attempts silent token acquisition, falling back to
// device login when the grant state demands it. Safe to call with
// completely empty state.
//
// The provider's own account registry, not the session, decides whether
// silent acquisition is attempted: on a cold start the session may be
// stale or absent while the cache file restored from the durable record
// still holds a usable refresh token.
func (m *Manager) RefreshToken(ctx context.Context) (*Credential, error) {
	var cred Credential
	if !m.session.GetItem(SessionKey, &cred) || cred.Account.HomeAccountID == "" {
		m.logger.InfoWithContext(ctx, "no credential record in session, device login required")
		return m.DeviceLogin(ctx, identity.KindNoAccountFound.Reason())
	}

	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		m.logger.InfoWithContext(ctx, "provider account registry empty, device login required")
		return m.DeviceLogin(ctx, identity.KindNoAccountFound.Reason())
	}

	// Single-identity system: first account is the account.
	result, err := m.provider.AcquireSilent(ctx, accounts[0])
	if err != nil {
		var authErr *identity.Error
		if errors.As(err, &authErr) && authErr.Kind.TriggersLogin() {
			m.logger.WarnWithContext(ctx, "silent refresh rejected, device login required",
				"reason", authErr.Kind.Reason())
			return m.DeviceLogin(ctx, authErr.Kind.Reason())
		}
		m.logger.ErrorWithContext(ctx, "silent refresh failed", "error", err.Error())
		return nil, err
	}

	m.logger.InfoWithContext(ctx, "token refreshed silently", "account", result.Account.Username)
	return m.storeResult(ctx, result)
}

// DeviceLogin runs one device-code grant: relays the code through the
// notification side channel, then blocks until the provider reports the
// out-of-band authorization finished or the code expired. No internal
// retry; expiry and decline are terminal and the scheduler re-invokes.
func (m *Manager) DeviceLogin(ctx context.Context, reason string) (*Credential, error) {
	if reason == "" {
		reason = "Authentication required"
	}

	flow, err := m.provider.StartDeviceLogin(ctx)
	if err != nil {
		m.logger.ErrorWithContext(ctx, "device login could not start", "error", err.Error())
		m.trackLogin(reason, loginOutcome(err))
		m.notify(ctx, failureMessage(err))
		return nil, err
	}

	details := flow.Details()
	m.logger.InfoWithContext(ctx, "device login started",
		"reason", reason, "user_code", details.UserCode)
	m.notify(ctx, loginMessage(reason, details))

	result, err := flow.Wait(ctx)
	if err != nil {
		m.logger.ErrorWithContext(ctx, "device login failed", "error", err.Error())
		m.trackLogin(reason, loginOutcome(err))
		m.notify(ctx, failureMessage(err))
		return nil, err
	}

	m.logger.InfoWithContext(ctx, "device login succeeded", "account", result.Account.Username)
	m.trackLogin(reason, "success")
	return m.storeResult(ctx, result)
}

func (m *Manager) trackLogin(reason, outcome string) {
	if m.recordLogin != nil {
		m.recordLogin(reason, outcome)
	}
}

// PersistCache mirrors the ephemeral cache file into the durable record
// store. Best-effort: the credential already in memory outweighs the
// durability of its mirror, so failures are logged and swallowed. The
// bridge's export hook already mirrors on change, making this an
// idempotent second pass.
func (m *Manager) PersistCache(ctx context.Context) {
	data, err := os.ReadFile(m.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.WarnWithContext(ctx, "cache file unreadable, skipping persist", "error", err.Error())
		}
		return
	}
	if err := m.store.Set(ctx, "cache", string(data)); err != nil {
		m.logger.WarnWithContext(ctx, "cache persist failed", "error", err.Error())
	}
}

// StoreResult records an acquisition outcome obtained outside the
// manager's own flows, such as a manually driven device login.
func (m *Manager) StoreResult(ctx context.Context, result *identity.Result) (*Credential, error) {
	return m.storeResult(ctx, result)
}

// storeResult stamps and stores the credential record, then mirrors the
// cache file to durable storage.
func (m *Manager) storeResult(ctx context.Context, result *identity.Result) (*Credential, error) {
	cred := &Credential{
		AccessToken:  result.AccessToken,
		ExpiresOn:    Timestamp{result.ExpiresOn},
		ExtExpiresOn: Timestamp{result.ExtExpiresOn},
		Account: AccountInfo{
			HomeAccountID: result.Account.HomeAccountID,
			Environment:   result.Account.Environment,
			Username:      result.Account.Username,
		},
		IDTokenClaims: Claims{Audience: result.IDTokenAudience},
		Datestamp:     Timestamp{m.now()},
	}

	if err := m.session.SetItem(ctx, SessionKey, cred, true); err != nil {
		// Credential validity in memory outweighs mirror durability.
		m.logger.WarnWithContext(ctx, "credential record write-through failed", "error", err.Error())
	}

	m.PersistCache(ctx)
	return cred, nil
}

// notify relays a message through the side channel. A notification
// failure must never crash the login flow's own error handling.
func (m *Manager) notify(ctx context.Context, text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, text); err != nil {
		m.logger.WarnWithContext(ctx, "side-channel notification failed", "error", err.Error())
	}
}
