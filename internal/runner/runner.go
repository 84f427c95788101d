package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/notifyer/notifyer/internal/auth"
	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/graph"
	"github.com/notifyer/notifyer/internal/identity"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/metrics"
	"github.com/notifyer/notifyer/internal/notes"
	"github.com/notifyer/notifyer/internal/notify"
	"github.com/notifyer/notifyer/internal/session"
	"github.com/notifyer/notifyer/internal/store"
	"github.com/notifyer/notifyer/internal/tokencache"
)

// ErrBusy is returned when an invocation is requested while another is
// still in flight.
var ErrBusy = errors.New("an invocation is already running")

// Sender is the delivery channel for notes and service messages.
type Sender interface {
	Send(ctx context.Context, text string) error
	SendNote(ctx context.Context, m notify.Message, photo []byte) error
}

// Library extends the note-selection surface with content and image
// retrieval. Implemented by graph.Client.
type Library interface {
	notes.Library
	Content(ctx context.Context, page *graph.Page) (string, error)
	ImageSize(ctx context.Context, imageURL string) (int64, error)
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
}

// Source yields the configuration for the next invocation. Implemented
// by config.Loader, so a reloaded file takes effect on the following
// run without a restart.
type Source interface {
	Get() *config.Config
}

// Runner drives one complete invocation: restore state, ensure a valid
// token, pick a note, deliver it. At most one invocation runs at a
// time; concurrent triggers are rejected with ErrBusy.
type Runner struct {
	source  Source
	store   store.Store
	sender  Sender
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu sync.Mutex

	// Factory hooks, replaced in tests.
	newProvider func(cfg config.AuthConfig, bridge *tokencache.Bridge) (auth.Provider, error)
	newLibrary  func(cfg config.NotesConfig, accessToken string) Library
}

// New wires a runner over the given configuration source and durable
// store.
func New(source Source, st store.Store, sender Sender, m *metrics.Metrics, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewLogger()
	}

	r := &Runner{
		source:  source,
		store:   st,
		sender:  sender,
		metrics: m,
		logger:  logger,
	}
	r.newProvider = func(cfg config.AuthConfig, bridge *tokencache.Bridge) (auth.Provider, error) {
		return identity.NewClient(cfg, bridge, logger)
	}
	r.newLibrary = func(cfg config.NotesConfig, accessToken string) Library {
		return graph.NewClient(accessToken, cfg.GraphRoot, cfg.MaxImageBytes, logger)
	}
	return r
}

// Run executes one invocation for the named section (empty selects the
// first configured section). Returns ErrBusy when another invocation
// holds the lock.
func (r *Runner) Run(ctx context.Context, sectionName string) error {
	if !r.mu.TryLock() {
		return ErrBusy
	}
	defer r.mu.Unlock()

	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	start := time.Now()

	cfg := r.source.Get()
	sc, ok := cfg.Section(sectionName)
	if !ok {
		return fmt.Errorf("unknown section %q", sectionName)
	}
	err := r.invoke(ctx, cfg, sc)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if r.metrics != nil {
		r.metrics.RecordInvocation(sc.Handle(), outcome, time.Since(start).Seconds())
	}
	return err
}

func (r *Runner) invoke(ctx context.Context, cfg *config.Config, sc config.SectionConfig) error {
	r.logger.InfoWithContext(ctx, "invocation started", "section", sc.Name)

	sess := session.New(r.store, r.logger)
	if err := sess.Restore(ctx, sc.Handle(), cfg.Auth.CachePath); err != nil {
		return err
	}

	bridge := tokencache.NewBridge(cfg.Auth.CachePath, r.store, r.logger)
	provider, err := r.newProvider(cfg.Auth, bridge)
	if err != nil {
		return err
	}
	mgr := auth.NewManager(sess, provider, r.sender, r.store, cfg.Auth.CachePath, r.logger)
	if r.metrics != nil {
		mgr.SetLoginRecorder(r.metrics.RecordDeviceLogin)
	}

	cred, err := r.ensureToken(ctx, sess, mgr)
	if err != nil {
		return err
	}

	library := r.newLibrary(cfg.Notes, cred.AccessToken)
	picker := notes.NewPicker(library, sess, cfg.Notes, r.logger)

	note, err := picker.Pick(ctx, sc)
	if err != nil {
		return err
	}

	content, err := library.Content(ctx, &note.Page)
	if err != nil {
		return err
	}

	msg := notify.BuildNote(note, content, sc, cfg.Notes.LinkClient)
	photo := r.fetchPhoto(ctx, library, msg.ImageURL, cfg.Notes.MaxImageBytes)

	if err := r.sender.SendNote(ctx, msg, photo); err != nil {
		return err
	}
	if r.metrics != nil {
		kind := "text"
		if len(photo) > 0 {
			kind = "photo"
		}
		r.metrics.RecordNoteSent(sc.Handle(), kind)
	}

	mgr.PersistCache(ctx)
	r.logger.InfoWithContext(ctx, "invocation finished", "section", sc.Name, "title", note.Page.Title)
	return nil
}

// ensureToken returns a usable credential: the session's when still
// valid, otherwise the result of a silent refresh with device-login
// fallback.
func (r *Runner) ensureToken(ctx context.Context, sess *session.Session, mgr *auth.Manager) (*auth.Credential, error) {
	if mgr.HasValidToken() {
		var cred auth.Credential
		sess.GetItem(auth.SessionKey, &cred)
		r.logger.DebugWithContext(ctx, "session token still valid")
		return &cred, nil
	}

	cred, err := mgr.RefreshToken(ctx)
	if r.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		r.metrics.RecordSilentRefresh(outcome)
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// fetchPhoto downloads the note's preview image when it exists and fits
// the size cap. Any failure degrades to a text-only delivery.
func (r *Runner) fetchPhoto(ctx context.Context, library Library, imageURL string, maxBytes int64) []byte {
	if imageURL == "" {
		return nil
	}

	if size, err := library.ImageSize(ctx, imageURL); err != nil || size > maxBytes {
		if err != nil {
			r.logger.WarnWithContext(ctx, "image size check failed", "error", err.Error())
		} else {
			r.logger.InfoWithContext(ctx, "image over size cap, sending text only", "bytes", size)
		}
		return nil
	}

	photo, err := library.DownloadImage(ctx, imageURL)
	if err != nil {
		r.logger.WarnWithContext(ctx, "image download failed, sending text only", "error", err.Error())
		return nil
	}
	return photo
}
