package notes

import (
	"context"
	"math/rand/v2"

	"github.com/notifyer/notifyer/internal/config"
	apperrors "github.com/notifyer/notifyer/internal/errors"
	"github.com/notifyer/notifyer/internal/graph"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/session"
)

// pageWindow bounds how many pages one listing request returns.
const pageWindow = 100

// Library is the OneNote surface the picker reads from. Implemented by
// graph.Client; faked in tests.
type Library interface {
	Section(ctx context.Context, notebook, name string) (*graph.Section, error)
	PageCount(ctx context.Context, section *graph.Section) (int, error)
	Pages(ctx context.Context, section *graph.Section, top, skip int) ([]graph.Page, error)
	Preview(ctx context.Context, page *graph.Page) (*graph.Preview, error)
}

// Note is a selected page together with its preview, ready for
// delivery.
type Note struct {
	Page    graph.Page
	Preview graph.Preview
}

// Picker selects the next note from a section, either sequentially or
// at random. Selection state (page cursor, section count, recent ring)
// lives in the session and is written through to the durable store so
// it survives cold starts.
type Picker struct {
	library  Library
	session  *session.Session
	notebook string
	recent   int
	logger   *logging.Logger
	randInt  func(n int) int
}

// NewPicker builds a picker over the given library for the configured
// notebook.
func NewPicker(library Library, sess *session.Session, cfg config.NotesConfig, logger *logging.Logger) *Picker {
	if logger == nil {
		logger = logging.NewLogger()
	}
	recent := cfg.RecentLength
	if recent <= 0 {
		recent = 7
	}
	return &Picker{
		library:  library,
		session:  sess,
		notebook: cfg.Notebook,
		recent:   recent,
		logger:   logger,
		randInt:  rand.IntN,
	}
}

// Pick resolves the section, refreshes its page count, and selects the
// next note according to the section's mode.
func (p *Picker) Pick(ctx context.Context, sc config.SectionConfig) (*Note, error) {
	section, err := p.library.Section(ctx, p.notebook, sc.Name)
	if err != nil {
		return nil, err
	}

	count, err := p.library.PageCount(ctx, section)
	if err != nil {
		return nil, err
	}
	handle := sc.Handle()
	if err := p.session.SetItem(ctx, handle+"_section_count", count, true); err != nil {
		p.logger.WarnWithContext(ctx, "section count persist failed", "error", err.Error())
	}
	if count == 0 {
		return nil, &apperrors.ErrNoNotesFound{Section: sc.Name}
	}

	var page *graph.Page
	if sc.Sequential {
		page, err = p.pickSequential(ctx, section, handle, count)
	} else {
		page, err = p.pickRandom(ctx, section, handle, count)
	}
	if err != nil {
		return nil, err
	}

	preview, err := p.library.Preview(ctx, page)
	if err != nil {
		return nil, err
	}

	p.logger.InfoWithContext(ctx, "note selected",
		"section", sc.Name, "title", page.Title, "sequential", sc.Sequential)
	return &Note{Page: *page, Preview: *preview}, nil
}

// pickSequential advances the per-section page cursor, wrapping back to
// the first page after the last. The cursor starts at -1 so the first
// run delivers page 0.
func (p *Picker) pickSequential(ctx context.Context, section *graph.Section, handle string, count int) (*graph.Page, error) {
	last := -1
	p.session.GetItem(handle+"_last_page", &last)

	next := last + 1
	if next >= count {
		next = 0
	}

	pages, err := p.library.Pages(ctx, section, 1, next)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, &apperrors.ErrNoNotesFound{Section: section.DisplayName}
	}

	if err := p.session.SetItem(ctx, handle+"_last_page", next, true); err != nil {
		p.logger.WarnWithContext(ctx, "page cursor persist failed", "error", err.Error())
	}
	return &pages[0], nil
}

// pickRandom picks a page at random from a window at a random offset,
// steering away from recently delivered pages when the section is big
// enough to allow it.
func (p *Picker) pickRandom(ctx context.Context, section *graph.Section, handle string, count int) (*graph.Page, error) {
	skip := p.randInt(count)

	pages, err := p.library.Pages(ctx, section, pageWindow, skip)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, &apperrors.ErrNoNotesFound{Section: section.DisplayName}
	}

	var recent []string
	p.session.GetItem("recent_"+handle, &recent)

	page := &pages[p.randInt(len(pages))]
	// Sections at or below the ring size would never settle; deliver
	// repeats rather than loop.
	if count > p.recent {
		for attempt := 0; attempt < p.recent && contains(recent, page.ID); attempt++ {
			page = &pages[p.randInt(len(pages))]
		}
	}

	p.recordRecent(ctx, handle, recent, page.ID)
	return page, nil
}

// recordRecent appends the delivered page to the ring, evicting the
// oldest entry once the ring is full.
func (p *Picker) recordRecent(ctx context.Context, handle string, recent []string, id string) {
	if len(recent) >= p.recent {
		recent = recent[len(recent)-p.recent+1:]
	}
	recent = append(recent, id)
	if err := p.session.SetItem(ctx, "recent_"+handle, recent, true); err != nil {
		p.logger.WarnWithContext(ctx, "recent ring persist failed", "error", err.Error())
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
