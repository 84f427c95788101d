package notify

import (
	"fmt"

	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/notes"
)

// MessageLimit is Telegram's maximum text message length.
const MessageLimit = 4096

// DefaultIcon prefixes note titles for sections without their own icon.
const DefaultIcon = "📝"

// Message is a delivery-ready note notification.
type Message struct {
	Title string
	// Body is Telegram-HTML, already truncation-checked against
	// MessageLimit.
	Body string
	// URL opens the note in the configured OneNote client.
	URL string
	// WebURL always opens the note in OneNote on the web.
	WebURL string
	// ImageURL is the note's preview image resource, empty when the
	// note has none.
	ImageURL string
}

// BuildNote assembles the outgoing message for a selected note. The
// full converted body is used unless the note carries a preview image
// or the body would overflow the message limit; both fall back to the
// preview text, matching how much fits alongside a photo.
func BuildNote(note *notes.Note, content string, sc config.SectionConfig, linkClient string) Message {
	icon := sc.Icon
	if icon == "" {
		icon = DefaultIcon
	}

	converted := Convert(content)

	imageURL := ""
	if note.Preview.Links.PreviewImageURL != nil {
		imageURL = note.Preview.Links.PreviewImageURL.Href
	}
	if imageURL == "" {
		imageURL = converted.FirstImage
	}

	msg := Message{
		Title:    fmt.Sprintf("%s %s", icon, escape(note.Page.Title)),
		Body:     converted.Text,
		WebURL:   note.Page.Links.OneNoteWebURL.Href,
		ImageURL: imageURL,
	}

	msg.URL = msg.WebURL
	if linkClient == "Client" && note.Page.Links.OneNoteClientURL.Href != "" {
		msg.URL = note.Page.Links.OneNoteClientURL.Href
	}

	if imageURL != "" || len(msg.Title)+len(msg.Body) > MessageLimit {
		msg.Body = escape(note.Preview.PreviewText)
	}
	return msg
}

// text renders the plain-message layout: linked bold title, blank
// line, body.
func (m Message) text() string {
	title := m.Title
	if m.WebURL != "" {
		title = fmt.Sprintf(`<a href="%s">%s</a>`, escape(m.WebURL), m.Title)
	}
	return fmt.Sprintf("<b>%s</b>\n\n%s", title, m.Body)
}

// caption renders the photo-caption layout: bold title plus a link to
// the full note.
func (m Message) caption() string {
	return fmt.Sprintf("<b>%s</b>\n<a href=\"%s\">See entire note</a>", m.Title, escape(m.WebURL))
}
