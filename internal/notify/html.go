package notify

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Converted is the result of flattening a OneNote page body into the
// tag subset Telegram accepts.
type Converted struct {
	// Text is Telegram-HTML: <b>, <i>, <u>, <code>, <pre> and <a> only,
	// with everything else escaped.
	Text string
	// FirstImage is the src of the first image encountered, usually a
	// Graph resource URL. Images themselves are stripped from Text.
	FirstImage string
}

// Convert flattens OneNote page HTML for Telegram. OneNote expresses
// formatting through inline styles on spans rather than semantic tags,
// so styles are inspected alongside tag names. Unparsable input
// degrades to an empty body rather than failing the delivery.
func Convert(raw string) Converted {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Converted{}
	}

	c := &converter{}
	c.walk(doc)

	return Converted{
		Text:       tidy(c.out.String()),
		FirstImage: c.firstImage,
	}
}

type converter struct {
	out        strings.Builder
	firstImage string
	inPre      bool
}

func (c *converter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		c.out.WriteString(escape(n.Data))
		return
	case html.ElementNode:
		c.element(n)
		return
	}
	c.children(n)
}

func (c *converter) children(n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child)
	}
}

func (c *converter) element(n *html.Node) {
	style := attr(n, "style")

	switch {
	case n.Data == "img":
		if c.firstImage == "" {
			c.firstImage = attr(n, "src")
		}
	case n.Data == "br":
		c.out.WriteString("\n")
	case n.Data == "title", n.Data == "head", n.Data == "style", n.Data == "script":
		// Page metadata never reaches the message.
	case n.Data == "a":
		if href := attr(n, "href"); href != "" {
			c.out.WriteString(`<a href="` + escape(href) + `">`)
			c.children(n)
			c.out.WriteString("</a>")
		} else {
			c.children(n)
		}
	case n.Data == "b" || n.Data == "strong" || hasStyle(style, "font-weight", "bold", "600", "700"):
		c.wrap(n, "b")
	case n.Data == "i" || n.Data == "em" || hasStyle(style, "font-style", "italic"):
		c.wrap(n, "i")
	case n.Data == "u" || hasStyle(style, "text-decoration", "underline"):
		c.wrap(n, "u")
	case monospaced(style):
		if c.inPre {
			c.children(n)
		} else {
			c.inPre = true
			c.wrap(n, "pre")
			c.inPre = false
		}
	case hasStyleName(style, "background-color"), hasStyleName(style, "background"):
		// Highlighted runs come through as code so they stand out.
		c.wrap(n, "code")
	case n.Data == "li":
		c.out.WriteString("• ")
		c.children(n)
		c.out.WriteString("\n")
	case blockElement(n.Data):
		c.children(n)
		c.out.WriteString("\n")
	default:
		c.children(n)
	}
}

func (c *converter) wrap(n *html.Node, tag string) {
	c.out.WriteString("<" + tag + ">")
	c.children(n)
	c.out.WriteString("</" + tag + ">")
}

func blockElement(name string) bool {
	switch name {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "table", "tr":
		return true
	}
	return false
}

// monospaced detects OneNote code runs, which carry a monospace font
// family instead of a code tag.
func monospaced(style string) bool {
	return hasStyle(style, "font-family", "consolas", "courier", "monospace")
}

// hasStyle reports whether the inline style sets the property to any
// of the given values.
func hasStyle(style, property string, values ...string) bool {
	value, ok := styleValue(style, property)
	if !ok {
		return false
	}
	for _, want := range values {
		if strings.Contains(value, want) {
			return true
		}
	}
	return false
}

func hasStyleName(style, property string) bool {
	_, ok := styleValue(style, property)
	return ok
}

func styleValue(style, property string) (string, bool) {
	for _, decl := range strings.Split(style, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(strings.ToLower(name)) == property {
			return strings.ToLower(strings.TrimSpace(value)), true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func escape(s string) string {
	return html.EscapeString(s)
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// tidy collapses runs of blank lines and trims the edges.
func tidy(s string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}
