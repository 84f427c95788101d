package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/notifyer/notifyer/internal/errors"
	"github.com/notifyer/notifyer/internal/logging"
)

// DefaultRoot is the Graph API root for the signed-in user's OneNote
// resources.
const DefaultRoot = "https://graph.microsoft.com/v1.0/me"

const requestTimeout = 2 * time.Minute

// Section identifies a OneNote section and the endpoint listing its
// pages.
type Section struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PagesURL    string `json:"pagesUrl"`
	ParentNotebook struct {
		DisplayName string `json:"displayName"`
		SectionsURL string `json:"sectionsUrl"`
	} `json:"parentNotebook"`
}

// Page is a OneNote page listing entry.
type Page struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Self  string    `json:"self"`
	Links PageLinks `json:"links"`
}

// PageLinks holds the page's external open-in links.
type PageLinks struct {
	OneNoteClientURL Link `json:"oneNoteClientUrl"`
	OneNoteWebURL    Link `json:"oneNoteWebUrl"`
}

type Link struct {
	Href string `json:"href"`
}

// Preview is the page preview: plain text plus an optional preview
// image resource URL.
type Preview struct {
	PreviewText string `json:"previewText"`
	Links       struct {
		PreviewImageURL *Link `json:"previewImageUrl"`
	} `json:"links"`
}

// Client talks to the Microsoft Graph OneNote API. Requests carry the
// bearer token through the oauth2 transport.
type Client struct {
	httpClient    *http.Client
	root          string
	maxImageBytes int64
	logger        *logging.Logger
}

// NewClient builds a Graph client authenticated with the given access
// token. The root defaults to the v1.0 /me resource tree.
func NewClient(accessToken, root string, maxImageBytes int64, logger *logging.Logger) *Client {
	if root == "" {
		root = DefaultRoot
	}
	if maxImageBytes <= 0 {
		maxImageBytes = 3 << 20
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = requestTimeout

	return &Client{
		httpClient:    hc,
		root:          strings.TrimSuffix(root, "/"),
		maxImageBytes: maxImageBytes,
		logger:        logger,
	}
}

// SetHTTPClient overrides the HTTP client, dropping the token
// transport. Used in tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Section resolves the named section inside the named notebook.
// Section names are not unique across notebooks, so the listing is
// filtered by display name and then matched on the parent notebook.
func (c *Client) Section(ctx context.Context, notebook, name string) (*Section, error) {
	q := url.Values{}
	// OData string literals escape a single quote by doubling it.
	q.Set("$filter", fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''")))
	q.Set("$select", "id,pagesUrl,displayName")
	q.Set("$expand", "parentNotebook($select=displayName,sectionsUrl)")

	var listing struct {
		Value []Section `json:"value"`
	}
	if err := c.getJSON(ctx, c.root+"/onenote/sections?"+q.Encode(), &listing); err != nil {
		return nil, err
	}

	for i := range listing.Value {
		if listing.Value[i].ParentNotebook.DisplayName == notebook {
			c.logger.DebugWithContext(ctx, "section resolved",
				"notebook", notebook, "section", name, "id", listing.Value[i].ID)
			return &listing.Value[i], nil
		}
	}
	return nil, &apperrors.ErrSectionNotFound{Notebook: notebook, Section: name}
}

// PageCount returns the number of pages in the section.
func (c *Client) PageCount(ctx context.Context, section *Section) (int, error) {
	q := url.Values{}
	q.Set("$select", "title")
	q.Set("$count", "true")
	q.Set("$top", "100")

	var listing struct {
		Count int `json:"@odata.count"`
	}
	if err := c.getJSON(ctx, section.PagesURL+"?"+q.Encode(), &listing); err != nil {
		return 0, err
	}
	return listing.Count, nil
}

// Pages lists pages in the section ordered by title then creation
// time, with the given window. top <= 0 means no explicit limit.
func (c *Client) Pages(ctx context.Context, section *Section, top, skip int) ([]Page, error) {
	q := url.Values{}
	q.Set("$select", "title,links,self,id")
	q.Set("$count", "true")
	q.Set("$orderby", "title,createdDateTime")
	if top > 0 {
		q.Set("$top", fmt.Sprintf("%d", top))
	}
	if skip > 0 {
		q.Set("$skip", fmt.Sprintf("%d", skip))
	}

	var listing struct {
		Value []Page `json:"value"`
	}
	if err := c.getJSON(ctx, section.PagesURL+"?"+q.Encode(), &listing); err != nil {
		return nil, err
	}
	return listing.Value, nil
}

// Preview fetches the page preview text and optional preview image.
func (c *Client) Preview(ctx context.Context, page *Page) (*Preview, error) {
	var preview Preview
	if err := c.getJSON(ctx, page.Self+"/preview", &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// Content fetches the page body as OneNote HTML.
func (c *Client) Content(ctx context.Context, page *Page) (string, error) {
	resp, err := c.get(ctx, page.Self+"/content")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ImageSize reports the byte size of a Graph image resource without
// downloading the body. A size of 0 means the provider did not report
// one.
func (c *Client) ImageSize(ctx context.Context, imageURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.resourceURL(imageURL), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}
	return resp.ContentLength, nil
}

// DownloadImage fetches a Graph image resource, refusing bodies over
// the configured cap.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := c.get(ctx, c.resourceURL(imageURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > c.maxImageBytes {
		return nil, &apperrors.ErrImageTooLarge{Size: resp.ContentLength, Max: c.maxImageBytes}
	}

	// Cap the read one byte past the limit so oversized bodies with no
	// Content-Length are still rejected.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxImageBytes {
		return nil, &apperrors.ErrImageTooLarge{Size: int64(len(body)), Max: c.maxImageBytes}
	}

	c.logger.DebugWithContext(ctx, "image downloaded", "bytes", len(body))
	return body, nil
}

// resourceURL rebases absolute Graph URLs onto the configured root so
// tests and alternate clouds resolve against the right host.
func (c *Client) resourceURL(raw string) string {
	const publicRoot = "https://graph.microsoft.com/v1.0"
	if strings.HasPrefix(raw, publicRoot) {
		base := strings.TrimSuffix(c.root, "/me")
		return base + strings.TrimPrefix(raw, publicRoot)
	}
	return raw
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
