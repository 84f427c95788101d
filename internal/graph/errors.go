package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Well-known Graph error codes the caller reacts to.
const (
	CodeInvalidToken    = "InvalidAuthenticationToken"
	CodeTooManyRequests = "TooManyRequests"
	CodeItemNotFound    = "ItemNotFound"
)

// Error is a Graph API error response.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("graph: unexpected status %d", e.StatusCode)
}

// AuthFailed reports whether the access token was rejected, meaning a
// refresh (or login) is needed before retrying.
func (e *Error) AuthFailed() bool {
	return e.Code == CodeInvalidToken || e.StatusCode == http.StatusUnauthorized
}

// RateLimited reports whether the provider throttled the request.
func (e *Error) RateLimited() bool {
	return e.Code == CodeTooManyRequests || e.StatusCode == http.StatusTooManyRequests
}

// NotFound reports whether the requested resource does not exist.
func (e *Error) NotFound() bool {
	return e.Code == CodeItemNotFound || e.StatusCode == http.StatusNotFound
}

// statusError decodes the Graph error envelope from a non-200
// response. The body shape is {"error":{"code":...,"message":...}}.
func statusError(resp *http.Response) *Error {
	gerr := &Error{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return gerr
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		gerr.Code = envelope.Error.Code
		gerr.Message = envelope.Error.Message
	}
	return gerr
}
