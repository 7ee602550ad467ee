// Package fetch is the network side of the image loader: it turns a key
// (an http or https URL) into a call whose response body carries the
// encoded image.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUnsupportedKey is returned by NewCall for keys that are not
// absolute http(s) URLs.
var ErrUnsupportedKey = errors.New("fetch: unsupported key")

// Response is the result of a successful call. The caller must close Body.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// Call is a single prepared network request.
type Call interface {
	Execute(ctx context.Context) (*Response, error)
}

// CallFunc adapts a function to Call.
type CallFunc func(ctx context.Context) (*Response, error)

func (f CallFunc) Execute(ctx context.Context) (*Response, error) {
	return f(ctx)
}

// Fetcher builds calls from cache keys.
type Fetcher interface {
	NewCall(key string) (Call, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(key string) (Call, error)

func (f FetcherFunc) NewCall(key string) (Call, error) {
	return f(key)
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fetch: upstream %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch: upstream %d for %s: %s", e.StatusCode, e.URL, e.Body)
}
