package payload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FetchError reports a data file that could not be loaded: either the
// server answered outside the 2xx range or the body was not valid JSON.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to load %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("failed to load %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Loader fetches the payload from a site over HTTP.
type Loader struct {
	BaseURL string
	Path    string
	Client  *http.Client
	Now     func() time.Time
}

// NewLoader returns a loader for the default data path under baseURL.
func NewLoader(baseURL string) *Loader {
	return &Loader{BaseURL: baseURL, Path: DefaultPath}
}

// URL returns the cache-busted resource URL for the given instant.
func (l *Loader) URL(at time.Time) (string, error) {
	base := strings.TrimRight(l.BaseURL, "/")
	path := l.Path
	if path == "" {
		path = DefaultPath
	}
	u, err := url.Parse(base + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(at.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Load issues exactly one request for the data file. There is no retry.
func (l *Loader) Load(ctx context.Context) (*Payload, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	target, err := l.URL(now())
	if err != nil {
		return nil, &FetchError{URL: l.BaseURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: target, Status: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	p, err := Decode(b)
	if err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	return p, nil
}
