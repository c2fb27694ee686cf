package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiesman99/zoomtile/internal/logging"
)

// DefaultUserAgent is sent with every download.
const DefaultUserAgent = "zoomtile/1.0.0"

// maxDownload caps the body read for one image.
const maxDownload = 512 << 20

// FetchError reports a failed image download.
type FetchError struct {
	URL        string
	StatusCode *int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != nil {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, *e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher downloads remote images.
type Fetcher struct {
	client    *http.Client
	UserAgent string
	Headers   map[string]string
}

// NewFetcher returns a Fetcher using client, or a client with a 30s timeout
// when client is nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, UserAgent: DefaultUserAgent}
}

// Fetch downloads url and decodes it into a Memory source.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Memory, error) {
	data, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	b := m.Image().Bounds()
	logging.Logger().Info("source: fetched image", "url", url, "bytes", len(data), "width", b.Dx(), "height", b.Dy())
	return m, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.UserAgent)
	for key, value := range f.Headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := resp.StatusCode
		return nil, &FetchError{URL: url, StatusCode: &code, Err: fmt.Errorf("%s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if len(data) > maxDownload {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("image larger than %d bytes", maxDownload)}
	}
	return data, nil
}
