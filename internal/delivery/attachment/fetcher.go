// Package attachment fetches remote attachment content and persists it on
// object storage under content-hashed keys.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

const (
	defaultMaxFetchSize = 10 << 20 // 10 MiB
	defaultFetchTimeout = 30 * time.Second
)

var (
	// ErrSchemeNotAllowed is returned for any URL scheme other than http(s).
	ErrSchemeNotAllowed = errors.New("attachment: url scheme not allowed")
	// ErrTooLarge is returned when the response exceeds the size cap.
	ErrTooLarge = errors.New("attachment: content exceeds size limit")
)

// FetchResult is downloaded attachment content with its resolved MIME type.
type FetchResult struct {
	Content     []byte
	ContentType string
	Size        int64
}

// Fetcher downloads attachment content over HTTP with a size cap.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithMaxFetchSize overrides the download size cap.
func WithMaxFetchSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// NewFetcher constructs a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: defaultFetchTimeout},
		maxSize: defaultMaxFetchSize,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads the attachment at rawURL. Only http and https URLs are
// accepted; the scheme check happens before any network I/O. declaredType is
// used when the server does not report a usable content type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, declaredType string) (FetchResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return FetchResult{}, goerror.NewFetch(err, "invalid attachment url", false)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return FetchResult{}, goerror.NewFetch(fmt.Errorf("%w: %s", ErrSchemeNotAllowed, scheme), "attachment url scheme not allowed", false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, goerror.NewFetch(err, "invalid attachment request", false)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, goerror.NewFetch(err, "attachment fetch failed", true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return FetchResult{}, goerror.NewFetch(
			fmt.Errorf("attachment: unexpected status %d", resp.StatusCode),
			"attachment fetch failed",
			retryable,
		)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return FetchResult{}, goerror.NewFetch(err, "attachment read failed", true)
	}
	if int64(len(content)) > f.maxSize {
		return FetchResult{}, goerror.NewFetch(ErrTooLarge, "attachment too large", false)
	}

	return FetchResult{
		Content:     content,
		ContentType: resolveContentType(resp.Header.Get("Content-Type"), declaredType, content),
		Size:        int64(len(content)),
	}, nil
}

// resolveContentType prefers the server-reported type, then the declared one,
// then content sniffing.
func resolveContentType(reported, declared string, content []byte) string {
	reported = strings.TrimSpace(reported)
	if reported != "" && reported != "application/octet-stream" {
		if mediaType, _, ok := strings.Cut(reported, ";"); ok {
			return strings.TrimSpace(mediaType)
		}
		return reported
	}
	if declared != "" {
		return declared
	}

	return http.DetectContentType(content)
}
