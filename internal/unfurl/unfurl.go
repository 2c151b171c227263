// Package unfurl resolves link-preview metadata for URLs pasted onto the
// canvas. Stateless: no room coordination, no persistence.
package unfurl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	fetchTimeout  = 8 * time.Second
	userAgent     = "Mozilla/5.0 (compatible; canvas-backend/1.0)"
	maxBodyBytes  = 2 << 20
	acceptedTypes = "text/html"
)

var (
	// ErrInvalidURL indicates a missing, relative or non-http(s) URL.
	ErrInvalidURL = errors.New("unfurl: invalid url")
	// ErrFetchFailed indicates the target page could not be retrieved.
	ErrFetchFailed = errors.New("unfurl: fetch failed")

	noOpLogger = zap.NewNop()
)

// Metadata is the preview extracted from a page.
type Metadata struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

// Resolver fetches pages and extracts preview metadata.
type Resolver struct {
	client *http.Client
	logger *zap.Logger
}

// NewResolver returns a resolver with a bounded HTTP client.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

// Resolve validates the URL, fetches the page and extracts title,
// description, preview image and favicon.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Metadata, error) {
	pageURL, err := parsePageURL(rawURL)
	if err != nil {
		return Metadata{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), http.NoBody)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("Accept", acceptedTypes)

	response, err := r.client.Do(request)
	if err != nil {
		r.logger.Warn("unfurl fetch failed", zap.String("url", pageURL.String()), zap.Error(err))
		return Metadata{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("%w: status %d", ErrFetchFailed, response.StatusCode)
	}

	page, err := goquery.NewDocumentFromReader(http.MaxBytesReader(nil, response.Body, maxBodyBytes))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	return extract(pageURL, page), nil
}

func parsePageURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	pageURL, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, pageURL.Scheme)
	}
	if pageURL.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return pageURL, nil
}

func extract(pageURL *url.URL, page *goquery.Document) Metadata {
	meta := Metadata{URL: pageURL.String()}

	meta.Title = firstNonEmpty(
		metaContent(page, `meta[property="og:title"]`),
		metaContent(page, `meta[name="twitter:title"]`),
		strings.TrimSpace(page.Find("title").First().Text()),
	)
	meta.Description = firstNonEmpty(
		metaContent(page, `meta[property="og:description"]`),
		metaContent(page, `meta[name="description"]`),
	)
	meta.Image = resolveReference(pageURL, firstNonEmpty(
		metaContent(page, `meta[property="og:image"]`),
		metaContent(page, `meta[name="twitter:image"]`),
	))

	favicon, _ := page.Find(`link[rel="icon"], link[rel="shortcut icon"]`).First().Attr("href")
	if favicon == "" {
		favicon = "/favicon.ico"
	}
	meta.Favicon = resolveReference(pageURL, favicon)

	return meta
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func metaContent(page *goquery.Document, selector string) string {
	content, _ := page.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// resolveReference turns relative asset paths into absolute URLs against
// the page URL.
func resolveReference(pageURL *url.URL, reference string) string {
	if reference == "" {
		return ""
	}
	parsed, err := url.Parse(reference)
	if err != nil {
		return ""
	}
	return pageURL.ResolveReference(parsed).String()
}
