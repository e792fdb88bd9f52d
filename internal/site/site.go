package site

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("site: unsupported URL scheme")

// DefaultCacheSize is used when NewResolver is given a non-positive size.
const DefaultCacheSize = 512

// Hostname normalizes a page URL to the key used for limits: the host is
// lowercased, a leading "www." is stripped and port, path and query are
// discarded.
func Hostname(rawURL string) (string, error) {
	if !IsTrackable(rawURL) {
		return "", ErrUnsupportedScheme
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("URL has no host: %s", rawURL)
	}

	return strings.TrimPrefix(host, "www."), nil
}

// IsTrackable reports whether the URL uses http or https.
func IsTrackable(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Key normalizes a site name typed by a user ("WWW.Example.com",
// "example.com/feed", "https://example.com") to a limits key.
func Key(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("site name is empty")
	}
	if !IsTrackable(name) {
		name = "https://" + name
	}
	return Hostname(name)
}

// Resolver caches URL to hostname normalization. Tabs report the same
// URLs over and over, so the parse is only done once per URL.
type Resolver struct {
	cache *lru.Cache[string, string]
}

// NewResolver creates a resolver holding up to size URLs.
func NewResolver(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create hostname cache: %w", err)
	}

	return &Resolver{cache: cache}, nil
}

// Hostname is the cached form of the package-level Hostname.
func (r *Resolver) Hostname(rawURL string) (string, error) {
	if host, ok := r.cache.Get(rawURL); ok {
		return host, nil
	}

	host, err := Hostname(rawURL)
	if err != nil {
		return "", err
	}

	r.cache.Add(rawURL, host)
	return host, nil
}

// Len returns the number of cached URLs.
func (r *Resolver) Len() int {
	return r.cache.Len()
}
