package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

// robotsChecker caches parsed robots.txt per host.
type robotsChecker struct {
	cache     *gocache.Cache
	client    *http.Client
	userAgent string
}

func newRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *robotsChecker {
	return &robotsChecker{
		cache:     gocache.New(ttl, 2*ttl),
		client:    client,
		userAgent: userAgent,
	}
}

// allowed reports whether the path may be fetched. An unreachable
// robots.txt allows everything.
func (r *robotsChecker) allowed(ctx context.Context, u *url.URL) bool {
	data, err := r.robots(ctx, u)
	if err != nil {
		return true
	}
	return data.TestAgent(u.Path, productName(r.userAgent))
}

func (r *robotsChecker) robots(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	if v, ok := r.cache.Get(u.Host); ok {
		return v.(*robotstxt.RobotsData), nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	r.cache.SetDefault(u.Host, data)
	return data, nil
}

// productName returns the first token of a user agent without version.
func productName(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.Split(parts[0], "/")[0]
}
