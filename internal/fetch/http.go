package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTP fetcher.
type HTTPOptions struct {
	// UserAgent must carry a contact email.
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// RequestsPerSecond limits requests per host. EDGAR allows 10.
	RequestsPerSecond float64
	Burst             int
	RespectRobots     bool
	// CacheTTL keeps successful responses in memory. Zero disables it.
	CacheTTL time.Duration
	// Observe is called with the outcome of every request: the status
	// code, or "error" for transport failures.
	Observe func(status string)
}

const (
	defaultTimeout  = 60 * time.Second
	defaultMaxBytes = 64 << 20
	defaultRate     = 5
)

var contactEmail = regexp.MustCompile(`[^@\s()<>]+@[^@\s()<>]+\.[A-Za-z]{2,}`)

// ValidUserAgent reports whether ua carries a contact email.
func ValidUserAgent(ua string) bool {
	return contactEmail.MatchString(ua)
}

// HTTP fetches filings over http and https.
type HTTP struct {
	client *http.Client
	opts   HTTPOptions
	robots *robotsChecker
	cache  *gocache.Cache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Fetcher = (*HTTP)(nil)

func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	if !ValidUserAgent(opts.UserAgent) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUserAgent, opts.UserAgent)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	h := &HTTP{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	if opts.RespectRobots {
		h.robots = newRobotsChecker(h.client, opts.UserAgent, time.Hour)
	}
	if opts.CacheTTL > 0 {
		h.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return h, nil
}

func (h *HTTP) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.opts.RequestsPerSecond), h.opts.Burst)
		h.limiters[host] = l
	}
	return l
}

func (h *HTTP) observe(status string) {
	if h.opts.Observe != nil {
		h.opts.Observe(status)
	}
}

func (h *HTTP) Fetch(ctx context.Context, locator string) (*Result, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, locator)
	}

	if h.cache != nil {
		if v, ok := h.cache.Get(locator); ok {
			res := *v.(*Result)
			return &res, nil
		}
	}

	if h.robots != nil && !h.robots.allowed(ctx, u) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, locator)
	}
	if err := h.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", h.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.5")

	resp, err := h.client.Do(req)
	if err != nil {
		h.observe("error")
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()
	h.observe(strconv.Itoa(resp.StatusCode))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &RetryableError{StatusCode: resp.StatusCode, Message: string(msg)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", locator, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > h.opts.MaxBytes {
		return nil, fmt.Errorf("fetch %s: response exceeds %d bytes", locator, h.opts.MaxBytes)
	}

	finalURL := resp.Request.URL.String()
	ct := resp.Header.Get("Content-Type")
	format, err := detect(body, ct, path.Base(resp.Request.URL.Path))
	if err != nil {
		return nil, err
	}

	res := &Result{Data: body, Format: format, ContentType: ct, URL: finalURL}
	if h.cache != nil {
		h.cache.SetDefault(locator, res)
	}
	return res, nil
}
