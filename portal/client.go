// Package portal is the outbound HTTP client for the court portal:
// cookie-based login, Smart Search submission and HTML parsing of the
// results and case detail pages.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"github.com/zipcase/zipcase/metrics"
)

// RequestTimeout bounds every portal GET/POST.
const RequestTimeout = 20 * time.Second

// Failure sentinels. ErrPortalUnavailable is the transient one; the
// rest are terminal for the message that hit them.
var (
	ErrBadCredentials    = errors.New("portal rejected credentials")
	ErrPortalUnavailable = errors.New("portal unavailable")
	ErrPortalBusy        = errors.New("portal is having trouble processing searches")
	ErrSessionExpired    = errors.New("portal session expired")
)

// IsTransient reports whether the error should be retried via queue
// redelivery rather than recorded as a terminal failure.
func IsTransient(err error) bool {
	if errors.Is(err, ErrPortalUnavailable) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Session is the cookie bundle a logged-in user presents on every
// portal request.
type Session struct {
	CookieBundle string
	UserAgent    string
}

type Client struct {
	baseURL     string
	caseURLBase string
	http        *http.Client
	logger      logrus.FieldLogger
}

// New builds a client. baseURL is PORTAL_URL; caseURLBase is
// PORTAL_CASE_URL (the detail-page prefix the caseId is appended to).
func New(baseURL, caseURLBase string, logger logrus.FieldLogger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		caseURLBase: strings.TrimRight(caseURLBase, "/"),
		http: &http.Client{
			Timeout: RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// surface login redirects instead of following them
				if isLoginPath(req.URL.Path) {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger,
	}
}

func isLoginPath(p string) bool {
	return strings.Contains(strings.ToLower(p), "/account/login")
}

// defaultHeaders is the stable header set every portal request
// carries; the user agent rotates per user.
func defaultHeaders(req *http.Request, userAgent string) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
}

func (c *Client) do(ctx context.Context, method, rawURL string, session *Session, form url.Values) ([]byte, *http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	defaultHeaders(req, session.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if session.CookieBundle != "" {
		req.Header.Set("Cookie", session.CookieBundle)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.PortalRequests.WithLabelValues("unreachable").Inc()
		return nil, nil, fmt.Errorf("%w: %v", ErrPortalUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		metrics.PortalRequests.WithLabelValues("server_error").Inc()
		return nil, resp, fmt.Errorf("%w: status %d", ErrPortalUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		if loc := resp.Header.Get("Location"); loc != "" && isLoginPath(loc) {
			metrics.PortalRequests.WithLabelValues("login_redirect").Inc()
			return nil, resp, ErrSessionExpired
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.PortalRequests.WithLabelValues("read_error").Inc()
		return nil, resp, fmt.Errorf("%w: reading body: %v", ErrPortalUnavailable, err)
	}
	metrics.PortalRequests.WithLabelValues("ok").Inc()
	return body, resp, nil
}

// newCookieJar is used by login so that the full redirect dance can
// accumulate cookies before they are flattened into a bundle.
func newCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}
