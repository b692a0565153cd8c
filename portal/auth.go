package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zipcase/zipcase"
)

const invalidLoginSentinel = "Invalid Email or password"

// defaultSessionLifetime is the conservative expiry used when no
// cookie carries one.
const defaultSessionLifetime = 24 * time.Hour

// Login exchanges credentials for a session cookie bundle. The bundle
// expiry is taken from the longest-lived cookie, falling back to 24h.
// A clear portal rejection returns ErrBadCredentials.
func (c *Client) Login(ctx context.Context, creds zipcase.PortalCredentials, userAgent string) (*zipcase.UserSession, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	jar, err := newCookieJar()
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: RequestTimeout, Jar: jar}

	form := url.Values{}
	form.Set("UserName", creds.Username)
	form.Set("Password", creds.Password)

	loginURL := c.baseURL + "/Portal/Account/Login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	defaultHeaders(req, userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortalUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: login status %d", ErrPortalUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading login response: %v", ErrPortalUnavailable, err)
	}
	if strings.Contains(string(body), invalidLoginSentinel) {
		return nil, ErrBadCredentials
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	cookies := jar.Cookies(base)
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: login produced no session cookies", ErrPortalUnavailable)
	}

	var pairs []string
	for _, cookie := range cookies {
		pairs = append(pairs, cookie.Name+"="+cookie.Value)
	}

	// the jar strips cookie attributes, so expiry comes from the final
	// response's Set-Cookie headers
	expiresAt := time.Now().UTC().Add(defaultSessionLifetime)
	for _, cookie := range resp.Cookies() {
		if !cookie.Expires.IsZero() && cookie.Expires.After(expiresAt) {
			expiresAt = cookie.Expires
		}
	}

	return &zipcase.UserSession{
		CookieBundle: strings.Join(pairs, "; "),
		ExpiresAt:    expiresAt,
	}, nil
}
