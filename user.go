package zipcase

import "time"

// PortalCredentials are a user's portal login. Username and password
// are sealed at rest by the store; in memory they are plaintext.
// IsBad is set on a clear portal rejection and blocks further login
// attempts until the user saves new credentials.
type PortalCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsBad    bool   `json:"isBad"`
}

// SessionExpiryMargin is how close to expiry a session may be before
// the authenticator refuses to reuse it.
const SessionExpiryMargin = time.Hour

// UserSession is the cookie bundle from a successful portal login.
type UserSession struct {
	CookieBundle string    `json:"cookieBundle"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ExpiredWithin reports whether the session will be expired margin
// from now (now + margin >= expiresAt).
func (s *UserSession) ExpiredWithin(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}
