// Package session acquires portal sessions per user: it reuses the
// stored cookie bundle while it has more than an hour left, otherwise
// logs in with the stored credentials. Concurrent callers for the
// same user coalesce onto a single login attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/portal"
	"github.com/zipcase/zipcase/store"
)

// Failure sentinels for callers that translate into FetchStatus
// messages.
var (
	ErrNoCredentials  = errors.New("user has no portal credentials")
	ErrBadCredentials = errors.New("portal credentials are marked bad")
)

// FailureMessage maps an authenticator error onto the client-visible
// failure taxonomy.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return zipcase.MsgNoCredentials
	case errors.Is(err, ErrBadCredentials), errors.Is(err, portal.ErrBadCredentials):
		return zipcase.MsgBadCredentials
	default:
		return zipcase.MsgPortalUnavailable
	}
}

type Authenticator struct {
	store  *store.Store
	portal *portal.Client
	logger logrus.FieldLogger
	flight singleflight.Group

	now func() time.Time // test seam
}

func New(st *store.Store, pc *portal.Client, logger logrus.FieldLogger) *Authenticator {
	return &Authenticator{store: st, portal: pc, logger: logger, now: time.Now}
}

// GetOrCreateSession returns a usable portal session for the user.
// The stored session is reused when it has more than
// zipcase.SessionExpiryMargin left; otherwise a login runs, with at
// most one in flight per user.
func (a *Authenticator) GetOrCreateSession(ctx context.Context, userID, userAgent string) (*portal.Session, error) {
	stored, err := a.store.GetSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading session for %s: %w", userID, err)
	}
	if stored != nil && !stored.ExpiredWithin(a.now(), zipcase.SessionExpiryMargin) {
		return &portal.Session{CookieBundle: stored.CookieBundle, UserAgent: userAgent}, nil
	}

	result, err, _ := a.flight.Do(userID, func() (interface{}, error) {
		return a.login(ctx, userID, userAgent)
	})
	if err != nil {
		return nil, err
	}
	session := result.(*zipcase.UserSession)
	return &portal.Session{CookieBundle: session.CookieBundle, UserAgent: userAgent}, nil
}

// Refresh drops the stored session and logs in again; workers call it
// after the portal answers with a login redirect.
func (a *Authenticator) Refresh(ctx context.Context, userID, userAgent string) (*portal.Session, error) {
	result, err, _ := a.flight.Do(userID, func() (interface{}, error) {
		return a.login(ctx, userID, userAgent)
	})
	if err != nil {
		return nil, err
	}
	session := result.(*zipcase.UserSession)
	return &portal.Session{CookieBundle: session.CookieBundle, UserAgent: userAgent}, nil
}

func (a *Authenticator) login(ctx context.Context, userID, userAgent string) (*zipcase.UserSession, error) {
	creds, err := a.store.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials for %s: %w", userID, err)
	}
	if creds == nil {
		return nil, ErrNoCredentials
	}
	if creds.IsBad {
		return nil, ErrBadCredentials
	}

	session, err := a.portal.Login(ctx, *creds, userAgent)
	if err != nil {
		if errors.Is(err, portal.ErrBadCredentials) {
			if markErr := a.store.MarkCredentialsBad(ctx, userID, true); markErr != nil {
				a.logger.WithField("userId", userID).WithError(markErr).
					Error("failed to mark credentials bad")
			}
		}
		return nil, err
	}

	if err := a.store.MarkCredentialsBad(ctx, userID, false); err != nil {
		a.logger.WithField("userId", userID).WithError(err).
			Warn("failed to clear isBad after successful login")
	}
	if err := a.store.SaveSession(ctx, userID, *session); err != nil {
		return nil, fmt.Errorf("persisting session for %s: %w", userID, err)
	}
	return session, nil
}
