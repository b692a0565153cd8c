// Package search holds the request-time orchestrators: turning a
// free-text search into seeded cases plus resolve jobs, and a
// party-name query into a queued name search.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/casenum"
	"github.com/zipcase/zipcase/name"
	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/session"
	"github.com/zipcase/zipcase/store"
)

// FailedRefreshWindow is how old a failed case must be before a new
// search re-queues it instead of coalescing on the recorded failure.
const FailedRefreshWindow = 10 * time.Minute

// ErrUnparseableName is returned when the normalizer cannot make a
// "Last, First" form out of the input.
var ErrUnparseableName = errors.New("unparseable name")

type Processor struct {
	store       *store.Store
	searchQueue *queue.Queue
	auth        *session.Authenticator
	logger      logrus.FieldLogger

	now func() time.Time // test seam
}

func NewProcessor(st *store.Store, searchQueue *queue.Queue, auth *session.Authenticator, logger logrus.FieldLogger) *Processor {
	return &Processor{
		store:       st,
		searchQueue: searchQueue,
		auth:        auth,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessSearch extracts case numbers from input, seeds unknown ones
// as queued, enqueues resolve jobs where the status calls for it and
// returns the current view. An input with no case numbers returns an
// empty result map.
func (p *Processor) ProcessSearch(ctx context.Context, input, userID, userAgent string) (map[string]zipcase.SearchResult, error) {
	caseNumbers := casenum.Extract(input)
	results := make(map[string]zipcase.SearchResult, len(caseNumbers))
	if len(caseNumbers) == 0 {
		return results, nil
	}

	seeded, err := p.EnsureQueued(ctx, caseNumbers, userID, userAgent)
	if err != nil {
		return nil, err
	}
	for cn, zc := range seeded {
		results[cn] = zipcase.SearchResult{ZipCase: zc}
	}
	return results, nil
}

// EnsureQueued seeds unknown case numbers as queued, enqueues resolve
// jobs where the current status calls for it, and returns the records.
// The name-search worker uses it to fan discovered cases into the
// resolve pipeline.
func (p *Processor) EnsureQueued(ctx context.Context, caseNumbers []string, userID, userAgent string) (map[string]zipcase.ZipCase, error) {
	existing, err := p.store.GetCases(ctx, caseNumbers)
	if err != nil {
		return nil, fmt.Errorf("loading cases: %w", err)
	}

	results := make(map[string]zipcase.ZipCase, len(caseNumbers))
	for _, cn := range caseNumbers {
		zc, known := existing[cn]
		if !known {
			now := p.now().UTC()
			zc = zipcase.ZipCase{
				CaseNumber:  cn,
				FetchStatus: zipcase.Queued(),
				LastUpdated: &now,
			}
			if err := p.store.PutCase(ctx, zc); err != nil {
				return nil, fmt.Errorf("seeding case %s: %w", cn, err)
			}
		}

		if p.shouldEnqueue(zc) {
			err := p.searchQueue.Enqueue(ctx, queue.NewResolveJob(queue.ResolveJob{
				CaseNumber: cn,
				UserID:     userID,
				UserAgent:  userAgent,
			}))
			if err != nil {
				return nil, fmt.Errorf("enqueueing resolve for %s: %w", cn, err)
			}
		}

		results[cn] = zc
	}
	return results, nil
}

// shouldEnqueue coalesces on status: only queued cases and failures
// older than the refresh window get a new resolve job. Everything
// in-flight or terminal rides on the existing pipeline run.
func (p *Processor) shouldEnqueue(zc zipcase.ZipCase) bool {
	switch zc.FetchStatus.Status {
	case zipcase.StatusQueued:
		return true
	case zipcase.StatusFailed:
		if zc.LastUpdated == nil {
			return true
		}
		return p.now().Sub(*zc.LastUpdated) > FailedRefreshWindow
	}
	return false
}

// NameSearchRequest is the validated input of a name search.
type NameSearchRequest struct {
	Name         string
	UserID       string
	DateOfBirth  string
	SoundsLike   bool
	CriminalOnly bool
	UserAgent    string
}

// ProcessNameSearch normalizes the name, verifies a portal session can
// be had, seeds the name-search entry and queues the worker job. When
// the session cannot be acquired the entry is created already failed
// so polling surfaces the reason, and no queue work happens.
func (p *Processor) ProcessNameSearch(ctx context.Context, req NameSearchRequest) (string, error) {
	normalized := name.Normalize(req.Name)
	if normalized == "" {
		return "", ErrUnparseableName
	}

	// a date of birth the parser rejects (garbage or in the future) is
	// dropped rather than failing the search
	dob := ""
	if req.DateOfBirth != "" {
		if d, ok := name.ParseDOB(req.DateOfBirth); ok {
			dob = d.Format("2006-01-02")
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	searchID := id.String()

	data := zipcase.NameSearchData{
		SearchID:       searchID,
		OriginalName:   req.Name,
		NormalizedName: normalized,
		DateOfBirth:    dob,
		SoundsLike:     req.SoundsLike,
		CriminalOnly:   req.CriminalOnly,
		Cases:          []string{},
		Status:         zipcase.StatusQueued,
	}

	if _, err := p.auth.GetOrCreateSession(ctx, req.UserID, req.UserAgent); err != nil {
		data.Status = zipcase.StatusFailed
		data.Message = session.FailureMessage(err)
		if putErr := p.store.PutNameSearch(ctx, data); putErr != nil {
			return "", fmt.Errorf("recording failed name search: %w", putErr)
		}
		return searchID, nil
	}

	if err := p.store.PutNameSearch(ctx, data); err != nil {
		return "", fmt.Errorf("seeding name search: %w", err)
	}

	err = p.searchQueue.Enqueue(ctx, queue.NewNameSearchJob(queue.NameSearchJob{
		SearchID:       searchID,
		UserID:         req.UserID,
		NormalizedName: normalized,
		DateOfBirth:    dob,
		SoundsLike:     req.SoundsLike,
		CriminalOnly:   req.CriminalOnly,
		UserAgent:      req.UserAgent,
	}))
	if err != nil {
		return "", fmt.Errorf("enqueueing name search: %w", err)
	}
	return searchID, nil
}
