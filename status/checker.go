// Package status serves the polling reads: current case records with
// their summaries attached, validated on the way out. A complete case
// whose summary is missing or malformed is sent back through the
// pipeline once; a second malformed summary is recorded as persistent
// corruption.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/alert"
	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/store"
)

type Checker struct {
	store       *store.Store
	searchQueue *queue.Queue
	alerter     *alert.Alerter
	logger      logrus.FieldLogger

	now func() time.Time // test seam
}

func NewChecker(st *store.Store, searchQueue *queue.Queue, alerter *alert.Alerter, logger logrus.FieldLogger) *Checker {
	return &Checker{
		store:       st,
		searchQueue: searchQueue,
		alerter:     alerter,
		logger:      logger,
		now:         time.Now,
	}
}

// GetCasesStatus returns the current pipeline view of the given cases.
// Unknown case numbers are absent from the result. Complete cases get
// their summary validated; corruption triggers at most one
// reprocessing run before the case is marked failed.
func (c *Checker) GetCasesStatus(ctx context.Context, caseNumbers []string, userID, userAgent string) (map[string]zipcase.SearchResult, error) {
	records, err := c.store.GetCases(ctx, caseNumbers)
	if err != nil {
		return nil, fmt.Errorf("loading cases: %w", err)
	}

	results := make(map[string]zipcase.SearchResult, len(records))
	for cn, zc := range records {
		result, err := c.checkCase(ctx, zc, userID, userAgent)
		if err != nil {
			return nil, err
		}
		results[cn] = result
	}
	return results, nil
}

// GetCaseStatus is the single-case variant. nil means the case was
// never seen.
func (c *Checker) GetCaseStatus(ctx context.Context, caseNumber, userID, userAgent string) (*zipcase.SearchResult, error) {
	results, err := c.GetCasesStatus(ctx, []string{caseNumber}, userID, userAgent)
	if err != nil {
		return nil, err
	}
	result, ok := results[caseNumber]
	if !ok {
		return nil, nil
	}
	return &result, nil
}

func (c *Checker) checkCase(ctx context.Context, zc zipcase.ZipCase, userID, userAgent string) (zipcase.SearchResult, error) {
	if zc.FetchStatus.Status != zipcase.StatusComplete {
		return zipcase.SearchResult{ZipCase: zc}, nil
	}

	summary, present, err := c.store.GetSummary(ctx, zc.CaseNumber)
	if err != nil {
		return zipcase.SearchResult{}, fmt.Errorf("loading summary for %s: %w", zc.CaseNumber, err)
	}
	if present && summary.WellFormed() {
		return zipcase.SearchResult{ZipCase: zc, CaseSummary: summary}, nil
	}

	updated, err := c.handleCorruption(ctx, zc, userID, userAgent)
	if err != nil {
		return zipcase.SearchResult{}, err
	}
	return zipcase.SearchResult{ZipCase: updated}, nil
}

// handleCorruption runs when a complete case has no usable summary.
// The first detection deletes the summary and sends the case back
// through resolve; a detection after a reprocessing run already
// happened records persistent corruption instead.
func (c *Checker) handleCorruption(ctx context.Context, zc zipcase.ZipCase, userID, userAgent string) (zipcase.ZipCase, error) {
	log := c.logger.WithField("caseNumber", zc.CaseNumber)

	if zc.ReprocessTryCount >= 1 {
		// the conditional write makes the ERROR alert fire exactly once
		// even when polls race
		won, err := c.store.TryTransition(ctx, zc.CaseNumber,
			zipcase.Failed(zipcase.MsgPersistentCorruption), "", zipcase.StatusComplete)
		if err != nil {
			return zc, fmt.Errorf("recording persistent corruption for %s: %w", zc.CaseNumber, err)
		}
		if won {
			log.Error("summary is still malformed after reprocessing")
			c.alerter.Fire(alert.Alert{
				Category:   alert.CategoryDatabase,
				Severity:   alert.SeverityError,
				Message:    "case summary corrupt after reprocessing",
				UserID:     userID,
				CaseNumber: zc.CaseNumber,
			})
		}
		zc.FetchStatus = zipcase.Failed(zipcase.MsgPersistentCorruption)
		return zc, nil
	}

	if err := c.store.DeleteSummary(ctx, zc.CaseNumber); err != nil {
		return zc, fmt.Errorf("deleting corrupt summary for %s: %w", zc.CaseNumber, err)
	}

	tryCount := zc.ReprocessTryCount + 1
	now := c.now().UTC()
	zc.FetchStatus = zipcase.Reprocessing(tryCount)
	zc.ReprocessTryCount = tryCount
	zc.LastUpdated = &now
	if err := c.store.PutCase(ctx, zc); err != nil {
		return zc, fmt.Errorf("marking %s for reprocessing: %w", zc.CaseNumber, err)
	}

	log.WithField("tryCount", tryCount).Warn("summary corrupt, sending case back through the pipeline")
	c.alerter.Fire(alert.Alert{
		Category:   alert.CategoryDatabase,
		Severity:   alert.SeverityWarning,
		Message:    "corrupt case summary detected, reprocessing",
		UserID:     userID,
		CaseNumber: zc.CaseNumber,
	})

	err := c.searchQueue.Enqueue(ctx, queue.NewResolveJob(queue.ResolveJob{
		CaseNumber: zc.CaseNumber,
		UserID:     userID,
		UserAgent:  userAgent,
	}))
	if err != nil {
		return zc, fmt.Errorf("re-enqueueing %s: %w", zc.CaseNumber, err)
	}
	return zc, nil
}

// NameSearchStatus is the poll view of a name search: the search entry
// plus the current state of every case it discovered.
type NameSearchStatus struct {
	zipcase.NameSearchData
	Results map[string]zipcase.SearchResult `json:"results"`
}

// GetNameSearchStatus returns nil when the search id is unknown or its
// entry expired.
func (c *Checker) GetNameSearchStatus(ctx context.Context, searchID, userID, userAgent string) (*NameSearchStatus, error) {
	data, err := c.store.GetNameSearch(ctx, searchID)
	if err != nil {
		return nil, fmt.Errorf("loading name search %s: %w", searchID, err)
	}
	if data == nil {
		return nil, nil
	}

	results := map[string]zipcase.SearchResult{}
	if len(data.Cases) > 0 {
		results, err = c.GetCasesStatus(ctx, data.Cases, userID, userAgent)
		if err != nil {
			return nil, err
		}
	}
	return &NameSearchStatus{NameSearchData: *data, Results: results}, nil
}
