package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/alert"
	"github.com/zipcase/zipcase/casenum"
	"github.com/zipcase/zipcase/portal"
	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/search"
	"github.com/zipcase/zipcase/session"
	"github.com/zipcase/zipcase/store"
)

// NameSearchWorker expands a queued party-name search into case
// numbers and fans them into the resolve pipeline.
type NameSearchWorker struct {
	store     *store.Store
	portal    *portal.Client
	auth      *session.Authenticator
	processor *search.Processor
	alerter   *alert.Alerter
	logger    logrus.FieldLogger

	maxDeliveries int
}

func NewNameSearchWorker(st *store.Store, pc *portal.Client, auth *session.Authenticator, processor *search.Processor, searchQueue *queue.Queue, alerter *alert.Alerter, logger logrus.FieldLogger) *NameSearchWorker {
	return &NameSearchWorker{
		store:         st,
		portal:        pc,
		auth:          auth,
		processor:     processor,
		alerter:       alerter,
		logger:        logger,
		maxDeliveries: searchQueue.MaxDeliveries,
	}
}

func (w *NameSearchWorker) Handle(ctx context.Context, msg *queue.Message) Result {
	job := msg.Job.NameSearch
	if job == nil {
		w.logger.WithField("messageId", msg.ID).Error("nameSearch message without payload")
		return Done
	}
	log := w.logger.WithField("searchId", job.SearchID).WithField("userId", job.UserID)

	data, err := w.store.GetNameSearch(ctx, job.SearchID)
	if err != nil {
		log.WithError(err).Error("loading name search failed")
		return Retry
	}
	if data == nil {
		log.Warn("name search entry expired before the worker got to it")
		return Done
	}

	if msg.Exhausted(w.maxDeliveries) {
		if res := w.fail(ctx, log, job, data, zipcase.MsgMaxAttempts, alert.CategorySystem, nil); res != Done {
			return res
		}
		return Done
	}

	data.Status = zipcase.StatusProcessing
	data.Message = ""
	if err := w.store.PutNameSearch(ctx, *data); err != nil {
		log.WithError(err).Error("failed to mark name search processing")
		return Retry
	}

	sess, err := w.auth.GetOrCreateSession(ctx, job.UserID, job.UserAgent)
	if err != nil {
		return w.fail(ctx, log, job, data, session.FailureMessage(err), alert.CategoryAuth, err)
	}

	params := portal.NameSearchParams{
		NormalizedName: job.NormalizedName,
		DateOfBirth:    job.DateOfBirth,
		SoundsLike:     job.SoundsLike,
		CriminalOnly:   job.CriminalOnly,
	}
	links, err := w.portal.SearchByName(ctx, sess, params)
	if errors.Is(err, portal.ErrSessionExpired) {
		sess, err = w.auth.Refresh(ctx, job.UserID, job.UserAgent)
		if err != nil {
			return w.fail(ctx, log, job, data, session.FailureMessage(err), alert.CategoryAuth, err)
		}
		links, err = w.portal.SearchByName(ctx, sess, params)
	}
	switch {
	case errors.Is(err, portal.ErrPortalBusy):
		return w.fail(ctx, log, job, data, zipcase.MsgPortalBusy, alert.CategoryPortal, err)
	case portal.IsTransient(err):
		log.WithError(err).Warn("portal unavailable, returning message for redelivery")
		return Retry
	case err != nil:
		return w.fail(ctx, log, job, data, zipcase.MsgInternal, alert.CategoryPortal, err)
	}

	cases := canonicalCaseNumbers(links)
	if len(cases) > 0 {
		if _, err := w.processor.EnsureQueued(ctx, cases, job.UserID, job.UserAgent); err != nil {
			log.WithError(err).Error("failed to queue discovered cases")
			return Retry
		}
	}

	data.Status = zipcase.StatusComplete
	data.Message = ""
	data.Cases = cases
	if err := w.store.PutNameSearch(ctx, *data); err != nil {
		log.WithError(err).Error("failed to record name search result")
		return Retry
	}
	log.WithField("cases", len(cases)).Info("name search complete")
	return Done
}

// canonicalCaseNumbers maps the portal's display numbers onto the
// canonical form the case records are keyed by, preserving order and
// dropping duplicates.
func canonicalCaseNumbers(links []portal.CaseLink) []string {
	cases := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		cn := strings.ToUpper(strings.TrimSpace(link.CaseNumber))
		if extracted := casenum.Extract(link.CaseNumber); len(extracted) > 0 {
			cn = extracted[0]
		}
		if cn == "" {
			continue
		}
		if _, dup := seen[cn]; dup {
			continue
		}
		seen[cn] = struct{}{}
		cases = append(cases, cn)
	}
	return cases
}

func (w *NameSearchWorker) fail(ctx context.Context, log logrus.FieldLogger, job *queue.NameSearchJob, data *zipcase.NameSearchData, msg string, cat alert.Category, cause error) Result {
	data.Status = zipcase.StatusFailed
	data.Message = msg
	if err := w.store.PutNameSearch(ctx, *data); err != nil {
		log.WithError(err).Error("failed to record name search failure")
		return Retry
	}
	severity := alert.SeverityError
	if msg == zipcase.MsgPortalBusy {
		severity = alert.SeverityWarning
	}
	w.alerter.Fire(alert.Alert{
		Category: cat,
		Severity: severity,
		Message:  "name search failed: " + msg,
		UserID:   job.UserID,
		SearchID: job.SearchID,
		Err:      cause,
	})
	return Done
}
