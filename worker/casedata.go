package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/alert"
	"github.com/zipcase/zipcase/portal"
	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/session"
	"github.com/zipcase/zipcase/store"
)

// CaseDataWorker fetches the case detail page for a resolved case and
// stores the parsed summary. The summary write always lands before the
// complete status, so a complete case is never missing its summary.
type CaseDataWorker struct {
	store   *store.Store
	portal  *portal.Client
	auth    *session.Authenticator
	alerter *alert.Alerter
	logger  logrus.FieldLogger

	maxDeliveries int
	staleAfter    time.Duration

	now func() time.Time // test seam
}

func NewCaseDataWorker(st *store.Store, pc *portal.Client, auth *session.Authenticator, caseDataQueue *queue.Queue, alerter *alert.Alerter, logger logrus.FieldLogger) *CaseDataWorker {
	return &CaseDataWorker{
		store:         st,
		portal:        pc,
		auth:          auth,
		alerter:       alerter,
		logger:        logger,
		maxDeliveries: caseDataQueue.MaxDeliveries,
		staleAfter:    StaleProcessingMultiple * caseDataQueue.Visibility(),
		now:           time.Now,
	}
}

func (w *CaseDataWorker) Handle(ctx context.Context, msg *queue.Message) Result {
	job := msg.Job.FetchSummary
	if job == nil {
		w.logger.WithField("messageId", msg.ID).Error("fetchSummary message without payload")
		return Done
	}
	log := w.logger.WithField("caseNumber", job.CaseNumber).WithField("caseId", job.CaseID)

	if msg.Exhausted(w.maxDeliveries) {
		if err := w.store.SetStatus(ctx, job.CaseNumber, zipcase.Failed(zipcase.MsgMaxAttempts)); err != nil {
			log.WithError(err).Error("failed to record max_attempts")
			return Retry
		}
		w.alerter.Fire(alert.Alert{
			Category:   alert.CategorySystem,
			Severity:   alert.SeverityError,
			Message:    "case-data fetch gave up after repeated redeliveries",
			UserID:     job.UserID,
			CaseNumber: job.CaseNumber,
		})
		return Done
	}

	sess, err := w.auth.GetOrCreateSession(ctx, job.UserID, job.UserAgent)
	if err != nil {
		if portal.IsTransient(err) {
			log.WithError(err).Warn("portal unavailable during login, returning message for redelivery")
			return Retry
		}
		return w.fail(ctx, log, job, session.FailureMessage(err), alert.CategoryAuth, err)
	}

	ok, res := w.acquireLease(ctx, log, job.CaseNumber)
	if res != Done {
		return res
	}
	if !ok {
		log.Debug("lost the status lease, dropping message")
		return Done
	}

	summary, err := w.portal.FetchCaseDetail(ctx, sess, job.CaseID)
	if errors.Is(err, portal.ErrSessionExpired) {
		sess, err = w.auth.Refresh(ctx, job.UserID, job.UserAgent)
		if err != nil {
			return w.fail(ctx, log, job, session.FailureMessage(err), alert.CategoryAuth, err)
		}
		summary, err = w.portal.FetchCaseDetail(ctx, sess, job.CaseID)
	}
	switch {
	case portal.IsTransient(err):
		log.WithError(err).Warn("portal unavailable, returning message for redelivery")
		w.releaseLease(ctx, log, job.CaseNumber)
		return Retry
	case err != nil:
		return w.fail(ctx, log, job, zipcase.MsgInternal, alert.CategoryPortal, err)
	}

	if err := w.store.PutSummary(ctx, job.CaseNumber, *summary); err != nil {
		log.WithError(err).Error("failed to store summary")
		w.releaseLease(ctx, log, job.CaseNumber)
		return Retry
	}
	if _, err := w.store.TryTransition(ctx, job.CaseNumber, zipcase.Complete(), "", zipcase.StatusProcessing); err != nil {
		log.WithError(err).Error("failed to record complete")
		return Retry
	}
	log.Info("case summary stored")
	return Done
}

func (w *CaseDataWorker) acquireLease(ctx context.Context, log logrus.FieldLogger, caseNumber string) (bool, Result) {
	ok, err := w.store.TryTransition(ctx, caseNumber, zipcase.Processing(), "", zipcase.StatusFound)
	if err != nil {
		log.WithError(err).Error("status lease failed")
		return false, Retry
	}
	if ok {
		return true, Done
	}

	zc, err := w.store.GetCase(ctx, caseNumber)
	if err != nil {
		log.WithError(err).Error("loading case for stale-lease check failed")
		return false, Retry
	}
	if zc == nil || zc.FetchStatus.Status != zipcase.StatusProcessing {
		return false, Done
	}
	if zc.LastUpdated != nil && w.now().Sub(*zc.LastUpdated) <= w.staleAfter {
		return false, Done
	}
	log.Warn("reclaiming stale processing lease")
	ok, err = w.store.TryTransition(ctx, caseNumber, zipcase.Processing(), "", zipcase.StatusProcessing)
	if err != nil {
		log.WithError(err).Error("status lease failed")
		return false, Retry
	}
	return ok, Done
}

// releaseLease puts the case back to found before a transient retry.
func (w *CaseDataWorker) releaseLease(ctx context.Context, log logrus.FieldLogger, caseNumber string) {
	if _, err := w.store.TryTransition(ctx, caseNumber, zipcase.Found(), "", zipcase.StatusProcessing); err != nil {
		log.WithError(err).Error("failed to release status lease")
	}
}

func (w *CaseDataWorker) fail(ctx context.Context, log logrus.FieldLogger, job *queue.FetchSummaryJob, msg string, cat alert.Category, cause error) Result {
	if err := w.store.SetStatus(ctx, job.CaseNumber, zipcase.Failed(msg)); err != nil {
		log.WithError(err).Error("failed to record failure status")
		return Retry
	}
	w.alerter.Fire(alert.Alert{
		Category:   cat,
		Severity:   alert.SeverityError,
		Message:    "case-data fetch failed: " + msg,
		UserID:     job.UserID,
		CaseNumber: job.CaseNumber,
		Err:        cause,
	})
	return Done
}
