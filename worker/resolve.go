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

// StaleProcessingMultiple scales the queue's visibility timeout into
// the bound after which a processing status counts as an abandoned
// lease and may be reclaimed.
const StaleProcessingMultiple = 10

// ResolveWorker turns a case number into a portal caseId via Smart
// Search and hands the case to the case-data queue.
type ResolveWorker struct {
	store         *store.Store
	portal        *portal.Client
	auth          *session.Authenticator
	caseDataQueue *queue.Queue
	alerter       *alert.Alerter
	logger        logrus.FieldLogger

	maxDeliveries int
	staleAfter    time.Duration

	now func() time.Time // test seam
}

func NewResolveWorker(st *store.Store, pc *portal.Client, auth *session.Authenticator, searchQueue, caseDataQueue *queue.Queue, alerter *alert.Alerter, logger logrus.FieldLogger) *ResolveWorker {
	return &ResolveWorker{
		store:         st,
		portal:        pc,
		auth:          auth,
		caseDataQueue: caseDataQueue,
		alerter:       alerter,
		logger:        logger,
		maxDeliveries: searchQueue.MaxDeliveries,
		staleAfter:    StaleProcessingMultiple * searchQueue.Visibility(),
		now:           time.Now,
	}
}

func (w *ResolveWorker) Handle(ctx context.Context, msg *queue.Message) Result {
	job := msg.Job.Resolve
	if job == nil {
		w.logger.WithField("messageId", msg.ID).Error("resolve message without payload")
		return Done
	}
	log := w.logger.WithField("caseNumber", job.CaseNumber).WithField("userId", job.UserID)

	if msg.Exhausted(w.maxDeliveries) {
		if err := w.store.SetStatus(ctx, job.CaseNumber, zipcase.Failed(zipcase.MsgMaxAttempts)); err != nil {
			log.WithError(err).Error("failed to record max_attempts")
			return Retry
		}
		w.alerter.Fire(alert.Alert{
			Category:   alert.CategorySystem,
			Severity:   alert.SeverityError,
			Message:    "resolve gave up after repeated redeliveries",
			UserID:     job.UserID,
			CaseNumber: job.CaseNumber,
		})
		return Done
	}

	sess, err := w.auth.GetOrCreateSession(ctx, job.UserID, job.UserAgent)
	if err != nil {
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

	link, err := w.portal.SearchCaseNumber(ctx, sess, job.CaseNumber)
	if errors.Is(err, portal.ErrSessionExpired) {
		sess, err = w.auth.Refresh(ctx, job.UserID, job.UserAgent)
		if err != nil {
			return w.fail(ctx, log, job, session.FailureMessage(err), alert.CategoryAuth, err)
		}
		link, err = w.portal.SearchCaseNumber(ctx, sess, job.CaseNumber)
	}
	switch {
	case errors.Is(err, portal.ErrPortalBusy):
		return w.fail(ctx, log, job, zipcase.MsgPortalBusy, alert.CategoryPortal, err)
	case portal.IsTransient(err):
		log.WithError(err).Warn("portal unavailable, returning message for redelivery")
		w.releaseLease(ctx, log, job.CaseNumber)
		return Retry
	case err != nil:
		return w.fail(ctx, log, job, zipcase.MsgInternal, alert.CategoryPortal, err)
	}

	if link == nil {
		if _, err := w.store.TryTransition(ctx, job.CaseNumber, zipcase.NotFound(), "", zipcase.StatusProcessing); err != nil {
			log.WithError(err).Error("failed to record notFound")
			return Retry
		}
		log.Info("case not found on the portal")
		return Done
	}

	if _, err := w.store.TryTransition(ctx, job.CaseNumber, zipcase.Found(), link.CaseID, zipcase.StatusProcessing); err != nil {
		log.WithError(err).Error("failed to record found")
		return Retry
	}
	err = w.caseDataQueue.Enqueue(ctx, queue.NewFetchSummaryJob(queue.FetchSummaryJob{
		CaseNumber: job.CaseNumber,
		CaseID:     link.CaseID,
		UserID:     job.UserID,
		UserAgent:  job.UserAgent,
	}))
	if err != nil {
		// found is in the lease's from set, so the redelivery re-runs
		// the search and re-enqueues the fetch
		log.WithError(err).Error("failed to enqueue case-data job")
		return Retry
	}
	log.WithField("caseId", link.CaseID).Info("case resolved")
	return Done
}

// acquireLease moves the case into processing. Cases sitting in
// processing longer than the stale bound are treated as abandoned by a
// crashed worker and reclaimed.
func (w *ResolveWorker) acquireLease(ctx context.Context, log logrus.FieldLogger, caseNumber string) (bool, Result) {
	ok, err := w.store.TryTransition(ctx, caseNumber, zipcase.Processing(), "",
		zipcase.StatusQueued, zipcase.StatusFound, zipcase.StatusFailed, zipcase.StatusReprocessing, zipcase.Status(""))
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

// releaseLease puts the case back to queued before a transient retry,
// so the redelivered message can re-acquire it.
func (w *ResolveWorker) releaseLease(ctx context.Context, log logrus.FieldLogger, caseNumber string) {
	if _, err := w.store.TryTransition(ctx, caseNumber, zipcase.Queued(), "", zipcase.StatusProcessing); err != nil {
		log.WithError(err).Error("failed to release status lease")
	}
}

func (w *ResolveWorker) fail(ctx context.Context, log logrus.FieldLogger, job *queue.ResolveJob, msg string, cat alert.Category, cause error) Result {
	if err := w.store.SetStatus(ctx, job.CaseNumber, zipcase.Failed(msg)); err != nil {
		log.WithError(err).Error("failed to record failure status")
		return Retry
	}
	severity := alert.SeverityError
	if msg == zipcase.MsgPortalBusy {
		severity = alert.SeverityWarning
	}
	w.alerter.Fire(alert.Alert{
		Category:   cat,
		Severity:   severity,
		Message:    "resolve failed: " + msg,
		UserID:     job.UserID,
		CaseNumber: job.CaseNumber,
		Err:        cause,
	})
	return Done
}
