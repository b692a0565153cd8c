// Package alert emits operational alerts. Every alert becomes a
// structured log entry; ERROR and CRITICAL alerts are additionally
// published to the operational NATS subject so they page.
package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type Category string

const (
	CategoryAuth     Category = "AUTH"
	CategoryPortal   Category = "PORTAL"
	CategoryDatabase Category = "DATABASE"
	CategorySystem   Category = "SYSTEM"
	CategoryNetwork  Category = "NETWORK"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Alert carries the category, severity and entity context of a single
// operational event.
type Alert struct {
	Category   Category  `json:"category"`
	Severity   Severity  `json:"-"`
	Message    string    `json:"message"`
	UserID     string    `json:"userId,omitempty"`
	CaseNumber string    `json:"caseNumber,omitempty"`
	SearchID   string    `json:"searchId,omitempty"`
	Err        error     `json:"-"`
	At         time.Time `json:"at"`
}

// Publisher is the slice of the NATS connection the alerter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Alerter fans alerts out to the log and, above the notify threshold,
// to the operational topic. A nil publisher degrades to log-only.
type Alerter struct {
	logger  logrus.FieldLogger
	pub     Publisher
	subject string
}

func New(logger logrus.FieldLogger, pub Publisher, subject string) *Alerter {
	return &Alerter{logger: logger, pub: pub, subject: subject}
}

func (a *Alerter) Fire(al Alert) {
	if al.At.IsZero() {
		al.At = time.Now().UTC()
	}

	fields := logrus.Fields{
		"category": string(al.Category),
		"severity": al.Severity.String(),
	}
	if al.UserID != "" {
		fields["userId"] = al.UserID
	}
	if al.CaseNumber != "" {
		fields["caseNumber"] = al.CaseNumber
	}
	if al.SearchID != "" {
		fields["searchId"] = al.SearchID
	}
	entry := a.logger.WithFields(fields)
	if al.Err != nil {
		entry = entry.WithError(al.Err)
	}

	switch {
	case al.Severity >= SeverityError:
		entry.Error(al.Message)
	case al.Severity == SeverityWarning:
		entry.Warn(al.Message)
	default:
		entry.Info(al.Message)
	}

	if al.Severity < SeverityError || a.pub == nil {
		return
	}

	payload := struct {
		Alert
		Severity string `json:"severity"`
		Error    string `json:"error,omitempty"`
	}{Alert: al, Severity: al.Severity.String()}
	if al.Err != nil {
		payload.Error = al.Err.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		entry.WithError(err).Error("failed to encode alert for publish")
		return
	}
	if err := a.pub.Publish(a.subject, data); err != nil {
		entry.WithError(err).Error("failed to publish alert to operational topic")
	}
}
