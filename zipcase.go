// Package zipcase holds the domain model shared by the search-and-fetch
// pipeline: case fetch state, parsed case summaries, name searches, and
// per-user portal credentials and sessions.
package zipcase

import (
	"time"
)

// Status is the tag of a FetchStatus variant.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusFound        Status = "found"
	StatusNotFound     Status = "notFound"
	StatusFailed       Status = "failed"
	StatusComplete     Status = "complete"
	StatusReprocessing Status = "reprocessing"
)

// FetchStatus tracks where a case is in the pipeline. Message is only
// meaningful for failed, TryCount only for reprocessing.
type FetchStatus struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	TryCount int    `json:"tryCount,omitempty"`
}

// Terminal reports whether polling clients can stop: complete, failed
// and notFound do not advance further on their own.
func (f FetchStatus) Terminal() bool {
	switch f.Status {
	case StatusComplete, StatusFailed, StatusNotFound:
		return true
	}
	return false
}

func Queued() FetchStatus     { return FetchStatus{Status: StatusQueued} }
func Processing() FetchStatus { return FetchStatus{Status: StatusProcessing} }
func Found() FetchStatus      { return FetchStatus{Status: StatusFound} }
func NotFound() FetchStatus   { return FetchStatus{Status: StatusNotFound} }
func Complete() FetchStatus   { return FetchStatus{Status: StatusComplete} }
func Failed(msg string) FetchStatus {
	return FetchStatus{Status: StatusFailed, Message: msg}
}
func Reprocessing(tryCount int) FetchStatus {
	return FetchStatus{Status: StatusReprocessing, TryCount: tryCount}
}

// Well-known failure messages surfaced inside FetchStatus.Message and
// the API error envelope.
const (
	MsgUnauthorized         = "unauthorized"
	MsgNoCredentials        = "no_credentials"
	MsgBadCredentials       = "bad_credentials"
	MsgPortalUnavailable    = "portal_unavailable"
	MsgPortalBusy           = "portal_busy"
	MsgNotFound             = "not_found"
	MsgPersistentCorruption = "persistent_corruption"
	MsgMaxAttempts          = "max_attempts"
	MsgInternal             = "internal"
)

// ZipCase is the per-case pipeline record, keyed by canonical case
// number. CaseID is the portal-internal identifier discovered by
// resolve; it is set once status reaches found.
type ZipCase struct {
	CaseNumber  string      `json:"caseNumber"`
	FetchStatus FetchStatus `json:"fetchStatus"`
	LastUpdated *time.Time  `json:"lastUpdated,omitempty"`
	CaseID      string      `json:"caseId,omitempty"`

	// ReprocessTryCount survives later status transitions, so a summary
	// that comes back malformed after a reprocessing run is recognized
	// as persistent corruption rather than reprocessed forever.
	ReprocessTryCount int `json:"reprocessTryCount,omitempty"`
}

// SearchResult is what the API returns per case: the pipeline record
// plus the parsed summary once one exists.
type SearchResult struct {
	ZipCase     ZipCase      `json:"zipCase"`
	CaseSummary *CaseSummary `json:"caseSummary,omitempty"`
}
