package queue

// JobKind tags the payload variant carried by a queue message.
type JobKind string

const (
	KindResolve      JobKind = "resolve"
	KindNameSearch   JobKind = "nameSearch"
	KindFetchSummary JobKind = "fetchSummary"
)

// Job is the wire envelope: exactly one payload is set, matching Kind.
// Resolve and NameSearch travel on the SearchQueue, FetchSummary on
// the CaseDataQueue.
type Job struct {
	Kind         JobKind          `json:"kind"`
	Resolve      *ResolveJob      `json:"resolve,omitempty"`
	NameSearch   *NameSearchJob   `json:"nameSearch,omitempty"`
	FetchSummary *FetchSummaryJob `json:"fetchSummary,omitempty"`
}

// ResolveJob turns a case number into a portal caseId.
type ResolveJob struct {
	CaseNumber string `json:"caseNumber"`
	UserID     string `json:"userId"`
	UserAgent  string `json:"userAgent,omitempty"`
}

// NameSearchJob expands a party-name search into case numbers.
type NameSearchJob struct {
	SearchID       string `json:"searchId"`
	UserID         string `json:"userId"`
	NormalizedName string `json:"normalizedName"`
	DateOfBirth    string `json:"dateOfBirth,omitempty"`
	SoundsLike     bool   `json:"soundsLike"`
	CriminalOnly   bool   `json:"criminalOnly"`
	UserAgent      string `json:"userAgent,omitempty"`
}

// FetchSummaryJob fetches and parses the case detail page.
type FetchSummaryJob struct {
	CaseNumber string `json:"caseNumber"`
	CaseID     string `json:"caseId"`
	UserID     string `json:"userId"`
	UserAgent  string `json:"userAgent,omitempty"`
}

func NewResolveJob(j ResolveJob) Job {
	return Job{Kind: KindResolve, Resolve: &j}
}

func NewNameSearchJob(j NameSearchJob) Job {
	return Job{Kind: KindNameSearch, NameSearch: &j}
}

func NewFetchSummaryJob(j FetchSummaryJob) Job {
	return Job{Kind: KindFetchSummary, FetchSummary: &j}
}
