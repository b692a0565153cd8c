package zipcase

import "time"

// CaseSummary is the parsed case detail. It is stored under its own
// row (CASE#{caseNumber} / SUMMARY) so a corrupted summary never
// destroys the case identity next to it.
type CaseSummary struct {
	CaseName string   `json:"caseName"`
	Court    string   `json:"court"`
	Charges  []Charge `json:"charges"`
}

// WellFormed is the predicate the Status API validates loaded
// summaries against: caseName, court and the charges array (possibly
// empty) must all be present.
func (s *CaseSummary) WellFormed() bool {
	if s == nil {
		return false
	}
	return s.CaseName != "" && s.Court != "" && s.Charges != nil
}

// Charge is a single charge row on the case detail page. Dates are
// nil when the portal leaves the column blank.
type Charge struct {
	OffenseDate  *time.Time    `json:"offenseDate,omitempty"`
	FiledDate    *time.Time    `json:"filedDate,omitempty"`
	Description  string        `json:"description"`
	Statute      string        `json:"statute,omitempty"`
	Degree       ChargeDegree  `json:"degree"`
	Fine         string        `json:"fine,omitempty"`
	Dispositions []Disposition `json:"dispositions,omitempty"`
	FilingAgency string        `json:"filingAgency,omitempty"`
}

type ChargeDegree struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

type Disposition struct {
	Date        *time.Time `json:"date,omitempty"`
	Description string     `json:"description"`
}
