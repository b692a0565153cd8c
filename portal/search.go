package portal

import (
	"context"
	"net/url"
)

const (
	smartSearchPath  = "/Portal/SmartSearch/SmartSearch/SmartSearch"
	searchResultPath = "/Portal/SmartSearch/SmartSearchResults"
)

// CaseLink is one search hit: the portal-internal caseId and the case
// number the portal displays for it.
type CaseLink struct {
	CaseID     string
	CaseNumber string
}

// NameSearchParams are the party-name Smart Search criteria.
type NameSearchParams struct {
	NormalizedName string
	DateOfBirth    string // empty when not filtering
	SoundsLike     bool
	CriminalOnly   bool
}

// SearchCaseNumber submits Smart Search for a case number and returns
// the first case link, or nil when the portal found nothing.
func (c *Client) SearchCaseNumber(ctx context.Context, session *Session, caseNumber string) (*CaseLink, error) {
	form := url.Values{}
	form.Set("caseCriteria.SearchCriteria", caseNumber)
	form.Set("caseCriteria.SearchCases", "true")

	links, err := c.submitAndParse(ctx, session, form)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	return &links[0], nil
}

// SearchByName submits a party-name Smart Search and returns every
// case link on the results page, deduplicated by case number.
func (c *Client) SearchByName(ctx context.Context, session *Session, params NameSearchParams) ([]CaseLink, error) {
	form := url.Values{}
	form.Set("caseCriteria.SearchCriteria", params.NormalizedName)
	form.Set("caseCriteria.SearchCases", "true")
	form.Set("caseCriteria.SearchByPartyName", "true")
	if params.DateOfBirth != "" {
		form.Set("caseCriteria.DOBFrom", params.DateOfBirth)
		form.Set("caseCriteria.DOBTo", params.DateOfBirth)
	}
	if params.SoundsLike {
		form.Set("caseCriteria.UseSoundex", "true")
	}
	if params.CriminalOnly {
		form.Set("caseCriteria.CaseCategories", "Criminal")
	}

	links, err := c.submitAndParse(ctx, session, form)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(links))
	deduped := links[:0]
	for _, link := range links {
		if _, dup := seen[link.CaseNumber]; dup {
			continue
		}
		seen[link.CaseNumber] = struct{}{}
		deduped = append(deduped, link)
	}
	return deduped, nil
}

func (c *Client) submitAndParse(ctx context.Context, session *Session, form url.Values) ([]CaseLink, error) {
	if _, _, err := c.do(ctx, "POST", c.baseURL+smartSearchPath, session, form); err != nil {
		return nil, err
	}
	body, _, err := c.do(ctx, "GET", c.baseURL+searchResultPath, session, nil)
	if err != nil {
		return nil, err
	}
	return ParseSearchResults(body)
}
