package portal

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// busySentinel is the text the portal serves instead of results when
// its search backend is overloaded.
const busySentinel = "having trouble processing"

// ParseSearchResults extracts all case links from a Smart Search
// results page. Each a.caseLink anchor encodes the caseId in its href
// and carries the display case number in .block-link__primary.
func ParseSearchResults(body []byte) ([]CaseLink, error) {
	if bytes.Contains(bytes.ToLower(body), []byte(busySentinel)) {
		return nil, ErrPortalBusy
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var links []CaseLink
	doc.Find("a.caseLink").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		caseID := caseIDFromHref(href)
		caseNumber := strings.TrimSpace(s.Find(".block-link__primary").First().Text())
		if caseID == "" || caseNumber == "" {
			return
		}
		links = append(links, CaseLink{CaseID: caseID, CaseNumber: caseNumber})
	})
	return links, nil
}

// caseIDFromHref digs the portal case identifier out of a case link
// href: either an id/caseId query parameter or the last path segment.
func caseIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, param := range []string{"caseId", "id"} {
		if v := q.Get(param); v != "" {
			return v
		}
	}
	path := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 && idx+1 < len(path) {
		return path[idx+1:]
	}
	return ""
}
