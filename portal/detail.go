package portal

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/zipcase/zipcase"
)

// FetchCaseDetail loads and parses the case detail page for a portal
// caseId.
func (c *Client) FetchCaseDetail(ctx context.Context, session *Session, caseID string) (*zipcase.CaseSummary, error) {
	body, _, err := c.do(ctx, "GET", c.caseURLBase+"/"+caseID, session, nil)
	if err != nil {
		return nil, err
	}
	return ParseCaseDetail(body)
}

const portalDateFormat = "01/02/2006"

func parsePortalDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := time.Parse(portalDateFormat, s)
	if err != nil {
		return nil
	}
	return &d
}

// ParseCaseDetail parses the detail page into a CaseSummary. The page
// carries the style and caption in div.caseHeader and one
// table.chargesGrid where charge rows are followed by their
// disposition rows.
func ParseCaseDetail(body []byte) (*zipcase.CaseSummary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse case detail: %w", err)
	}

	summary := &zipcase.CaseSummary{
		CaseName: strings.TrimSpace(doc.Find("div.caseHeader .caseName").First().Text()),
		Court:    strings.TrimSpace(doc.Find("div.caseHeader .courtName").First().Text()),
		Charges:  []zipcase.Charge{},
	}

	doc.Find("table.chargesGrid tr").Each(func(i int, row *goquery.Selection) {
		switch {
		case row.HasClass("chargeRow"):
			degree := parseDegree(row.Find("td.degree").Text())
			summary.Charges = append(summary.Charges, zipcase.Charge{
				OffenseDate:  parsePortalDate(row.Find("td.offenseDate").Text()),
				FiledDate:    parsePortalDate(row.Find("td.filedDate").Text()),
				Description:  strings.TrimSpace(row.Find("td.description").Text()),
				Statute:      strings.TrimSpace(row.Find("td.statute").Text()),
				Degree:       degree,
				Fine:         strings.TrimSpace(row.Find("td.fine").Text()),
				FilingAgency: strings.TrimSpace(row.Find("td.filingAgency").Text()),
			})
		case row.HasClass("dispositionRow"):
			if len(summary.Charges) == 0 {
				return
			}
			charge := &summary.Charges[len(summary.Charges)-1]
			charge.Dispositions = append(charge.Dispositions, zipcase.Disposition{
				Date:        parsePortalDate(row.Find("td.dispositionDate").Text()),
				Description: strings.TrimSpace(row.Find("td.dispositionDescription").Text()),
			})
		}
	})

	if summary.CaseName == "" && summary.Court == "" && len(summary.Charges) == 0 {
		return nil, fmt.Errorf("case detail page had no recognizable content")
	}
	return summary, nil
}

// parseDegree splits "M1 - Misdemeanor Class 1" into code and
// description.
func parseDegree(s string) zipcase.ChargeDegree {
	s = strings.TrimSpace(s)
	if s == "" {
		return zipcase.ChargeDegree{}
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) == 1 {
		return zipcase.ChargeDegree{Code: strings.TrimSpace(parts[0])}
	}
	return zipcase.ChargeDegree{
		Code:        strings.TrimSpace(parts[0]),
		Description: strings.TrimSpace(parts[1]),
	}
}
