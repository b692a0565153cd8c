// Package export renders case records and their summaries into an
// xlsx workbook, one row per charge.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/store"
)

const sheetName = "Cases"

var headerRow = []interface{}{
	"Case Number", "Status", "Case Name", "Court",
	"Offense Date", "Filed Date", "Charge", "Statute",
	"Degree", "Fine", "Filing Agency", "Dispositions",
}

// Result is a finished export: the suggested attachment filename and
// the workbook bytes.
type Result struct {
	Filename string
	Data     []byte
}

type Exporter struct {
	store  *store.Store
	logger logrus.FieldLogger

	now func() time.Time // test seam
}

func NewExporter(st *store.Store, logger logrus.FieldLogger) *Exporter {
	return &Exporter{store: st, logger: logger, now: time.Now}
}

// Export builds a workbook for the given cases. Cases the portal never
// had are left out; everything else appears, with summary fields where
// a summary exists. Rows keep the order of the input case numbers.
func (e *Exporter) Export(ctx context.Context, caseNumbers []string) (*Result, error) {
	records, err := e.store.GetCases(ctx, caseNumbers)
	if err != nil {
		return nil, fmt.Errorf("loading cases for export: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	f.SetSheetName("Sheet1", sheetName)
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	row := 2
	for _, cn := range caseNumbers {
		zc, known := records[cn]
		if !known || zc.FetchStatus.Status == zipcase.StatusNotFound {
			continue
		}

		var summary *zipcase.CaseSummary
		if zc.FetchStatus.Status == zipcase.StatusComplete {
			loaded, present, err := e.store.GetSummary(ctx, cn)
			if err != nil {
				return nil, fmt.Errorf("loading summary for %s: %w", cn, err)
			}
			if present && loaded.WellFormed() {
				summary = loaded
			}
		}

		for _, cells := range caseRows(zc, summary) {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
				return nil, fmt.Errorf("writing row for %s: %w", cn, err)
			}
			row++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serializing workbook: %w", err)
	}
	return &Result{
		Filename: "ZipCase-Export-" + e.now().UTC().Format("20060102-150405") + ".xlsx",
		Data:     buf.Bytes(),
	}, nil
}

// caseRows flattens one case into sheet rows: one per charge, or a
// single bare row when there is no summary to show.
func caseRows(zc zipcase.ZipCase, summary *zipcase.CaseSummary) [][]interface{} {
	status := string(zc.FetchStatus.Status)
	if zc.FetchStatus.Message != "" {
		status += ": " + zc.FetchStatus.Message
	}

	if summary == nil || len(summary.Charges) == 0 {
		cells := []interface{}{zc.CaseNumber, status}
		if summary != nil {
			cells = append(cells, summary.CaseName, summary.Court)
		}
		return [][]interface{}{cells}
	}

	rows := make([][]interface{}, 0, len(summary.Charges))
	for _, charge := range summary.Charges {
		rows = append(rows, []interface{}{
			zc.CaseNumber, status, summary.CaseName, summary.Court,
			formatDate(charge.OffenseDate), formatDate(charge.FiledDate),
			charge.Description, charge.Statute,
			formatDegree(charge.Degree), charge.Fine,
			charge.FilingAgency, formatDispositions(charge.Dispositions),
		})
	}
	return rows
}

const exportDateFormat = "01/02/2006"

func formatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(exportDateFormat)
}

func formatDegree(d zipcase.ChargeDegree) string {
	if d.Description == "" {
		return d.Code
	}
	if d.Code == "" {
		return d.Description
	}
	return d.Code + " - " + d.Description
}

func formatDispositions(ds []zipcase.Disposition) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		text := d.Description
		if d.Date != nil {
			text = d.Date.Format(exportDateFormat) + " " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "; ")
}
