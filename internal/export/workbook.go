package export

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
)

// Workbook sheet names.
const (
	SheetSummary = "Summary"
	SheetLayouts = "Layouts"
	SheetCosts   = "Costs"
	SheetTags    = "Tags"
)

var (
	layoutHeader = []string{"Rank", "Layout", "Strategy", "Plat Class", "Lots", "Min Lot SqFt", "Score", "Stormwater SqFt", "Driveway Ft", "Tags"}
	costHeader   = []string{"Layout", "Lots", "Survey/Engineering", "Plat Application", "Road", "Utilities", "Stormwater", "Clearing", "Total", "Per Lot"}
	tagHeader    = []string{"Scope", "Tag", "Kind"}
)

// WriteWorkbook writes the summary workbook: run summary, ranked layouts,
// cost breakdowns and every tag.
func WriteWorkbook(path string, s feasibility.State) error {
	sum := s.Summary()
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}
	for _, kv := range [][2]any{
		{"Parcel ID", sum.ParcelID},
		{"Address", sum.Address},
		{"Owner", sum.Owner},
		{"Jurisdiction", sum.Jurisdiction},
		{"Zone", sum.ZoneCode},
		{"Parcel SqFt", round2(sum.ParcelSqFt)},
		{"Parcel Acres", round2(sum.ParcelAcres)},
		{"Buildable SqFt", round2(sum.BuildSqFt)},
		{"Phase", string(sum.Phase)},
		{"Stopped", sum.Stopped},
		{"Stop Reason", sum.StopReason},
		{"Best Layout", sum.BestLayoutID},
		{"Best Score", sum.BestScore},
		{"Warnings", strings.Join(sum.Warnings, "; ")},
	} {
		addRow(sheet, kv[0], kv[1])
	}

	sheet, err = f.AddSheet(SheetLayouts)
	if err != nil {
		return eris.Wrap(err, "xlsx: add layouts sheet")
	}
	addHeader(sheet, layoutHeader)
	for i, l := range sum.Layouts {
		smallest := 0.0
		for j, a := range l.LotAreas {
			if j == 0 || a < smallest {
				smallest = a
			}
		}
		addRow(sheet, i+1, l.ID, string(l.Strategy), string(l.PlatClass), l.Lots,
			round2(smallest), l.Score, round2(l.StormwaterSqFt), round2(l.DrivewayLengthFt),
			strings.Join(l.Tags, "; "))
	}

	sheet, err = f.AddSheet(SheetCosts)
	if err != nil {
		return eris.Wrap(err, "xlsx: add costs sheet")
	}
	addHeader(sheet, costHeader)
	for _, l := range sum.Layouts {
		if l.Cost == nil {
			continue
		}
		c := l.Cost
		addRow(sheet, c.LayoutID, c.Lots, c.SurveyEngineering, c.PlatApplication, c.Road,
			c.Utilities, c.Stormwater, c.Clearing, c.Total, c.PerLot())
	}

	sheet, err = f.AddSheet(SheetTags)
	if err != nil {
		return eris.Wrap(err, "xlsx: add tags sheet")
	}
	addHeader(sheet, tagHeader)
	for _, t := range sum.Tags {
		addRow(sheet, "parcel", t, tagKind(t))
	}
	for _, l := range sum.Layouts {
		for _, t := range l.Tags {
			addRow(sheet, l.ID, t, tagKind(t))
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

// tagKind classifies a tag by its prefix.
func tagKind(tag string) string {
	switch {
	case strings.HasPrefix(tag, "RISK_"):
		return "risk"
	case strings.HasPrefix(tag, "INFO_"):
		return "info"
	case strings.HasPrefix(tag, "SCORE_"):
		return "score"
	default:
		return "status"
	}
}

func addHeader(sheet *xlsx.Sheet, names []string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}

func addRow(sheet *xlsx.Sheet, values ...any) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch v := v.(type) {
		case string:
			cell.SetString(v)
		case int:
			cell.SetInt(v)
		case float64:
			cell.SetFloat(v)
		case bool:
			cell.SetBool(v)
		default:
			cell.SetValue(v)
		}
	}
}
