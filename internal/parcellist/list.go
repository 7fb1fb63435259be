// Package parcellist reads parcel identifiers for batch runs from text, CSV
// or XLSX files, local or fetched over HTTP or FTP.
package parcellist

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// DefaultColumns are the header names recognized as the parcel id column,
// compared case-insensitively.
var DefaultColumns = []string{"parcel_id", "parcelid", "parcel", "apn", "pin"}

// Options configures Read.
type Options struct {
	// Column names the parcel id header. Empty uses DefaultColumns.
	Column string
	// SheetName selects an XLSX sheet; empty reads the first sheet.
	SheetName string
}

// Read returns the distinct parcel ids listed in path, in file order. A
// header row naming a known id column selects that column; without one the
// first column is used and every row is data. path may also be an http,
// https or ftp URL.
func Read(ctx context.Context, path string, opts Options) ([]string, error) {
	if isRemote(path) {
		local, err := download(ctx, path)
		if err != nil {
			return nil, err
		}
		defer os.Remove(local) //nolint:errcheck
		path = local
	}

	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path, opts.SheetName)
	default:
		rows, err = readDelimited(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	return extractIDs(rows, opts.Column), nil
}

func readDelimited(ctx context.Context, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "parcellist: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.Comment = '#'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "parcellist: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "parcellist: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		rows = append(rows, record)
	}
}

func readXLSX(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "parcellist: open xlsx")
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("parcellist: sheet %q not found", sheetName)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("parcellist: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func extractIDs(rows [][]string, column string) []string {
	if len(rows) == 0 {
		return nil
	}

	names := DefaultColumns
	if column != "" {
		names = []string{column}
	}

	col := 0
	start := 0
	for i, cell := range rows[0] {
		if matchesAny(cell, names) {
			col, start = i, 1
			break
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, row := range rows[start:] {
		if col >= len(row) {
			continue
		}
		id := row[col]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func matchesAny(cell string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(cell), n) {
			return true
		}
	}
	return false
}
