package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// Table is a tabular answer: a header row and string cells.
type Table struct {
	Columns []string
	Rows    [][]string
	Status  Status
	Err     error
}

// Available reports whether the service answered.
func (t Table) Available() bool { return t.Status == StatusAvailable }

// Records returns each row keyed by column name.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// PostTabular runs a SQL query against a tabular endpoint that accepts
// {"query", "format"} JSON (the USDA Soil Data Access post.rest service).
func (c *Client) PostTabular(ctx context.Context, svc Service, sql string) Table {
	payload, err := json.Marshal(map[string]string{
		"query":  sql,
		"format": "JSON+COLUMNNAME",
	})
	if err != nil {
		err = eris.Wrap(err, "arcgis: encode tabular query")
		c.unavailable(svc.Name, "tabular", err)
		return Table{Status: StatusUnavailable, Err: err}
	}

	body, err := c.do(ctx, request{
		service:   svc.Name,
		operation: "tabular",
		method:    http.MethodPost,
		url:       svc.URL,
		body:      payload,
	})
	if err != nil {
		c.unavailable(svc.Name, "tabular", err)
		return Table{Status: StatusUnavailable, Err: err}
	}

	var resp struct {
		Table [][]any `json:"Table"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		err = eris.Wrapf(err, "arcgis: decode %s table", svc.Name)
		c.unavailable(svc.Name, "tabular", err)
		return Table{Status: StatusUnavailable, Err: err}
	}

	// An empty match comes back as {}.
	t := Table{Status: StatusAvailable}
	for i, row := range resp.Table {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		if i == 0 {
			t.Columns = cells
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}
