package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

const (
	// maxGetLength switches long filters to a form POST.
	maxGetLength = 1800
	// maxPages bounds exceededTransferLimit pagination.
	maxPages = 10
)

// Query is a feature query against one layer. Geometry, when set, must be in
// the working CRS and is sent as an intersects filter.
type Query struct {
	Where     string
	Geometry  geom.T
	OutFields []string
	// Distance widens the spatial filter, in feet.
	Distance float64
}

// Feature is one returned record, geometry already in the working CRS.
type Feature struct {
	Geometry   geom.T
	Attributes map[string]any
}

// String returns the attribute under the first of keys that holds a
// non-empty value.
func (f Feature) String(keys ...string) string {
	for _, k := range keys {
		v, ok := f.Attributes[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch v := v.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			s = v.String()
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Float returns the numeric attribute under key.
func (f Feature) Float(key string) (float64, bool) {
	switch v := f.Attributes[key].(type) {
	case float64:
		return v, true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// FeatureSet is the result of a Query.
type FeatureSet struct {
	Features []Feature
	Status   Status
	// Err holds the cause when Status is StatusUnavailable.
	Err error
	// SourceSRID is the reference system the service answered in.
	SourceSRID int
}

// Available reports whether the service answered.
func (fs FeatureSet) Available() bool { return fs.Status == StatusAvailable }

// Geometries returns the feature geometries in order.
func (fs FeatureSet) Geometries() []geom.T {
	out := make([]geom.T, 0, len(fs.Features))
	for _, f := range fs.Features {
		if f.Geometry != nil {
			out = append(out, f.Geometry)
		}
	}
	return out
}

func unavailableSet(err error) FeatureSet {
	return FeatureSet{Status: StatusUnavailable, Err: err}
}

// Query runs a feature query and reprojects the answer to the working CRS.
// Any failure yields an empty, unavailable set.
func (c *Client) Query(ctx context.Context, svc Service, q Query) FeatureSet {
	params, err := c.queryParams(svc, q)
	if err != nil {
		c.unavailable(svc.Name, "query", err)
		return unavailableSet(err)
	}

	var out FeatureSet
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			params.Set("resultOffset", strconv.Itoa(len(out.Features)))
		}
		req := request{
			service:   svc.Name,
			operation: "query",
			method:    http.MethodGet,
			url:       strings.TrimRight(svc.URL, "/") + "/query",
			params:    cloneValues(params),
			check:     checkEnvelope(svc.Name),
		}
		if len(params.Encode()) > maxGetLength {
			req.method = http.MethodPost
		}
		if page > 0 {
			req.operation = fmt.Sprintf("query.%d", page)
		}

		body, err := c.do(ctx, req)
		if err != nil {
			c.unavailable(svc.Name, req.operation, err)
			return unavailableSet(err)
		}

		pg, err := c.decode(svc, body)
		if err != nil {
			c.unavailable(svc.Name, req.operation, err)
			return unavailableSet(err)
		}
		out.SourceSRID = pg.srid
		out.Features = append(out.Features, pg.features...)
		if !pg.more || len(pg.features) == 0 {
			break
		}
	}

	c.log.Debug("arcgis: query complete",
		zap.String("service", svc.Name),
		zap.Int("features", len(out.Features)),
		zap.Int("source_srid", out.SourceSRID),
	)
	out.Status = StatusAvailable
	return out
}

func (c *Client) queryParams(svc Service, q Query) (url.Values, error) {
	format := svc.Format
	if format == "" {
		format = FormatEsri
	}
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	fields := "*"
	if len(q.OutFields) > 0 {
		fields = strings.Join(q.OutFields, ",")
	}

	params := url.Values{}
	params.Set("f", string(format))
	params.Set("where", where)
	params.Set("outFields", fields)
	params.Set("returnGeometry", "true")
	if svc.OutSR != 0 && format == FormatEsri {
		params.Set("outSR", strconv.Itoa(svc.OutSR))
	}

	if q.Geometry != nil && !geometry.IsEmpty(q.Geometry) {
		g := q.Geometry
		if mp, ok := g.(*geom.MultiPolygon); ok {
			g = geometry.Simplify(mp, c.simplifyTol)
		} else if p, ok := g.(*geom.Polygon); ok {
			g = geometry.Simplify(geometry.AsMultiPolygon(p), c.simplifyTol)
		}
		encoded, geomType, err := encodeEsriGeometry(g)
		if err != nil {
			return nil, err
		}
		params.Set("geometry", encoded)
		params.Set("geometryType", geomType)
		params.Set("inSR", strconv.Itoa(geometry.WorkingSRID))
		params.Set("spatialRel", "esriSpatialRelIntersects")
		if q.Distance > 0 {
			params.Set("distance", strconv.FormatFloat(q.Distance, 'f', -1, 64))
			params.Set("units", "esriSRUnit_Foot")
		}
	}
	return params, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

type page struct {
	features []Feature
	srid     int
	more     bool
}

func (c *Client) decode(svc Service, body []byte) (page, error) {
	var (
		pg  page
		err error
	)
	if svc.Format == FormatGeoJSON {
		pg, err = decodeGeoJSON(body)
	} else {
		pg, err = decodeEsri(body, svc.OutSR)
	}
	if err != nil {
		return page{}, eris.Wrapf(err, "arcgis: decode %s", svc.Name)
	}

	for i := range pg.features {
		g := pg.features[i].Geometry
		if g == nil {
			continue
		}
		projected, err := c.reproj.ToWorking(g, pg.srid)
		if err != nil {
			return page{}, eris.Wrapf(err, "arcgis: reproject %s from %d", svc.Name, pg.srid)
		}
		pg.features[i].Geometry = projected
	}
	return pg, nil
}
