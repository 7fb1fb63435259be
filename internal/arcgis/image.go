package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// ImageRequest asks an ImageServer for a raster over a working-CRS box.
type ImageRequest struct {
	Box    geometry.Box
	Width  int
	Height int
	// RasterFunction names a server-side rendering rule, e.g. "Slope Degrees".
	RasterFunction string
}

// Raster is a decoded single-band image. Values are row-major with row 0 at
// the top (max Y) edge.
type Raster struct {
	Box    geometry.Box
	Width  int
	Height int
	Values []float64
	Status Status
	Err    error
}

// Available reports whether the raster was fetched and decoded.
func (r Raster) Available() bool { return r.Status == StatusAvailable && len(r.Values) > 0 }

// At returns the value at column x, row y.
func (r Raster) At(x, y int) float64 { return r.Values[y*r.Width+x] }

// CellBox returns the ground footprint of cell (x, y).
func (r Raster) CellBox(x, y int) geometry.Box {
	cw := r.Box.Width() / float64(r.Width)
	ch := r.Box.Height() / float64(r.Height)
	return geometry.Box{
		MinX: r.Box.MinX + float64(x)*cw,
		MaxX: r.Box.MinX + float64(x+1)*cw,
		MaxY: r.Box.MaxY - float64(y)*ch,
		MinY: r.Box.MaxY - float64(y+1)*ch,
	}
}

// ExportImage fetches an 8-bit TIFF from an ImageServer and decodes it.
func (c *Client) ExportImage(ctx context.Context, svc Service, ir ImageRequest) Raster {
	if ir.Width <= 0 || ir.Height <= 0 || ir.Box.Empty() {
		err := eris.New("arcgis: empty image request")
		c.unavailable(svc.Name, "exportImage", err)
		return Raster{Status: StatusUnavailable, Err: err}
	}

	params := url.Values{}
	params.Set("f", "image")
	params.Set("bbox", fmt.Sprintf("%.2f,%.2f,%.2f,%.2f", ir.Box.MinX, ir.Box.MinY, ir.Box.MaxX, ir.Box.MaxY))
	params.Set("bboxSR", strconv.Itoa(geometry.WorkingSRID))
	params.Set("imageSR", strconv.Itoa(geometry.WorkingSRID))
	params.Set("size", fmt.Sprintf("%d,%d", ir.Width, ir.Height))
	params.Set("format", "tiff")
	params.Set("pixelType", "U8")
	params.Set("interpolation", "RSP_BilinearInterpolation")
	if ir.RasterFunction != "" {
		rule, _ := json.Marshal(map[string]string{"rasterFunction": ir.RasterFunction})
		params.Set("renderingRule", string(rule))
	}

	body, err := c.do(ctx, request{
		service:   svc.Name,
		operation: "exportImage",
		method:    http.MethodGet,
		url:       strings.TrimRight(svc.URL, "/") + "/exportImage",
		params:    params,
		check:     checkImage(svc.Name),
	})
	if err != nil {
		c.unavailable(svc.Name, "exportImage", err)
		return Raster{Status: StatusUnavailable, Err: err}
	}

	img, err := tiff.Decode(bytes.NewReader(body))
	if err != nil {
		err = eris.Wrapf(err, "arcgis: decode %s raster", svc.Name)
		c.unavailable(svc.Name, "exportImage", err)
		return Raster{Status: StatusUnavailable, Err: err}
	}

	r := Raster{Box: ir.Box, Status: StatusAvailable}
	r.Width, r.Height, r.Values = band(img)
	c.log.Debug("arcgis: raster decoded",
		zap.String("service", svc.Name),
		zap.Int("width", r.Width),
		zap.Int("height", r.Height),
	)
	return r
}

func band(img image.Image) (int, int, []float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	values := make([]float64, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch px := img.(type) {
			case *image.Gray:
				values = append(values, float64(px.GrayAt(x, y).Y))
			case *image.Gray16:
				values = append(values, float64(px.Gray16At(x, y).Y))
			default:
				values = append(values, float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y))
			}
		}
	}
	return w, h, values
}

// checkImage accepts TIFF bodies and rejects the JSON error envelope that
// ImageServer returns in place of an image.
func checkImage(service string) func([]byte) error {
	return func(body []byte) error {
		if bytes.HasPrefix(body, []byte("II*\x00")) || bytes.HasPrefix(body, []byte("MM\x00*")) {
			return nil
		}
		if err := checkEnvelope(service)(body); err != nil {
			return err
		}
		return eris.Errorf("arcgis: %s returned a non-TIFF body", service)
	}
}

// SampleSet holds one value per requested point; Valid is false where the
// service reported NoData.
type SampleSet struct {
	Values []float64
	Valid  []bool
	Status Status
	Err    error
}

// Complete reports whether every point received a value.
func (s SampleSet) Complete() bool {
	if s.Status != StatusAvailable {
		return false
	}
	for _, ok := range s.Valid {
		if !ok {
			return false
		}
	}
	return len(s.Valid) > 0
}

// Samples reads raster values at working-CRS points via getSamples.
func (c *Client) Samples(ctx context.Context, svc Service, points []geom.Coord) SampleSet {
	if len(points) == 0 {
		return SampleSet{Status: StatusAvailable}
	}

	pts := make([][]float64, len(points))
	for i, p := range points {
		pts[i] = []float64{round(p.X()), round(p.Y())}
	}
	g, err := json.Marshal(esriGeometry{
		Points:           pts,
		SpatialReference: &esriSpatialReference{WKID: geometry.WorkingSRID},
	})
	if err != nil {
		err = eris.Wrap(err, "arcgis: encode sample points")
		c.unavailable(svc.Name, "getSamples", err)
		return SampleSet{Status: StatusUnavailable, Err: err}
	}

	params := url.Values{}
	params.Set("f", "json")
	params.Set("geometry", string(g))
	params.Set("geometryType", "esriGeometryMultipoint")
	params.Set("returnFirstValueOnly", "true")
	params.Set("interpolation", "RSP_BilinearInterpolation")

	req := request{
		service:   svc.Name,
		operation: "getSamples",
		method:    http.MethodGet,
		url:       strings.TrimRight(svc.URL, "/") + "/getSamples",
		params:    params,
		check:     checkEnvelope(svc.Name),
	}
	if len(params.Encode()) > maxGetLength {
		req.method = http.MethodPost
	}

	body, err := c.do(ctx, req)
	if err != nil {
		c.unavailable(svc.Name, "getSamples", err)
		return SampleSet{Status: StatusUnavailable, Err: err}
	}

	var resp struct {
		Samples []struct {
			LocationID int             `json:"locationId"`
			Value      json.RawMessage `json:"value"`
		} `json:"samples"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		err = eris.Wrapf(err, "arcgis: decode %s samples", svc.Name)
		c.unavailable(svc.Name, "getSamples", err)
		return SampleSet{Status: StatusUnavailable, Err: err}
	}

	out := SampleSet{
		Values: make([]float64, len(points)),
		Valid:  make([]bool, len(points)),
		Status: StatusAvailable,
	}
	for _, s := range resp.Samples {
		if s.LocationID < 0 || s.LocationID >= len(points) {
			continue
		}
		if v, ok := sampleValue(s.Value); ok {
			out.Values[s.LocationID] = v
			out.Valid[s.LocationID] = true
		}
	}
	return out
}

// sampleValue accepts both the string ("123.45", "NoData") and numeric forms
// ImageServer versions emit.
func sampleValue(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	// Multiband answers are space separated; the first band is elevation.
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
