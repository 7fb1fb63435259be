package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"golang.org/x/image/tiff"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

func grayTIFF(t *testing.T, w, h int, px func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Pix[y*img.Stride+x] = px(x, y)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestExportImage(t *testing.T) {
	body := grayTIFF(t, 4, 2, func(x, y int) uint8 { return uint8(10*y + x) })
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ImageServer/exportImage", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "image", q.Get("f"))
		assert.Equal(t, "tiff", q.Get("format"))
		assert.Equal(t, "4,2", q.Get("size"))
		assert.Equal(t, "2285", q.Get("bboxSR"))
		assert.Equal(t, "0.00,0.00,400.00,200.00", q.Get("bbox"))
		assert.JSONEq(t, `{"rasterFunction":"Slope Degrees"}`, q.Get("renderingRule"))
		_, _ = w.Write(body)
	})

	c := newTestClient(t, WithCache(newFileCache(t)))
	req := ImageRequest{
		Box:            geometry.Box{MaxX: 400, MaxY: 200},
		Width:          4,
		Height:         2,
		RasterFunction: "Slope Degrees",
	}
	r := c.ExportImage(context.Background(), Service{Name: "slope", URL: srv.URL + "/ImageServer"}, req)
	require.True(t, r.Available())
	assert.Equal(t, 4, r.Width)
	assert.Equal(t, 2, r.Height)
	assert.Equal(t, 13.0, r.At(3, 1))
	assert.Equal(t, geometry.Box{MinX: 300, MinY: 0, MaxX: 400, MaxY: 100}, r.CellBox(3, 1))
	assert.Equal(t, geometry.Box{MinX: 0, MinY: 100, MaxX: 100, MaxY: 200}, r.CellBox(0, 0))

	// Binary bodies are cached like JSON ones.
	again := c.ExportImage(context.Background(), Service{Name: "slope", URL: srv.URL + "/ImageServer"}, req)
	assert.True(t, again.Available())
	assert.Equal(t, int32(1), hits.Load())
}

func TestExportImageErrorEnvelope(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad rendering rule"}}`)
	})
	r := newTestClient(t).ExportImage(context.Background(), Service{Name: "slope", URL: srv.URL},
		ImageRequest{Box: geometry.Box{MaxX: 1, MaxY: 1}, Width: 1, Height: 1})
	assert.False(t, r.Available())
	assert.Error(t, r.Err)
	assert.Equal(t, int32(1), hits.Load())

	empty := newTestClient(t).ExportImage(context.Background(), Service{Name: "slope", URL: srv.URL}, ImageRequest{})
	assert.Equal(t, StatusUnavailable, empty.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSamples(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getSamples", r.URL.Path)
		assert.Equal(t, "esriGeometryMultipoint", r.URL.Query().Get("geometryType"))
		var g esriGeometry
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("geometry")), &g))
		assert.Len(t, g.Points, 3)
		_, _ = io.WriteString(w, `{"samples":[
			{"locationId":0,"value":"100.5"},
			{"locationId":1,"value":102},
			{"locationId":2,"value":"NoData"}]}`)
	})

	s := newTestClient(t).Samples(context.Background(), Service{Name: "elevation", URL: srv.URL},
		[]geom.Coord{{0, 0}, {25, 0}, {50, 0}})
	require.Equal(t, StatusAvailable, s.Status)
	assert.Equal(t, []float64{100.5, 102, 0}, s.Values)
	assert.Equal(t, []bool{true, true, false}, s.Valid)
	assert.False(t, s.Complete())

	none := newTestClient(t).Samples(context.Background(), Service{Name: "elevation", URL: srv.URL}, nil)
	assert.Equal(t, StatusAvailable, none.Status)
}

func TestSamplesUnavailable(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	})
	s := newTestClient(t).Samples(context.Background(), Service{Name: "elevation", URL: srv.URL}, []geom.Coord{{0, 0}})
	assert.Equal(t, StatusUnavailable, s.Status)
	assert.False(t, s.Complete())
	assert.Equal(t, int32(3), hits.Load())
}

func TestPostTabular(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "JSON+COLUMNNAME", req["format"])
		assert.Contains(t, req["query"], "muname")
		_, _ = io.WriteString(w, `{"Table":[["muname","drainagecl"],["Tokul gravelly medial loam","Moderately well drained"]]}`)
	})

	tbl := newTestClient(t).PostTabular(context.Background(), Service{Name: "soils", URL: srv.URL}, "SELECT muname, drainagecl FROM mapunit")
	require.True(t, tbl.Available())
	assert.Equal(t, []string{"muname", "drainagecl"}, tbl.Columns)
	recs := tbl.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Moderately well drained", recs[0]["drainagecl"])
}

func TestPostTabularEmptyMatch(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	tbl := newTestClient(t).PostTabular(context.Background(), Service{Name: "soils", URL: srv.URL}, "SELECT 1")
	assert.True(t, tbl.Available())
	assert.Empty(t, tbl.Records())
}
