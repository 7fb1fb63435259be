package export

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
)

const (
	mapMargin      = 40.0
	legendWidth    = 190.0
	defaultMapSize = 1200
	hatchSpacing   = 8.0
)

type rgba struct{ r, g, b, a float64 }

var (
	colorParcel     = rgba{0.1, 0.1, 0.1, 1}
	colorConstraint = rgba{0.85, 0.2, 0.2, 0.18}
	colorHatch      = rgba{0.75, 0.1, 0.1, 0.6}
	colorBuildable  = rgba{0.2, 0.7, 0.3, 0.3}
	colorLot        = rgba{0.15, 0.3, 0.75, 1}
	colorDriveway   = rgba{0.55, 0.35, 0.15, 1}
	colorEnvelope   = rgba{0.45, 0.1, 0.6, 1}
)

// niceLengths are the scale bar lengths in feet.
var niceLengths = []float64{10, 20, 25, 50, 100, 200, 250, 500, 1000, 2000, 2500, 5000, 10000}

// projection maps working-CRS coordinates to image pixels.
type projection struct {
	box      geometry.Box
	scale    float64
	offX     float64
	offY     float64
	plotSize float64
}

func newProjection(box geometry.Box, plotSize float64) projection {
	if box.Empty() {
		c := box.Center()
		box = geometry.Box{MinX: c.X() - 50, MinY: c.Y() - 50, MaxX: c.X() + 50, MaxY: c.Y() + 50}
	}
	box = box.Expand(max(box.Width(), box.Height()) * 0.05)
	scale := plotSize / max(box.Width(), box.Height())
	return projection{
		box:      box,
		scale:    scale,
		offX:     mapMargin + (plotSize-box.Width()*scale)/2,
		offY:     mapMargin + (plotSize-box.Height()*scale)/2,
		plotSize: plotSize,
	}
}

func (p projection) point(c geom.Coord) (float64, float64) {
	x := p.offX + (c.X()-p.box.MinX)*p.scale
	y := p.offY + (p.box.MaxY-c.Y())*p.scale
	return x, y
}

// RenderMap draws the site plan of a run: parcel outline, hatched
// constraint buffers, buildable fill and the best layout's lots, driveways
// and envelopes, with a legend, scale bar and north arrow.
func RenderMap(path string, s feasibility.State, width int) error {
	if width <= 0 {
		width = defaultMapSize
	}
	plotSize := max(float64(width)-legendWidth-2*mapMargin, 100)
	height := int(plotSize + 2*mapMargin)

	best, hasLayout := mapLayout(s)
	var extent []geom.T
	extent = append(extent, s.Parcel.Geometry, s.Buildable)
	for _, r := range s.ConstraintResults() {
		extent = append(extent, r.Buffer)
	}
	proj := newProjection(boundsOf(extent...), plotSize)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFillRuleEvenOdd()

	for _, r := range s.ConstraintResults() {
		if geometry.IsEmpty(r.Buffer) {
			continue
		}
		hatch(dc, proj, r.Buffer, width, height)
	}

	if !geometry.IsEmpty(s.Buildable) {
		polygonPath(dc, proj, s.Buildable)
		setColor(dc, colorBuildable)
		dc.Fill()
	}

	if hasLayout {
		setColor(dc, colorLot)
		dc.SetLineWidth(1.5)
		dc.SetDash(6, 4)
		for _, lot := range best.Lots {
			polygonPath(dc, proj, lot.Geometry)
			dc.Stroke()
		}
		dc.SetDash()

		setColor(dc, colorEnvelope)
		dc.SetLineWidth(1.2)
		for _, e := range best.Envelopes {
			polygonPath(dc, proj, e.Geometry)
			dc.Stroke()
		}

		setColor(dc, colorDriveway)
		dc.SetLineWidth(3)
		for _, d := range best.Driveways {
			if d.Line == nil || d.Line.NumCoords() < 2 {
				continue
			}
			linePath(dc, proj, d.Line.Coords())
			dc.Stroke()
		}
	}

	if !geometry.IsEmpty(s.Parcel.Geometry) {
		polygonPath(dc, proj, s.Parcel.Geometry)
		setColor(dc, colorParcel)
		dc.SetLineWidth(2.5)
		dc.Stroke()
	}

	drawTitle(dc, s)
	drawLegend(dc, float64(width)-legendWidth, mapMargin, best.ID)
	drawScaleBar(dc, proj, float64(height))
	drawNorthArrow(dc, mapMargin+plotSize-20, mapMargin+10)

	if err := dc.SavePNG(path); err != nil {
		return eris.Wrapf(err, "map: save %s", path)
	}
	return nil
}

// mapLayout returns the best layout, or the first one when none is ranked.
func mapLayout(s feasibility.State) (layout.Layout, bool) {
	if l, ok := s.Layout(s.BestLayoutID); ok {
		return l, true
	}
	if len(s.Layouts) > 0 {
		return s.Layouts[0], true
	}
	return layout.Layout{}, false
}

func setColor(dc *gg.Context, c rgba) { dc.SetRGBA(c.r, c.g, c.b, c.a) }

func polygonPath(dc *gg.Context, p projection, mp *geom.MultiPolygon) {
	for _, poly := range geometry.Polygons(mp) {
		for r := 0; r < poly.NumLinearRings(); r++ {
			coords := poly.LinearRing(r).Coords()
			if len(coords) < 3 {
				continue
			}
			dc.NewSubPath()
			for i, c := range coords {
				x, y := p.point(c)
				if i == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.ClosePath()
		}
	}
}

func linePath(dc *gg.Context, p projection, coords []geom.Coord) {
	dc.NewSubPath()
	for i, c := range coords {
		x, y := p.point(c)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
}

// hatch fills mp lightly and clips diagonal lines to it.
func hatch(dc *gg.Context, p projection, mp *geom.MultiPolygon, width, height int) {
	polygonPath(dc, p, mp)
	setColor(dc, colorConstraint)
	dc.FillPreserve()
	dc.Clip()

	setColor(dc, colorHatch)
	dc.SetLineWidth(1)
	h := float64(height)
	for x := -h; x < float64(width); x += hatchSpacing {
		dc.DrawLine(x, h, x+h, 0)
	}
	dc.Stroke()
	dc.ResetClip()
}

func drawTitle(dc *gg.Context, s feasibility.State) {
	title := fmt.Sprintf("Parcel %s", s.ParcelID)
	if s.ZoneCode != "" {
		title += fmt.Sprintf(", zone %s", s.ZoneCode)
	}
	if s.Stopped {
		title += ", not subdividable"
	} else if s.BestLayoutID != "" {
		title += fmt.Sprintf(", best %s (%.0f)", s.BestLayoutID, s.BestScore)
	}
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, mapMargin, mapMargin/2, 0, 0.5)
}

func drawLegend(dc *gg.Context, x, y float64, layoutID string) {
	lots := "Lot lines"
	if layoutID != "" {
		lots = "Lots: " + layoutID
	}
	entries := []struct {
		label string
		draw  func(x, y float64)
	}{
		{"Parcel boundary", func(x, y float64) {
			setColor(dc, colorParcel)
			dc.SetLineWidth(2.5)
			dc.DrawRectangle(x, y, 24, 12)
			dc.Stroke()
		}},
		{"Constraint buffer", func(x, y float64) {
			setColor(dc, colorConstraint)
			dc.DrawRectangle(x, y, 24, 12)
			dc.Fill()
			setColor(dc, colorHatch)
			dc.SetLineWidth(1)
			for i := 0.0; i <= 24; i += hatchSpacing {
				dc.DrawLine(x+i, y+12, x+i+12, y)
			}
			dc.Stroke()
		}},
		{"Buildable area", func(x, y float64) {
			setColor(dc, colorBuildable)
			dc.DrawRectangle(x, y, 24, 12)
			dc.Fill()
		}},
		{lots, func(x, y float64) {
			setColor(dc, colorLot)
			dc.SetLineWidth(1.5)
			dc.SetDash(6, 4)
			dc.DrawRectangle(x, y, 24, 12)
			dc.Stroke()
			dc.SetDash()
		}},
		{"Driveway", func(x, y float64) {
			setColor(dc, colorDriveway)
			dc.SetLineWidth(3)
			dc.DrawLine(x, y+6, x+24, y+6)
			dc.Stroke()
		}},
		{"Building envelope", func(x, y float64) {
			setColor(dc, colorEnvelope)
			dc.SetLineWidth(1.2)
			dc.DrawRectangle(x, y, 24, 12)
			dc.Stroke()
		}},
	}

	boxH := float64(len(entries))*22 + 30
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, y, legendWidth-mapMargin/2, boxH)
	dc.FillPreserve()
	dc.SetRGB(0.4, 0.4, 0.4)
	dc.SetLineWidth(1)
	dc.Stroke()

	dc.SetRGB(0, 0, 0)
	dc.DrawString("Legend", x+10, y+18)
	for i, e := range entries {
		ey := y + 30 + float64(i)*22
		e.draw(x+10, ey)
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(e.label, x+44, ey+6, 0, 0.5)
	}
}

func drawScaleBar(dc *gg.Context, p projection, height float64) {
	target := p.plotSize / 4 / p.scale
	length := niceLengths[0]
	for _, n := range niceLengths {
		if n <= target {
			length = n
		}
	}
	px := length * p.scale
	x, y := mapMargin, height-mapMargin/2

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(2)
	dc.DrawLine(x, y, x+px, y)
	dc.DrawLine(x, y-5, x, y+5)
	dc.DrawLine(x+px, y-5, x+px, y+5)
	dc.Stroke()
	dc.DrawStringAnchored(fmt.Sprintf("%s ft", formatFeet(length)), x+px+8, y, 0, 0.5)
}

func formatFeet(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

func drawNorthArrow(dc *gg.Context, x, y float64) {
	dc.SetRGB(0, 0, 0)
	dc.MoveTo(x, y+6)
	dc.LineTo(x-8, y+30)
	dc.LineTo(x, y+24)
	dc.LineTo(x+8, y+30)
	dc.ClosePath()
	dc.Fill()
	dc.DrawStringAnchored("N", x, y, 0.5, 0.5)
}
