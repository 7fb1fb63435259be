package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/feasibility"
)

// Artifact file names inside a run directory.
const (
	GeoPackageFile = "feasibility_layers.gpkg"
	WorkbookFile   = "feasibility_summary.xlsx"
	MapFile        = "feasibility_map.png"
	SummaryFile    = "summary.json"
	ShapefileDir   = "shapefiles"
)

// Artifact keys returned by Export. GeoJSON layers are keyed by layer name.
const (
	ArtifactDir        = "output_dir"
	ArtifactGeoPackage = "geopackage"
	ArtifactShapefiles = "shapefiles"
	ArtifactWorkbook   = "workbook"
	ArtifactMap        = "map"
	ArtifactSummary    = "summary"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Exporter writes run artifacts under <output_root>/<parcel_id>/.
type Exporter struct {
	cfg config.ExportConfig
}

// New creates an exporter.
func New(cfg config.ExportConfig) *Exporter {
	return &Exporter{cfg: cfg}
}

// Dir returns the output directory of a parcel.
func (e *Exporter) Dir(parcelID string) string {
	name := unsafeName.ReplaceAllString(parcelID, "_")
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return filepath.Join(e.cfg.OutputRoot, name)
}

// Export writes every artifact for s and returns the paths of those that
// were written. It runs for stopped pipelines too; layers without geometry
// produce empty files. A failed artifact does not stop the others: the
// errors are combined and returned with the paths that succeeded.
func (e *Exporter) Export(ctx context.Context, s feasibility.State) (map[string]string, error) {
	log := zap.L().With(zap.String("component", "export"), zap.String("parcel_id", s.ParcelID))
	start := time.Now()

	dir := e.Dir(s.ParcelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}
	paths := map[string]string{ArtifactDir: dir}
	var errs error

	layers := BuildLayers(s)
	for _, l := range layers {
		p := filepath.Join(dir, l.Name+".geojson")
		if err := WriteGeoJSON(p, l); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		paths[l.Name] = p
	}
	if err := ctx.Err(); err != nil {
		return paths, multierr.Append(errs, eris.Wrap(err, "export: canceled"))
	}

	gpkg := filepath.Join(dir, GeoPackageFile)
	if err := WriteGeoPackage(ctx, gpkg, layers); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		paths[ArtifactGeoPackage] = gpkg
	}

	if e.cfg.Shapefiles {
		if err := writeShapefiles(filepath.Join(dir, ShapefileDir), layers); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			paths[ArtifactShapefiles] = filepath.Join(dir, ShapefileDir)
		}
	}

	if e.cfg.Workbook {
		wb := filepath.Join(dir, WorkbookFile)
		if err := WriteWorkbook(wb, s); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			paths[ArtifactWorkbook] = wb
		}
	}
	if err := ctx.Err(); err != nil {
		return paths, multierr.Append(errs, eris.Wrap(err, "export: canceled"))
	}

	png := filepath.Join(dir, MapFile)
	if err := RenderMap(png, s, e.cfg.MapWidth); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		paths[ArtifactMap] = png
	}

	summary := filepath.Join(dir, SummaryFile)
	paths[ArtifactSummary] = summary
	if err := writeSummary(summary, s, paths); err != nil {
		delete(paths, ArtifactSummary)
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		log.Warn("export: some artifacts failed",
			zap.String("dir", dir),
			zap.Int("artifacts", len(paths)),
			zap.Int("failed", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
		return paths, errs
	}
	log.Info("export: artifacts written",
		zap.String("dir", dir),
		zap.Int("artifacts", len(paths)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return paths, nil
}

// writeShapefiles writes one shapefile set per layer into dir.
func writeShapefiles(dir string, layers []Layer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create %s", dir)
	}
	var errs error
	for _, l := range layers {
		if _, err := WriteShapefile(dir, l); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func writeSummary(path string, s feasibility.State, paths map[string]string) error {
	sum := s.Summary()
	sum.Artifacts = paths
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: encode summary")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
