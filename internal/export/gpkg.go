package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/parcel-feasibility/internal/geometry"
)

// StatePlaneWKT is the ESRI WKT of the working CRS, used for the GeoPackage
// spatial reference table and shapefile .prj files.
const StatePlaneWKT = `PROJCS["NAD_1983_StatePlane_Washington_North_FIPS_4601_Feet",` +
	`GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],` +
	`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic"],` +
	`PARAMETER["False_Easting",1640416.666666667],PARAMETER["False_Northing",0.0],` +
	`PARAMETER["Central_Meridian",-120.8333333333333],PARAMETER["Standard_Parallel_1",47.5],` +
	`PARAMETER["Standard_Parallel_2",48.73333333333333],PARAMETER["Latitude_Of_Origin",47.0],` +
	`UNIT["Foot_US",0.3048006096012192]]`

// GeoPackage identification, version 1.3.
const (
	gpkgApplicationID = 0x47504B47
	gpkgUserVersion   = 10300
)

const gpkgSchema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL REFERENCES gpkg_contents(table_name),
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL REFERENCES gpkg_spatial_ref_sys(srs_id),
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	PRIMARY KEY (table_name, column_name)
);
`

// WriteGeoPackage writes every layer as a feature table of a new GeoPackage
// at path, replacing any existing file.
func WriteGeoPackage(ctx context.Context, path string, layers []Layer) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "gpkg: remove %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "gpkg: open")
	}
	defer db.Close() //nolint:errcheck

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA application_id=%d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version=%d", gpkgUserVersion),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return eris.Wrapf(err, "gpkg: exec %s", pragma)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "gpkg: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, gpkgSchema); err != nil {
		return eris.Wrap(err, "gpkg: create metadata tables")
	}
	for _, srs := range []struct {
		name, org  string
		id, code   int
		definition string
	}{
		{"Undefined cartesian SRS", "NONE", -1, -1, "undefined"},
		{"Undefined geographic SRS", "NONE", 0, 0, "undefined"},
		{"NAD83 / Washington North (ftUS)", "EPSG", geometry.WorkingSRID, geometry.WorkingSRID, StatePlaneWKT},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition) VALUES (?, ?, ?, ?, ?)`,
			srs.name, srs.id, srs.org, srs.code, srs.definition,
		); err != nil {
			return eris.Wrapf(err, "gpkg: insert srs %d", srs.id)
		}
	}

	for _, l := range layers {
		if err := writeFeatureTable(ctx, tx, l); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "gpkg: commit")
}

func writeFeatureTable(ctx context.Context, tx *sql.Tx, l Layer) error {
	cols := []string{"fid INTEGER PRIMARY KEY AUTOINCREMENT", "geom " + gpkgGeometryType(l.Kind)}
	names := []string{"geom"}
	for _, f := range l.Fields {
		cols = append(cols, fmt.Sprintf("%q %s", f.Name, sqlType(f.Type)))
		names = append(names, fmt.Sprintf("%q", f.Name))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %q (%s)", l.Name, strings.Join(cols, ", "))); err != nil {
		return eris.Wrapf(err, "gpkg: create table %s", l.Name)
	}

	var minX, minY, maxX, maxY any
	if len(l.Features) > 0 {
		b := l.Bounds()
		minX, minY, maxX, maxY = b.MinX, b.MinY, b.MaxX, b.MaxY
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		l.Name, l.Name, minX, minY, maxX, maxY, geometry.WorkingSRID,
	); err != nil {
		return eris.Wrapf(err, "gpkg: register %s", l.Name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, 'geom', ?, ?, 0, 0)`,
		l.Name, gpkgGeometryType(l.Kind), geometry.WorkingSRID,
	); err != nil {
		return eris.Wrapf(err, "gpkg: register geometry column %s", l.Name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", l.Name, strings.Join(names, ", "), placeholders))
	if err != nil {
		return eris.Wrapf(err, "gpkg: prepare insert %s", l.Name)
	}
	defer stmt.Close() //nolint:errcheck

	for i, f := range l.Features {
		blob, err := gpkgBlob(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "gpkg: encode %s feature %d", l.Name, i+1)
		}
		args := []any{blob}
		for _, field := range l.Fields {
			args = append(args, f.Properties[field.Name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "gpkg: insert %s feature %d", l.Name, i+1)
		}
	}
	return nil
}

func gpkgGeometryType(k Kind) string {
	if k == Linear {
		return "LINESTRING"
	}
	return "MULTIPOLYGON"
}

func sqlType(t FieldType) string {
	switch t {
	case Real:
		return "REAL"
	case Integer:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// gpkgBlob encodes g as a GeoPackage geometry: the "GP" header with a
// little-endian XY envelope, followed by standard WKB.
func gpkgBlob(g geom.T) ([]byte, error) {
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, err
	}
	b := geometry.Bounds(g)

	var buf bytes.Buffer
	// Version 0; flags: little endian, XY envelope.
	buf.Write([]byte{'G', 'P', 0, 0x03})
	_ = binary.Write(&buf, binary.LittleEndian, int32(geometry.WorkingSRID))
	_ = binary.Write(&buf, binary.LittleEndian, [4]float64{b.MinX, b.MaxX, b.MinY, b.MaxY})
	buf.Write(body)
	return buf.Bytes(), nil
}
