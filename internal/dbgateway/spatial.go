package dbgateway

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/dpaw/resource-tracking/internal/apperrors"
)

// LayerMetadata is the subset of ogrinfo's layer report this gateway needs.
type LayerMetadata struct {
	Layer    string
	Features int
	Geometry string
}

var (
	layerNameRe = regexp.MustCompile(`(?m)^Layer name:\s*(.+)$`)
	featureRe   = regexp.MustCompile(`(?m)^Feature Count:\s*(\d+)$`)
	geometryRe  = regexp.MustCompile(`(?m)^Geometry:\s*(.+)$`)
)

// inspectLayer runs "ogrinfo -al -so -ro" on a datasource and parses the
// first layer's metadata, mirroring utils/gdal.py's get_layers (reduced
// to layer name, feature count and geometry type; import/export consult
// only the first two).
func inspectLayer(ctx context.Context, datasource string) (LayerMetadata, error) {
	cmd := exec.CommandContext(ctx, "ogrinfo", "-al", "-so", "-ro", datasource)
	out, err := cmd.Output()
	if err != nil {
		return LayerMetadata{}, fmt.Errorf("ogrinfo %s: %w", datasource, err)
	}

	var meta LayerMetadata
	if m := layerNameRe.FindSubmatch(out); m != nil {
		meta.Layer = string(m[1])
	}
	if m := featureRe.FindSubmatch(out); m != nil {
		meta.Features, _ = strconv.Atoi(string(m[1]))
	}
	if m := geometryRe.FindSubmatch(out); m != nil {
		meta.Geometry = string(m[1])
	}
	if meta.Layer == "" {
		return LayerMetadata{}, fmt.Errorf("ogrinfo %s: no layer found", datasource)
	}
	return meta, nil
}

// InspectSpatialFile reports a spatial file's layer name and feature count
// via ogrinfo. It is the exported half of inspectLayer used by callers
// that only need to read a file, not import/export against a database
// (the archiver's post-upload verification step).
func InspectSpatialFile(ctx context.Context, path string) (LayerMetadata, error) {
	return inspectLayer(ctx, path)
}

// ImportSpatialData imports a spatial file into the database via ogr2ogr,
// deriving a safe table name from the layer name when none is supplied,
// and verifying the imported row count equals the source feature count.
// The command is built as an argument vector, never a shell string, per
// the injection-hazard design note.
func (g *Gateway) ImportSpatialData(ctx context.Context, path, layer, table string, overwrite bool) (string, error) {
	meta, err := inspectLayer(ctx, path)
	if err != nil {
		return "", fmt.Errorf("import spatial data: %w", err)
	}
	if layer == "" {
		layer = meta.Layer
	}
	if table == "" {
		table = sanitizeTableName(layer)
	}

	dsn, err := pgConnectionString(g.dsnParams)
	if err != nil {
		return "", err
	}

	args := []string{"-preserve_fid", "-f", "PostgreSQL", "PG:" + dsn, path, "-nln", table}
	if overwrite {
		args = append(args, "-overwrite")
	}

	cmd := exec.CommandContext(ctx, "ogr2ogr", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%w: ogr2ogr import: %w: %s", apperrors.ErrImportFailure, err, out)
	}

	count, err := g.Count(ctx, table)
	if err != nil {
		return "", fmt.Errorf("counting imported table %s: %w", table, err)
	}
	if int(count) != meta.Features {
		return "", fmt.Errorf("%w: only imported %d/%d features into %s", apperrors.ErrImportFailure, count, meta.Features, table)
	}
	return table, nil
}

// ExportSpatialData exports the result of sql via ogr2ogr. It returns nil
// when the query's row count is zero (no data to export), and verifies
// the exported feature count equals the source row count otherwise.
func (g *Gateway) ExportSpatialData(ctx context.Context, sqlText, filename, fileExt, layer string) (*LayerMetadata, string, error) {
	count, err := g.Count(ctx, sqlText)
	if err != nil {
		return nil, "", fmt.Errorf("counting export query: %w", err)
	}
	if count == 0 {
		return nil, "", nil
	}
	if filename == "" && fileExt == "" {
		return nil, "", fmt.Errorf("export spatial data: specify filename or fileExt")
	}
	if filename == "" {
		if fileExt != "" && fileExt[0] != '.' {
			fileExt = "." + fileExt
		}
		f, err := os.CreateTemp("", "export-*"+fileExt)
		if err != nil {
			return nil, "", fmt.Errorf("creating temp export file: %w", err)
		}
		filename = f.Name()
		f.Close()
		os.Remove(filename) // ogr2ogr must create the file itself
	}

	dsn, err := pgConnectionString(g.dsnParams)
	if err != nil {
		return nil, "", err
	}

	args := []string{"-overwrite", "-preserve_fid"}
	if layer != "" {
		args = append(args, "-nln", layer)
	}
	args = append(args, filename, "PG:"+dsn, "-sql", sqlText)

	cmd := exec.CommandContext(ctx, "ogr2ogr", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, "", fmt.Errorf("%w: ogr2ogr export: %w: %s", apperrors.ErrExportFailure, err, out)
	}

	meta, err := inspectLayer(ctx, filename)
	if err != nil {
		return nil, "", fmt.Errorf("export spatial data: %w", err)
	}
	if meta.Features != int(count) {
		return nil, "", fmt.Errorf("%w: only exported %d/%d features to %s", apperrors.ErrExportFailure, meta.Features, count, filename)
	}
	return &meta, filename, nil
}

func pgConnectionString(p dsnParams) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("missing database host")
	}
	dsn := fmt.Sprintf("host='%s'", p.Host)
	if p.Port != "" {
		dsn += fmt.Sprintf(" port=%s", p.Port)
	}
	dsn += fmt.Sprintf(" dbname='%s'", p.DBName)
	if p.User != "" {
		dsn += fmt.Sprintf(" user='%s'", p.User)
	}
	if p.Password != "" {
		dsn += fmt.Sprintf(" password='%s'", p.Password)
	}
	return dsn, nil
}
