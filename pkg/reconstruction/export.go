package reconstruction

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"brainsharer/internal/models"
	"brainsharer/pkg/annotation"
	"brainsharer/pkg/coords"
	"brainsharer/pkg/raster"
	"brainsharer/pkg/session"
)

// cellDescription inverts session.CellSource.
func cellDescription(source string) string {
	switch source {
	case models.HumanPositive:
		return "positive"
	case models.HumanNegative:
		return "negative"
	default:
		return ""
	}
}

// ExportCOMs converts stored centers of mass back to viewer COM points.
func ExportCOMs(n *coords.Normalizer, description string, rows []models.StructureCOMRow) ([]interface{}, error) {
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		p, err := annotation.NewPointAnnotation(n.ToPixels(models.Point3D{X: row.X, Y: row.Y, Z: row.Z}),
			annotation.KindCOM, description, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ExportCells converts stored marked cells back to viewer cells. The cell
// source becomes the description and the cell type the category.
func ExportCells(n *coords.Normalizer, rows []models.MarkedCell) ([]interface{}, error) {
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		category := row.CellType
		if category == "" {
			category = models.Unmarked
		}
		p, err := annotation.NewPointAnnotation(n.ToPixels(models.Point3D{X: row.X, Y: row.Y, Z: row.Z}),
			annotation.KindCell, cellDescription(row.Source), category)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// splitPolygons groups polygon rows by polygon index, each in point order.
func splitPolygons(rows []models.PolygonPoint) (indexes []int, polygons map[int][]models.PolygonPoint) {
	polygons = make(map[int][]models.PolygonPoint)
	for _, row := range rows {
		if _, ok := polygons[row.PolygonIndex]; !ok {
			indexes = append(indexes, row.PolygonIndex)
		}
		polygons[row.PolygonIndex] = append(polygons[row.PolygonIndex], row)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pts := polygons[idx]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].PointOrder < pts[j].PointOrder })
	}
	return indexes, polygons
}

// ExportPolygons converts a stored polygon sequence back to a viewer volume
// with one polygon per polygon index.
func ExportPolygons(n *coords.Normalizer, description string, rows []models.PolygonPoint) ([]interface{}, error) {
	indexes, polygons := splitPolygons(rows)
	vertices := make([][]models.Point3D, 0, len(indexes))
	for _, idx := range indexes {
		pts := make([]models.Point3D, len(polygons[idx]))
		for i, row := range polygons[idx] {
			pts[i] = n.ToPixels(models.Point3D{X: row.X, Y: row.Y, Z: row.Z})
		}
		vertices = append(vertices, pts)
	}
	return annotation.NewVolumeAnnotations(description, vertices)
}

// PolygonsFromRows converts stored polygon rows into rasterizer input on the
// plane of a stack downsampled by factor. Two polygons on one section are
// rejected.
func PolygonsFromRows(n *coords.Normalizer, rows []models.PolygonPoint, factor float64) (raster.Polygons, error) {
	indexes, polygons := splitPolygons(rows)
	out := make(raster.Polygons, len(indexes))
	for _, idx := range indexes {
		var section int
		pts := make([]models.Point2D, len(polygons[idx]))
		for i, row := range polygons[idx] {
			p, err := n.ToDownsampled(models.Point3D{X: row.X, Y: row.Y, Z: row.Z}, factor)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				section = int(p.Z)
			} else if int(p.Z) != section {
				return nil, fmt.Errorf("%w: polygon %d spans sections %d and %d",
					annotation.ErrSectionMismatch, idx, section, int(p.Z))
			}
			pts[i] = models.Point2D{X: p.X, Y: p.Y}
		}
		if _, dup := out[section]; dup {
			return nil, fmt.Errorf("%w: section %d holds more than one polygon",
				annotation.ErrDuplicateSection, section)
		}
		out[section] = pts
	}
	return out, nil
}

// RasterizeRows rasterizes a stored polygon sequence the same way Process
// rasterizes a volume annotation.
func (r *Reconstructor) RasterizeRows(name string, rows []models.PolygonPoint) (*Structure, error) {
	n, err := coords.NewNormalizer(r.params.Scale)
	if err != nil {
		return nil, err
	}
	// Rows are converted to full-resolution pixels; rasterize applies the
	// downsample factor.
	contours, err := PolygonsFromRows(n, rows, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "structure %q", name)
	}
	return r.rasterize(name, contours)
}

// ExportSession reads the rows of a stored session and returns them as an
// annotation layer named after the session label.
func ExportSession(ctx context.Context, store *session.Store, n *coords.Normalizer, sess *models.Session) (annotation.LayerJSON, error) {
	var (
		annotations []interface{}
		err         error
	)
	switch sess.AnnotationType {
	case models.StructureCOM:
		var rows []models.StructureCOMRow
		if rows, err = store.StructureCOMs(ctx, sess.ID); err == nil {
			annotations, err = ExportCOMs(n, sess.Label, rows)
		}
	case models.MarkedCellType:
		var rows []models.MarkedCell
		if rows, err = store.MarkedCells(ctx, sess.ID); err == nil {
			annotations, err = ExportCells(n, rows)
		}
	case models.PolygonSequence:
		var rows []models.PolygonPoint
		if rows, err = store.PolygonPoints(ctx, sess.ID); err == nil && len(rows) > 0 {
			annotations, err = ExportPolygons(n, sess.Label, rows)
		}
	default:
		err = errors.Errorf("unknown annotation type %q", sess.AnnotationType)
	}
	if err != nil {
		return annotation.LayerJSON{}, errors.Wrapf(err, "export session %d", sess.ID)
	}
	return annotation.NewLayer(sess.Label, annotations), nil
}
