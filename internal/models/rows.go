package models

import "time"

// Unmarked is the category and source used for cells nobody has classified.
const Unmarked = "UNMARKED"

// AnnotationType selects which table an annotation session owns.
type AnnotationType string

const (
	PolygonSequence AnnotationType = "POLYGON_SEQUENCE"
	MarkedCellType  AnnotationType = "MARKED_CELL"
	StructureCOM    AnnotationType = "STRUCTURE_COM"
)

// Valid reports whether t is one of the three known session types.
func (t AnnotationType) Valid() bool {
	switch t {
	case PolygonSequence, MarkedCellType, StructureCOM:
		return true
	}
	return false
}

// Cell sources stored with marked cells.
const (
	HumanPositive = "HUMAN_POSITIVE"
	HumanNegative = "HUMAN_NEGATIVE"
)

// COM sources.
const (
	SourceManual = "MANUAL"
)

// Session is one annotation session: a set of rows owned by an
// (animal, label, annotator, type) tuple.
type Session struct {
	ID             int64
	Animal         string
	Label          string
	Annotator      string
	AnnotationType AnnotationType
	Active         bool
	Created        time.Time
	Updated        time.Time
}

// MarkedCell is a cell position in microns.
type MarkedCell struct {
	X, Y, Z  float64
	Source   string
	CellType string
}

// StructureCOMRow is a structure center of mass in microns.
type StructureCOMRow struct {
	X, Y, Z float64
	Source  string
}

// PolygonPoint is one vertex of a stored polygon sequence in microns.
// PointOrder starts at 1 within a polygon; PolygonIndex starts at 1 within a
// session.
type PolygonPoint struct {
	X, Y, Z      float64
	PointOrder   int
	PolygonIndex int
}

// ArchiveRow is a superseded row kept in the point archive.
type ArchiveRow struct {
	ArchiveID    int64
	SessionID    int64
	X, Y, Z      float64
	Source       string
	CellType     string
	PointOrder   int
	PolygonIndex int
}
