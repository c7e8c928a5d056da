package annotation

import "errors"

var (
	// ErrMalformedLayer is returned when the layer JSON is not an annotation
	// layer or does not have the fields its annotations need.
	ErrMalformedLayer = errors.New("malformed annotation layer")

	// ErrUnknownAnnotationType is returned for an annotation whose type tag is
	// not point, com, cell, line, polygon or volume.
	ErrUnknownAnnotationType = errors.New("unknown annotation type")

	// ErrDuplicateID is returned when two annotations in a layer share an id.
	ErrDuplicateID = errors.New("duplicate annotation id")

	// ErrDanglingReference is returned when a child id is missing, has the
	// wrong variant, or is claimed by more than one parent.
	ErrDanglingReference = errors.New("dangling annotation reference")

	// ErrSectionMismatch is returned when the vertices of one polygon do not
	// lie on a single section.
	ErrSectionMismatch = errors.New("polygon spans more than one section")

	// ErrDuplicateSection is returned when two polygons of a volume lie on the
	// same section.
	ErrDuplicateSection = errors.New("volume has two polygons on one section")
)
