package source

import "errors"

var (
	// ErrUnsupportedSource is returned when Open cannot tell how to read a path.
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrMalformedRecord is returned when an input record cannot be decoded.
	ErrMalformedRecord = errors.New("malformed source record")

	// ErrNotBundle is returned when a FHIR file is not a Bundle resource.
	ErrNotBundle = errors.New("not a FHIR bundle")
)
