package labtest

import "errors"

var (
	// ErrDecode is returned when import input is neither a JSON object nor
	// an array, or is not valid JSON at all.
	ErrDecode = errors.New("import payload is not an object or an array of objects")
	// ErrRecordNotFound is returned by Update when the record does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownMetric is returned for metric keys missing from the catalog.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrInvalidValue is returned for values that cannot be stored.
	ErrInvalidValue = errors.New("invalid metric value")
	// ErrEncodingFailed is returned when a collection cannot be serialised.
	ErrEncodingFailed = errors.New("encoding failed")
	// ErrCorruptStore is returned when persisted data cannot be decoded.
	ErrCorruptStore = errors.New("persisted records are corrupt")
	// ErrInvalidPolicy is returned for unknown merge policy names.
	ErrInvalidPolicy = errors.New("invalid merge policy")
)
