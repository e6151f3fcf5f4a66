// Package exposition parses single lines of the Prometheus text exposition
// format into types.Observation values.
//
// ParseLine is pure. Lines are split on their last whitespace boundary so
// label values may contain spaces; the label block is scanned for key="value"
// pairs and anything that does not match is dropped silently. Comment lines
// return ErrComment and lines with a non-numeric value return ErrMalformed.
// Callers count both and keep going.
package exposition
