// Package export renders meeting protocols from stored templates to HTML or PDF.
package export

import (
	"errors"

	"fachschaft/api/internal/calendar"
	"fachschaft/api/internal/store"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "html" and "pdf"; an empty value means html.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// ProtocolData is what a protocol template sees as its root value.
type ProtocolData struct {
	Sitzung   store.SitzungWithTops
	Persons   []store.Person
	Calendars []CalendarEvents
}

type CalendarEvents struct {
	Name   string
	Events []calendar.Event
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrInvalidTemplate wraps parse errors of stored template content.
	ErrInvalidTemplate = errors.New("invalid template")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
