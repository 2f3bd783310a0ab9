package domain

import "strings"

// ValidateRawReport checks a collected report before ingestion.
func ValidateRawReport(r RawReport) error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("id", r.ID, ErrMissingID)
	}
	if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Body) == "" {
		return NewValidationError("title/body", "", ErrEmptyReport)
	}
	if strings.TrimSpace(r.Source) == "" {
		return NewValidationError("source", r.Source, ErrMissingSource)
	}
	if r.Timestamp.IsZero() {
		return NewValidationError("timestamp", "0", ErrMissingTimestamp)
	}
	return nil
}

// Text returns the report's combined title and body, title first.
func (r RawReport) Text() string {
	switch {
	case r.Title == "":
		return r.Body
	case r.Body == "":
		return r.Title
	default:
		return r.Title + ". " + r.Body
	}
}
