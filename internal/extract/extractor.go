// Package extract turns dispatch PDFs into named fields using fixed page layouts.
package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/a3tai/dispatch-sync/internal/pdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fields maps a field name to its extracted text.
type Fields map[string]string

// Extractor reads the fields of a document kind from its layout.
type Extractor struct {
	reader  pdf.RegionReader
	layouts Layouts
	logger  *slog.Logger
}

// New creates an Extractor. A nil layouts map selects DefaultLayouts.
func New(reader pdf.RegionReader, layouts Layouts, logger *slog.Logger) *Extractor {
	if layouts == nil {
		layouts = DefaultLayouts()
	}
	return &Extractor{
		reader:  reader,
		layouts: layouts,
		logger:  logger.With("component", "extract"),
	}
}

// Layout returns the layout used for kind.
func (e *Extractor) Layout(kind Kind) (Layout, bool) {
	l, ok := e.layouts[kind]
	return l, ok
}

// Extract reads all required fields of kind from the PDF at path and checks
// that the document belongs to caseID. It returns either every field or an
// *Error.
func (e *Extractor) Extract(ctx context.Context, kind Kind, path, caseID string) (Fields, error) {
	layout, ok := e.layouts[kind]
	if !ok {
		return nil, &Error{Type: ErrorTypeUnknownLayout, Document: kind, Path: path}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := e.reader.ReadRegions(path, layout.Page, layout.regions())
	if err != nil {
		return nil, &Error{Type: ErrorTypeFileUnreadable, Document: kind, Path: path, Err: err}
	}

	found := strings.TrimSpace(raw[layout.Identity.Name])
	if found != caseID {
		return nil, &Error{
			Type:     ErrorTypeIdentityMismatch,
			Document: kind,
			Path:     path,
			Field:    layout.Identity.Name,
			Expected: caseID,
			Found:    found,
		}
	}

	fields := make(Fields, len(layout.Fields))
	for _, f := range layout.Fields {
		value := applyTransform(f.Transform, strings.TrimSpace(raw[f.Name]))
		if value == "" {
			return nil, &Error{Type: ErrorTypeMissingField, Document: kind, Path: path, Field: f.Name}
		}
		fields[f.Name] = value
	}

	e.logger.Debug("extracted fields", "kind", kind, "case_id", caseID, "path", path, "count", len(fields))
	return fields, nil
}

func applyTransform(name, value string) string {
	switch name {
	case TransformTitle:
		return cases.Title(language.Und).String(value)
	default:
		return value
	}
}
