package extract

import (
	"bytes"
	"fmt"
	"os"

	"github.com/a3tai/dispatch-sync/internal/pdf"
	"gopkg.in/yaml.v3"
)

// Field names produced by the default layouts.
const (
	FieldOrderReference       = "order-reference"
	FieldEventCategory        = "event-category"
	FieldDate                 = "date"
	FieldTime                 = "time"
	FieldLocation             = "location"
	FieldReportingParty       = "reporting-party"
	FieldNotes                = "notes"
	FieldAssignedUnits        = "assigned-units"
	FieldSpecialSignal        = "special-signal"
	FieldHint                 = "hint"
	FieldDispatchTime         = "dispatch-time"
	FieldUnitsLeftStationTime = "units-left-station-time"
	FieldUnitsOnSceneTime     = "units-on-scene-time"
)

// TransformTitle capitalizes every word and lower-cases the rest.
const TransformTitle = "title"

// FieldRegion binds a field name to a page rectangle.
type FieldRegion struct {
	Name      string   `yaml:"name"`
	Rect      pdf.Rect `yaml:"rect"`
	Transform string   `yaml:"transform,omitempty"`
}

// Layout describes where the fields of one document kind are printed. Every
// entry in Fields is required. Identity is read only to check the case id.
type Layout struct {
	Page     int           `yaml:"page"`
	Identity FieldRegion   `yaml:"identity"`
	Fields   []FieldRegion `yaml:"fields"`
}

// Layouts holds one layout per document kind.
type Layouts map[Kind]Layout

// DefaultLayouts returns the layouts of the dispatch center's current forms.
func DefaultLayouts() Layouts {
	return Layouts{
		InitialDispatch: {
			Page:     1,
			Identity: FieldRegion{Name: FieldOrderReference, Rect: pdf.Rect{Left: 70, Top: 47, Right: 120, Bottom: 58}},
			Fields: []FieldRegion{
				{Name: FieldDate, Rect: pdf.Rect{Left: 190, Top: 47, Right: 239, Bottom: 58}},
				{Name: FieldTime, Rect: pdf.Rect{Left: 190, Top: 59, Right: 215, Bottom: 70}},
				{Name: FieldReportingParty, Rect: pdf.Rect{Left: 304, Top: 47, Right: 446, Bottom: 70}, Transform: TransformTitle},
				{Name: FieldNotes, Rect: pdf.Rect{Left: 28, Top: 112, Right: 590, Bottom: 350}},
				{Name: FieldAssignedUnits, Rect: pdf.Rect{Left: 28, Top: 366, Right: 450, Bottom: 376}},
				{Name: FieldEventCategory, Rect: pdf.Rect{Left: 76, Top: 690, Right: 450, Bottom: 703}},
				{Name: FieldSpecialSignal, Rect: pdf.Rect{Left: 76, Top: 707, Right: 450, Bottom: 721}},
				{Name: FieldLocation, Rect: pdf.Rect{Left: 76, Top: 732, Right: 590, Bottom: 745}, Transform: TransformTitle},
				{Name: FieldHint, Rect: pdf.Rect{Left: 76, Top: 773, Right: 450, Bottom: 787}},
			},
		},
		ClosingProtocol: {
			Page:     1,
			Identity: FieldRegion{Name: FieldOrderReference, Rect: pdf.Rect{Left: 192, Top: 132, Right: 238, Bottom: 142}},
			Fields: []FieldRegion{
				{Name: FieldDate, Rect: pdf.Rect{Left: 192, Top: 294, Right: 226, Bottom: 304}},
				{Name: FieldDispatchTime, Rect: pdf.Rect{Left: 192, Top: 312, Right: 226, Bottom: 322}},
				{Name: FieldUnitsLeftStationTime, Rect: pdf.Rect{Left: 192, Top: 331, Right: 226, Bottom: 341}},
				{Name: FieldUnitsOnSceneTime, Rect: pdf.Rect{Left: 192, Top: 348, Right: 226, Bottom: 358}},
			},
		},
	}
}

// LoadLayouts reads layouts from a YAML file. Kinds missing from the file keep
// their default layout.
func LoadLayouts(path string) (Layouts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}

	var parsed Layouts
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse layout file %s: %w", path, err)
	}

	layouts := DefaultLayouts()
	for kind, layout := range parsed {
		if layout.Page == 0 {
			layout.Page = 1
		}
		if err := layout.Validate(); err != nil {
			return nil, fmt.Errorf("layout %s in %s: %w", kind, path, err)
		}
		layouts[kind] = layout
	}
	return layouts, nil
}

// Validate checks that a layout can be used for extraction.
func (l Layout) Validate() error {
	if l.Page < 1 {
		return fmt.Errorf("page must be at least 1, got %d", l.Page)
	}
	if l.Identity.Name == "" {
		return fmt.Errorf("identity region has no name")
	}
	if err := l.Identity.Rect.Validate(); err != nil {
		return fmt.Errorf("identity region: %w", err)
	}
	if len(l.Fields) == 0 {
		return fmt.Errorf("no fields defined")
	}

	seen := map[string]bool{l.Identity.Name: true}
	for _, f := range l.Fields {
		if f.Name == "" {
			return fmt.Errorf("field without name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		if err := f.Rect.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		switch f.Transform {
		case "", TransformTitle:
		default:
			return fmt.Errorf("field %q: unknown transform %q", f.Name, f.Transform)
		}
	}
	return nil
}

func (l Layout) regions() map[string]pdf.Rect {
	regions := make(map[string]pdf.Rect, len(l.Fields)+1)
	regions[l.Identity.Name] = l.Identity.Rect
	for _, f := range l.Fields {
		regions[f.Name] = f.Rect
	}
	return regions
}
