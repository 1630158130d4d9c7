package registry

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/text/encoding/charmap"
)

// EventIDField is the snapshot key holding the registry record id.
const EventIDField = "event_id"

var (
	redirectPattern = regexp.MustCompile(`modul=36&event=([0-9].*)&edit=1&what=144`)
	hrefPattern     = regexp.MustCompile(`.*event=([0-9]{1,})&.*`)

	// the registry expects these values in ISO-8859-1
	latin1Fields = map[string]bool{
		"eins_ereig": true,
		"adr":        true,
		"wer_ala":    true,
	}
)

// recordIDFromRedirect recovers the id of a new record from the page returned
// after the create form was submitted.
func recordIDFromRedirect(body string) (string, bool) {
	m := redirectPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// recordIDFromHref recovers a record id from a listing link.
func recordIDFromHref(href string) (string, bool) {
	m := hrefPattern.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FindRecordID looks up the record for caseID in the record listing.
func (s *Session) FindRecordID(ctx context.Context, caseID string) (string, error) {
	if err := s.ensureSession(ctx); err != nil {
		return "", err
	}

	doc, _, err := s.getPage(ctx, url.Values{"modul": {"36"}})
	if err != nil {
		return "", goerr.Wrap(err, "failed to load record listing", goerr.V("caseID", caseID))
	}

	for _, l := range links(doc) {
		if !strings.Contains(l.text, caseID) && !strings.Contains(l.href, caseID) {
			continue
		}
		if id, ok := recordIDFromHref(l.href); ok {
			s.logger.Info("found registry record", "case_id", caseID, "record_id", id)
			return id, nil
		}
	}
	return "", goerr.Wrap(ErrRecordNotFound, "no listing entry for case", goerr.V("caseID", caseID))
}

// ReadRecordFields returns the current values of a record, flattened to one
// string per form field.
func (s *Session) ReadRecordFields(ctx context.Context, recordID string) (map[string]string, error) {
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}

	doc, _, err := s.getPage(ctx, editQuery(recordID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load record", goerr.V("recordID", recordID))
	}

	fields, err := parseFData(scripts(doc))
	if err != nil {
		return nil, goerr.Wrap(ErrProtocol, "record page has no readable field data",
			goerr.V("recordID", recordID), goerr.V("error", err.Error()))
	}
	return fields, nil
}

// CreateRecord submits a new record and returns the id the registry assigned.
func (s *Session) CreateRecord(ctx context.Context, fields map[string]string) (string, error) {
	if err := s.ensureSession(ctx); err != nil {
		return "", err
	}

	doc, pageURL, err := s.getPage(ctx, url.Values{"modul": {"36"}})
	if err != nil {
		return "", goerr.Wrap(err, "failed to load create form")
	}

	f, ok := findForm(doc, recordFormID)
	if !ok {
		return "", goerr.Wrap(ErrProtocol, "create page has no record form")
	}
	if _, err := s.fill(f, fields); err != nil {
		return "", err
	}

	body, err := s.submit(ctx, pageURL, f)
	if err != nil {
		return "", goerr.Wrap(err, "failed to submit record form")
	}

	id, ok := recordIDFromRedirect(body)
	if !ok {
		return "", goerr.Wrap(ErrProtocol, "response carries no record id")
	}
	s.logger.Info("created registry record", "record_id", id)
	return id, nil
}

// UpdateRecord writes fields into an existing record. Values not mentioned in
// fields keep their current value. It returns the names of fields the form
// does not have; those are skipped.
func (s *Session) UpdateRecord(ctx context.Context, recordID string, fields map[string]string) ([]string, error) {
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}

	doc, pageURL, err := s.getPage(ctx, editQuery(recordID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load record form", goerr.V("recordID", recordID))
	}

	f, ok := findForm(doc, recordFormID)
	if !ok {
		return nil, goerr.Wrap(ErrProtocol, "edit page has no record form", goerr.V("recordID", recordID))
	}

	current, err := parseFData(scripts(doc))
	if err != nil {
		return nil, goerr.Wrap(ErrProtocol, "record page has no readable field data",
			goerr.V("recordID", recordID), goerr.V("error", err.Error()))
	}
	f.seed(s.encodeCurrent(current))

	skipped, err := s.fill(f, fields)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fill record form", goerr.V("recordID", recordID))
	}

	if _, err := s.submit(ctx, pageURL, f); err != nil {
		return nil, goerr.Wrap(err, "failed to submit record form", goerr.V("recordID", recordID))
	}
	s.logger.Info("updated registry record", "record_id", recordID, "fields", len(fields)-len(skipped))
	return skipped, nil
}

// AttachFile uploads a document into the record's attachment slot.
func (s *Session) AttachFile(ctx context.Context, recordID, path string) error {
	if err := s.ensureSession(ctx); err != nil {
		return err
	}

	doc, pageURL, err := s.getPage(ctx, url.Values{"modul": {"36"}, "event": {recordID}, "what": {"828"}})
	if err != nil {
		return goerr.Wrap(err, "failed to load attachment form", goerr.V("recordID", recordID))
	}

	f, ok := findForm(doc, attachFormID)
	if !ok || !f.set(attachField, path) {
		return goerr.Wrap(ErrProtocol, "attachment page has no upload form", goerr.V("recordID", recordID))
	}

	if _, err := s.submit(ctx, pageURL, f); err != nil {
		return goerr.Wrap(err, "failed to upload attachment", goerr.V("recordID", recordID), goerr.V("path", path))
	}
	s.logger.Info("attached file to registry record", "record_id", recordID, "path", path)
	return nil
}

// encodeValue converts a value into the encoding the registry expects for
// the field.
func encodeValue(name, value string) (string, error) {
	if !latin1Fields[name] {
		return value, nil
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().String(value)
	if err != nil {
		return "", goerr.Wrap(err, "value cannot be encoded as ISO-8859-1", goerr.V("field", name))
	}
	return encoded, nil
}

// encodeCurrent prepares values read from fdata for seeding the form.
func (s *Session) encodeCurrent(current map[string]string) map[string]string {
	out := make(map[string]string, len(current))
	for name, value := range current {
		encoded, err := encodeValue(name, value)
		if err != nil {
			s.logger.Warn("current value cannot be re-encoded, sending as read", "field", name)
			encoded = value
		}
		out[name] = encoded
	}
	return out
}

// fill copies fields into the form, encoding the Latin-1 fields.
func (s *Session) fill(f *form, fields map[string]string) ([]string, error) {
	var skipped []string
	for _, name := range sortedKeys(fields) {
		value, err := encodeValue(name, fields[name])
		if err != nil {
			return nil, err
		}
		if !f.set(name, value) {
			s.logger.Warn("registry form has no such field, skipping", "field", name)
			skipped = append(skipped, name)
		}
	}
	return skipped, nil
}

func editQuery(recordID string) url.Values {
	return url.Values{"modul": {"36"}, "what": {"144"}, "edit": {"1"}, "event": {recordID}}
}
