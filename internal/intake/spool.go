// Package intake delivers dispatch documents received by mail. The mail
// transport drops every attachment into a spool directory, optionally with a
// sidecar file carrying the mail subject.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/a3tai/dispatch-sync/internal/extract"
	"github.com/m-mizutani/goerr/v2"
)

const (
	consumedDir   = "consumed"
	rejectedDir   = "rejected"
	subjectSuffix = ".subject"
)

// Document is one received attachment.
type Document struct {
	Kind      extract.Kind
	CaseID    string
	Path      string
	MessageID string
	Subject   string
}

// Source yields documents and takes them back once processed.
type Source interface {
	Fetch(ctx context.Context) ([]Document, error)
	MarkConsumed(ctx context.Context, doc Document) error
}

// Spool reads documents from a directory. A document stays in the spool until
// it is marked consumed, which moves it into the consumed subdirectory.
type Spool struct {
	dir    string
	logger *slog.Logger
}

// NewSpool creates the spool directory layout below dir.
func NewSpool(dir string, logger *slog.Logger) (*Spool, error) {
	for _, d := range []string{dir, filepath.Join(dir, consumedDir), filepath.Join(dir, rejectedDir)} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, goerr.Wrap(err, "failed to create spool directory", goerr.V("dir", d))
		}
	}
	return &Spool{dir: dir, logger: logger.With("component", "intake")}, nil
}

// Fetch returns the waiting documents, oldest first. Documents whose subject
// repeats an earlier one are consumed right away; documents with a subject
// that names no known kind are moved aside.
func (s *Spool) Fetch(ctx context.Context) ([]Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read spool", goerr.V("dir", s.dir))
	}

	type candidate struct {
		name    string
		modTime int64
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].modTime != candidates[j].modTime {
			return candidates[i].modTime < candidates[j].modTime
		}
		return candidates[i].name < candidates[j].name
	})

	seen := make(map[string]bool)
	var docs []Document
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := s.document(c.name)
		if err != nil {
			s.logger.Warn("rejecting spool file", "file", c.name, "error", err)
			if err := s.move(c.name, rejectedDir); err != nil {
				return nil, err
			}
			continue
		}

		if seen[doc.Subject] {
			s.logger.Info("duplicate message, consuming", "subject", doc.Subject, "message_id", doc.MessageID)
			if err := s.MarkConsumed(ctx, doc); err != nil {
				return nil, err
			}
			continue
		}
		seen[doc.Subject] = true
		docs = append(docs, doc)
	}

	s.logger.Debug("fetched spool", "documents", len(docs))
	return docs, nil
}

func (s *Spool) document(name string) (Document, error) {
	subject := strings.TrimSuffix(name, filepath.Ext(name))
	if data, err := os.ReadFile(filepath.Join(s.dir, name+subjectSuffix)); err == nil {
		subject = strings.TrimSpace(string(data))
	} else if !errors.Is(err, os.ErrNotExist) {
		return Document{}, fmt.Errorf("read subject: %w", err)
	}

	kind, caseID, ok := ParseSubject(subject)
	if !ok {
		return Document{}, fmt.Errorf("unknown subject %q", subject)
	}
	if caseID == "" && kind != extract.ScannedReport {
		return Document{}, fmt.Errorf("subject %q carries no case id", subject)
	}

	return Document{
		Kind:      kind,
		CaseID:    caseID,
		Path:      filepath.Join(s.dir, name),
		MessageID: name,
		Subject:   subject,
	}, nil
}

// MarkConsumed moves the document and its subject file out of the spool.
func (s *Spool) MarkConsumed(_ context.Context, doc Document) error {
	if err := s.move(doc.MessageID, consumedDir); err != nil {
		return err
	}
	s.logger.Info("document consumed", "case_id", doc.CaseID, "message_id", doc.MessageID)
	return nil
}

func (s *Spool) move(name, sub string) error {
	for _, n := range []string{name, name + subjectSuffix} {
		err := os.Rename(filepath.Join(s.dir, n), filepath.Join(s.dir, sub, n))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return goerr.Wrap(err, "failed to move spool file", goerr.V("file", n), goerr.V("to", sub))
		}
	}
	return nil
}
