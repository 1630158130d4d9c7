// Package orchestrator decides, per received document, what has to happen in
// the registry and the ledger, and does it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/a3tai/dispatch-sync/internal/extract"
	"github.com/a3tai/dispatch-sync/internal/intake"
	"github.com/a3tai/dispatch-sync/internal/ledger"
	"github.com/a3tai/dispatch-sync/internal/notify"
	"github.com/a3tai/dispatch-sync/internal/registry"
	"github.com/m-mizutani/goerr/v2"
)

// ErrNoRecord is returned for follow-up documents of a case that has no
// registry record in the ledger yet.
var ErrNoRecord = goerr.New("no registry record for case")

// Outcome tells the caller whether a document may be consumed.
type Outcome int

const (
	// Pending means the document must be processed again later.
	Pending Outcome = iota
	// Completed means all side effects happened.
	Completed
	// Duplicate means an earlier document already did the work.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Duplicate:
		return "duplicate"
	default:
		return "pending"
	}
}

// Consumable reports whether the source document can be marked consumed.
func (o Outcome) Consumable() bool {
	return o == Completed || o == Duplicate
}

// Registry field names written by the orchestrator.
const (
	fieldReportStatus      = "aut_created_report"
	fieldSituation         = "ang_sit"
	fieldMeasures          = "mn"
	fieldLeftStationHour   = "zh_fw_ausg_h"
	fieldLeftStationMinute = "zh_fw_ausg_m"
	fieldOnSceneHour       = "zh_am_schad_h"
	fieldOnSceneMinute     = "zh_am_schad_m"

	reportFinished = "finished"
	seeScan        = "Siehe Alarmdepesche - Einsatzrapport"
)

// Extractor reads fields from a document.
type Extractor interface {
	Extract(ctx context.Context, kind extract.Kind, path, caseID string) (extract.Fields, error)
}

// Registry is the part of the registry session the orchestrator uses.
type Registry interface {
	FindRecordID(ctx context.Context, caseID string) (string, error)
	ReadRecordFields(ctx context.Context, recordID string) (map[string]string, error)
	UpdateRecord(ctx context.Context, recordID string, fields map[string]string) ([]string, error)
	AttachFile(ctx context.Context, recordID, path string) error
}

// Ledger keeps per-case state between documents.
type Ledger interface {
	Get(ctx context.Context, caseID string, ns ledger.Namespace, v any) (bool, error)
	Put(ctx context.Context, caseID string, ns ledger.Namespace, v any) error
	Archive(ctx context.Context, caseID, path string) error
	InboxReports(ctx context.Context) ([]ledger.InboxItem, error)
	FetchInbox(ctx context.Context, item ledger.InboxItem, dir string) (string, error)
	RemoveInbox(ctx context.Context, item ledger.InboxItem) error
}

// Orchestrator processes documents one at a time.
type Orchestrator struct {
	extractor Extractor
	registry  Registry
	ledger    Ledger
	notifier  notify.Notifier
	workDir   string
	logger    *slog.Logger
}

// New creates an Orchestrator. workDir receives documents fetched from the
// remote Inbox.
func New(extractor Extractor, reg Registry, led Ledger, notifier notify.Notifier, workDir string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		registry:  reg,
		ledger:    led,
		notifier:  notifier,
		workDir:   workDir,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Process handles one document. Errors leave the document to be retried; the
// returned outcome is only meaningful when err is nil.
func (o *Orchestrator) Process(ctx context.Context, doc intake.Document) (Outcome, error) {
	logger := o.logger.With("case_id", doc.CaseID, "kind", doc.Kind, "message_id", doc.MessageID)
	logger.Info("processing document", "path", doc.Path)

	if err := o.ledger.Archive(ctx, doc.CaseID, doc.Path); err != nil {
		return Pending, wrap(err, "failed to archive document", doc)
	}

	var (
		outcome Outcome
		err     error
	)
	switch doc.Kind {
	case extract.InitialDispatch:
		outcome, err = o.initialDispatch(ctx, doc, logger)
	case extract.StatusUpdate:
		outcome, err = o.statusUpdate(ctx, doc, logger)
	case extract.ClosingProtocol:
		outcome, err = o.closingProtocol(ctx, doc, logger)
	case extract.ScannedReport:
		outcome, err = o.scannedReport(ctx, doc, logger)
	default:
		return Pending, goerr.New("unsupported document kind", goerr.V("kind", doc.Kind.String()), goerr.V("path", doc.Path))
	}
	if err != nil {
		return Pending, err
	}

	logger.Info("document processed", "outcome", outcome)
	return outcome, nil
}

func (o *Orchestrator) initialDispatch(ctx context.Context, doc intake.Document, logger *slog.Logger) (Outcome, error) {
	var snapshot map[string]string
	found, err := o.ledger.Get(ctx, doc.CaseID, ledger.NamespaceRegistry, &snapshot)
	if err != nil {
		return Pending, wrap(err, "failed to read registry snapshot", doc)
	}
	if found {
		logger.Info("registry data already retrieved")
		return Duplicate, nil
	}

	var fields extract.Fields
	found, err = o.ledger.Get(ctx, doc.CaseID, ledger.NamespacePDF, &fields)
	if err != nil {
		return Pending, wrap(err, "failed to read extracted fields", doc)
	}
	if found {
		logger.Info("document already parsed")
	} else {
		fields, err = o.extractor.Extract(ctx, doc.Kind, doc.Path, doc.CaseID)
		if err != nil {
			return Pending, wrap(err, "failed to extract fields", doc)
		}
		if err := o.ledger.Put(ctx, doc.CaseID, ledger.NamespacePDF, fields); err != nil {
			return Pending, wrap(err, "failed to store extracted fields", doc)
		}
		o.notify(ctx, logger, newCaseMessage(doc.CaseID, fields))
	}

	recordID, err := o.registry.FindRecordID(ctx, doc.CaseID)
	if errors.Is(err, registry.ErrRecordNotFound) {
		logger.Warn("case not yet in registry")
		return Pending, nil
	}
	if err != nil {
		return Pending, wrap(err, "failed to look up registry record", doc)
	}
	logger.Info("registry record found", "record_id", recordID)

	snapshot, err = o.readRecord(ctx, doc, recordID)
	if err != nil {
		return Pending, err
	}

	// attach before persisting: a stored snapshot turns every later dispatch
	// copy into a duplicate
	if err := o.registry.AttachFile(ctx, recordID, doc.Path); err != nil {
		return Pending, wrapRecord(err, "failed to attach document", doc, recordID)
	}
	if err := o.putSnapshot(ctx, doc, recordID, snapshot); err != nil {
		return Pending, err
	}
	return Completed, nil
}

func (o *Orchestrator) statusUpdate(ctx context.Context, doc intake.Document, logger *slog.Logger) (Outcome, error) {
	recordID, err := o.recordID(ctx, doc)
	if err != nil {
		return Pending, err
	}

	fields, err := o.readRecord(ctx, doc, recordID)
	if err != nil {
		return Pending, err
	}
	// status printouts carry no fields of their own, so the record is not
	// written; the document is only attached
	if err := o.registry.AttachFile(ctx, recordID, doc.Path); err != nil {
		return Pending, wrapRecord(err, "failed to attach document", doc, recordID)
	}
	if err := o.putSnapshot(ctx, doc, recordID, fields); err != nil {
		return Pending, err
	}

	o.notify(ctx, logger, notify.Message{
		Title: "Feuerwehr Einsatzstatus - " + doc.CaseID,
		Text:  "Einsatzstatus wurde im Rapport abgelegt",
	})
	return Completed, nil
}

func (o *Orchestrator) closingProtocol(ctx context.Context, doc intake.Document, logger *slog.Logger) (Outcome, error) {
	recordID, err := o.recordID(ctx, doc)
	if err != nil {
		return Pending, err
	}

	fields, err := o.readRecord(ctx, doc, recordID)
	if err != nil {
		return Pending, err
	}
	// the registry must have created its report before the protocol can be merged
	if status := fields[fieldReportStatus]; status != reportFinished {
		logger.Warn("registry record not ready to be updated", "record_id", recordID, "status", status)
		return Pending, nil
	}

	protocol, err := o.extractor.Extract(ctx, doc.Kind, doc.Path, doc.CaseID)
	if err != nil {
		return Pending, wrap(err, "failed to extract fields", doc)
	}

	merged := maps.Clone(fields)
	if err := setClock(merged, fieldLeftStationHour, fieldLeftStationMinute, protocol[extract.FieldUnitsLeftStationTime]); err != nil {
		return Pending, wrap(err, "invalid departure time", doc)
	}
	if err := setClock(merged, fieldOnSceneHour, fieldOnSceneMinute, protocol[extract.FieldUnitsOnSceneTime]); err != nil {
		return Pending, wrap(err, "invalid arrival time", doc)
	}

	if err := o.update(ctx, doc, recordID, merged, logger); err != nil {
		return Pending, err
	}
	if err := o.registry.AttachFile(ctx, recordID, doc.Path); err != nil {
		return Pending, wrapRecord(err, "failed to attach document", doc, recordID)
	}
	if err := o.putSnapshot(ctx, doc, recordID, merged); err != nil {
		return Pending, err
	}

	o.notify(ctx, logger, notify.Message{
		Title: "Feuerwehr Einsatz beendet - " + doc.CaseID,
		Text:  "Einsatz beendet",
		Fields: []notify.Field{
			{Title: "Ausgerückt", Value: protocol[extract.FieldUnitsLeftStationTime]},
			{Title: "Vor Ort", Value: protocol[extract.FieldUnitsOnSceneTime]},
		},
	})
	return Completed, nil
}

func (o *Orchestrator) scannedReport(ctx context.Context, doc intake.Document, logger *slog.Logger) (Outcome, error) {
	if doc.CaseID == "" {
		// archived into the Inbox; somebody has to assign it by hand
		o.notify(ctx, logger, notify.Message{
			Title: "Feuerwehr Scan bearbeitet - ohne Einsatznummer",
			Text:  fmt.Sprintf("Scan %s wurde ohne Einsatznummer in die Inbox geladen", doc.MessageID),
		})
		return Completed, nil
	}

	recordID, err := o.recordID(ctx, doc)
	if err != nil {
		return Pending, err
	}

	fields, err := o.readRecord(ctx, doc, recordID)
	if err != nil {
		return Pending, err
	}
	fields[fieldSituation] = seeScan
	fields[fieldMeasures] = seeScan

	if err := o.update(ctx, doc, recordID, fields, logger); err != nil {
		return Pending, err
	}
	if err := o.registry.AttachFile(ctx, recordID, doc.Path); err != nil {
		return Pending, wrapRecord(err, "failed to attach document", doc, recordID)
	}
	if err := o.putSnapshot(ctx, doc, recordID, fields); err != nil {
		return Pending, err
	}

	o.notify(ctx, logger, notify.Message{
		Title: "Feuerwehr Scan bearbeitet - " + doc.CaseID,
		Text:  fmt.Sprintf("Scan %s wurde bearbeitet und in Cloud geladen", doc.CaseID),
	})
	return Completed, nil
}

// ProcessInbox handles scanned reports that were filed into the remote Inbox
// with a case id in their name. Items are removed from the Inbox once done.
func (o *Orchestrator) ProcessInbox(ctx context.Context) error {
	items, err := o.ledger.InboxReports(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, item := range items {
		logger := o.logger.With("case_id", item.CaseID, "key", item.Key)
		logger.Info("found scanned report in inbox")

		local, err := o.ledger.FetchInbox(ctx, item, o.workDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		outcome, err := o.Process(ctx, intake.Document{
			Kind:      extract.ScannedReport,
			CaseID:    item.CaseID,
			Path:      local,
			MessageID: item.Key,
			Subject:   item.Name,
		})
		if rmErr := os.Remove(local); rmErr != nil {
			logger.Warn("failed to remove fetched inbox item", "path", local, "error", rmErr)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !outcome.Consumable() {
			continue
		}
		if err := o.ledger.RemoveInbox(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// recordID returns the registry record id stored for the case.
func (o *Orchestrator) recordID(ctx context.Context, doc intake.Document) (string, error) {
	var snapshot map[string]string
	found, err := o.ledger.Get(ctx, doc.CaseID, ledger.NamespaceRegistry, &snapshot)
	if err != nil {
		return "", wrap(err, "failed to read registry snapshot", doc)
	}
	id := snapshot[registry.EventIDField]
	if !found || id == "" {
		return "", wrap(ErrNoRecord, "document needs an existing registry record", doc)
	}
	return id, nil
}

func (o *Orchestrator) readRecord(ctx context.Context, doc intake.Document, recordID string) (map[string]string, error) {
	fields, err := o.registry.ReadRecordFields(ctx, recordID)
	if err != nil {
		return nil, wrapRecord(err, "failed to read registry record", doc, recordID)
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	return fields, nil
}

// update writes fields to the record. The record id itself is no form field.
func (o *Orchestrator) update(ctx context.Context, doc intake.Document, recordID string, fields map[string]string, logger *slog.Logger) error {
	values := maps.Clone(fields)
	delete(values, registry.EventIDField)

	skipped, err := o.registry.UpdateRecord(ctx, recordID, values)
	if err != nil {
		return wrapRecord(err, "failed to update registry record", doc, recordID)
	}
	if len(skipped) > 0 {
		logger.Warn("registry form lacks fields", "record_id", recordID, "fields", strings.Join(skipped, ","))
	}
	return nil
}

func (o *Orchestrator) putSnapshot(ctx context.Context, doc intake.Document, recordID string, fields map[string]string) error {
	snapshot := maps.Clone(fields)
	if snapshot == nil {
		snapshot = make(map[string]string)
	}
	snapshot[registry.EventIDField] = recordID

	if err := o.ledger.Put(ctx, doc.CaseID, ledger.NamespaceRegistry, snapshot); err != nil {
		return wrapRecord(err, "failed to store registry snapshot", doc, recordID)
	}
	return nil
}

// notify never fails the document; delivery problems are logged.
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, msg notify.Message) {
	if err := o.notifier.Notify(ctx, msg); err != nil {
		logger.Warn("failed to send notification", "title", msg.Title, "error", err)
	}
}

func newCaseMessage(caseID string, f extract.Fields) notify.Message {
	text := strings.Join([]string{
		f[extract.FieldNotes],
		f[extract.FieldAssignedUnits],
	}, "\n\n")

	return notify.Message{
		Title: fmt.Sprintf("Feuerwehr Einsatz - %s: %s", caseID, f[extract.FieldEventCategory]),
		Text:  text,
		Fields: []notify.Field{
			{Title: "Ort", Value: f[extract.FieldLocation]},
			{Title: "Melder", Value: strings.ReplaceAll(f[extract.FieldReportingParty], "\n", " ")},
			{Title: "Hinweis", Value: f[extract.FieldHint]},
			{Title: "Sondersignal", Value: f[extract.FieldSpecialSignal]},
		},
		Link:     notify.MapsLink(f[extract.FieldLocation]),
		LinkText: "Ort auf Karte suchen",
	}
}

// setClock stores the hour and minute of a protocol time in two form fields.
func setClock(fields map[string]string, hourField, minuteField, value string) error {
	value = strings.TrimSpace(value)

	var t time.Time
	var err error
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err = time.Parse(layout, value); err == nil {
			break
		}
	}
	if err != nil {
		return goerr.Wrap(err, "unparseable time", goerr.V("value", value))
	}

	fields[hourField] = strconv.Itoa(t.Hour())
	fields[minuteField] = strconv.Itoa(t.Minute())
	return nil
}

func wrap(err error, msg string, doc intake.Document) error {
	return goerr.Wrap(err, msg,
		goerr.V("caseID", doc.CaseID),
		goerr.V("kind", doc.Kind.String()),
		goerr.V("path", doc.Path))
}

func wrapRecord(err error, msg string, doc intake.Document, recordID string) error {
	return goerr.Wrap(err, msg,
		goerr.V("caseID", doc.CaseID),
		goerr.V("kind", doc.Kind.String()),
		goerr.V("recordID", recordID))
}
