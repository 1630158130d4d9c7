// Package daemon runs the polling loop: fetch documents, process them one by
// one, handle the remote Inbox and report a heartbeat.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/a3tai/dispatch-sync/internal/intake"
	"github.com/a3tai/dispatch-sync/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/m-mizutani/goerr/v2"
)

// Processor handles single documents and the remote Inbox.
type Processor interface {
	Process(ctx context.Context, doc intake.Document) (orchestrator.Outcome, error)
	ProcessInbox(ctx context.Context) error
}

// Config controls the loop timing and the heartbeat target.
type Config struct {
	Interval        time.Duration
	DocumentTimeout time.Duration
	HeartbeatURL    string
}

// Daemon polls a source and hands every document to a processor.
type Daemon struct {
	source    intake.Source
	processor Processor
	cfg       Config
	client    *http.Client
	logger    *slog.Logger
}

// New creates a Daemon. Zero durations fall back to one minute for the
// interval and five minutes per document.
func New(source intake.Source, processor Processor, cfg Config, logger *slog.Logger) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 5 * time.Minute
	}

	client := cleanhttp.DefaultClient()
	client.Timeout = 10 * time.Second

	return &Daemon{
		source:    source,
		processor: processor,
		cfg:       cfg,
		client:    client,
		logger:    logger.With("component", "daemon"),
	}
}

// Run polls until ctx is done. Shutdown is only observed between cycles.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting poll loop", "interval", d.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("poll loop stopped")
			return nil
		default:
		}

		d.Cycle(ctx)

		timer := time.NewTimer(d.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("poll loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Cycle runs one poll: every fetched document, then the Inbox, then the
// heartbeat. Failures are logged and retried on the next cycle.
func (d *Daemon) Cycle(ctx context.Context) {
	logger := d.logger.With("cycle_id", uuid.NewString())
	// documents are finished even when shutdown arrives mid-cycle
	work := context.WithoutCancel(ctx)

	docs, err := d.source.Fetch(work)
	if err != nil {
		logError(logger, "failed to fetch documents", err)
	}
	logger.Info("checking for documents", "count", len(docs))

	for _, doc := range docs {
		d.handle(work, logger, doc)
	}

	logger.Info("checking inbox for scanned reports")
	inboxCtx, cancel := context.WithTimeout(work, d.cfg.DocumentTimeout)
	if err := d.processor.ProcessInbox(inboxCtx); err != nil {
		logError(logger, "failed to process inbox", err)
	}
	cancel()

	if err := d.heartbeat(work); err != nil {
		logError(logger, "failed to send heartbeat", err)
	}
}

func (d *Daemon) handle(ctx context.Context, logger *slog.Logger, doc intake.Document) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DocumentTimeout)
	defer cancel()

	logger = logger.With("case_id", doc.CaseID, "kind", doc.Kind, "message_id", doc.MessageID)

	outcome, err := d.processor.Process(ctx, doc)
	if err != nil {
		logError(logger, "failed to process document", err)
		return
	}
	if !outcome.Consumable() {
		logger.Info("document left for a later cycle", "outcome", outcome)
		return
	}
	if err := d.source.MarkConsumed(ctx, doc); err != nil {
		logError(logger, "failed to mark document consumed", err)
	}
}

func (d *Daemon) heartbeat(ctx context.Context) error {
	if d.cfg.HeartbeatURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.HeartbeatURL, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to create heartbeat request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "heartbeat request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return goerr.New("unexpected heartbeat status", goerr.V("status", resp.StatusCode))
	}
	return nil
}

// logError logs err together with the values carried by goerr.
func logError(logger *slog.Logger, msg string, err error) {
	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg, "error", err.Error(), "values", ge.Values())
		return
	}
	logger.Error(msg, "error", err.Error())
}
