package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"breakthebill/internal/amqp"
	"breakthebill/internal/core"
	"breakthebill/internal/log"
	"breakthebill/internal/sheets"
	"breakthebill/internal/storage"

	"golang.org/x/sync/errgroup"
)

// ExportWorker mirrors ledger changes into a spreadsheet. It reads groups
// straight from storage rather than through a balance cache, since the
// writes it reacts to happen in another process.
type ExportWorker struct {
	repo        storage.Repository
	exporter    sheets.Exporter
	concurrency int
	logger      *log.Logger
}

func NewExportWorker(repo storage.Repository, exporter sheets.Exporter, concurrency int, logger *log.Logger) *ExportWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.ForComponent(log.ComponentWorker, "info")
	}
	return &ExportWorker{
		repo:        repo,
		exporter:    exporter,
		concurrency: concurrency,
		logger:      logger,
	}
}

// HandleLedgerEvent processes one event from AMQP. A returned error makes
// the consumer requeue the delivery.
func (w *ExportWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	id := core.GroupID(ev.GroupID)
	w.logger.InfoContext(ctx, "Processing ledger event",
		log.FieldEventType, string(ev.Type),
		log.FieldGroupID, ev.GroupID,
		log.FieldVersion, ev.Version)

	if ev.Type == amqp.EventGroupDeleted {
		if err := w.exporter.RemoveSummary(ctx, id); err != nil {
			return fmt.Errorf("remove summary: %w", err)
		}
		return nil
	}

	g, err := w.repo.GetGroup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// The group was deleted after the event was published.
		w.logger.WarnContext(ctx, "Skipping event for missing group", log.FieldGroupID, ev.GroupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}

	if ev.TouchesHistory() {
		ref, err := w.appendHistory(ctx, g, ev)
		if err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "Exported history row",
			log.FieldGroupID, ev.GroupID,
			"entry_id", ev.EntityID,
			"sheets_ref", ref)
	}

	return w.exportSummary(ctx, g)
}

func (w *ExportWorker) appendHistory(ctx context.Context, g core.Group, ev *amqp.LedgerEvent) (string, error) {
	if ev.Type == amqp.EventSettlementRecorded {
		for _, s := range g.Settlements {
			if string(s.ID) == ev.EntityID {
				ref, err := w.exporter.AppendSettlement(ctx, g, s)
				if err != nil {
					return "", fmt.Errorf("append settlement: %w", err)
				}
				return ref, nil
			}
		}
		return "", fmt.Errorf("settlement %s not found in group %s", ev.EntityID, g.ID)
	}

	for _, e := range g.History(core.ExpenseID(ev.EntityID)) {
		if e.Version == ev.Version {
			ref, err := w.exporter.AppendExpense(ctx, g, e)
			if err != nil {
				return "", fmt.Errorf("append expense: %w", err)
			}
			return ref, nil
		}
	}
	return "", fmt.Errorf("expense %s version %d not found in group %s", ev.EntityID, ev.Version, g.ID)
}

func (w *ExportWorker) exportSummary(ctx context.Context, g core.Group) error {
	s, err := Summarize(g)
	if err != nil {
		return err
	}
	if err := w.exporter.WriteSummary(ctx, s); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Summarize derives the exported overview of g.
func Summarize(g core.Group) (sheets.Summary, error) {
	b := core.ComputeBalances(g)
	transfers, err := core.Simplify(b)
	if err != nil {
		return sheets.Summary{}, fmt.Errorf("simplify group %s: %w", g.ID, err)
	}
	return sheets.Summary{
		GroupID:    g.ID,
		GroupName:  g.Name,
		Currency:   g.Currency,
		Members:    g.Members,
		Balances:   b,
		Transfers:  transfers,
		TotalSpent: g.TotalSpent(),
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

// StartupExport rewrites the summary of every group, a few at a time. It
// recovers from events missed while the worker was down. Failures are
// logged and counted; only listing the groups can fail the call.
func (w *ExportWorker) StartupExport(ctx context.Context) error {
	ids, err := w.repo.ListGroupIDs(ctx)
	if err != nil {
		return fmt.Errorf("list groups for startup export: %w", err)
	}
	if len(ids) == 0 {
		w.logger.InfoContext(ctx, "No groups to export on startup")
		return nil
	}

	var synced, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			group, err := w.repo.GetGroup(gctx, id)
			if err == nil {
				err = w.exportSummary(gctx, group)
			}
			if err != nil {
				failed.Add(1)
				w.logger.ErrorContext(gctx, "Failed to export group during startup",
					log.FieldGroupID, string(id), log.FieldError, err)
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.InfoContext(ctx, "Startup export completed",
		"total", len(ids),
		"synced", synced.Load(),
		"errors", failed.Load())
	return ctx.Err()
}
