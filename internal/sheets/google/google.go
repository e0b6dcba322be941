package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"breakthebill/internal/core"
	"breakthebill/internal/log"
	ports "breakthebill/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const (
	defaultHistorySheet = "Ledger"
	summarySheetBase    = "Balances"
)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID   string
	SheetName       string // history sheet, default "Ledger"
	CredentialsJSON string
	CredentialsFile string
}

// Exporter mirrors group ledgers into one spreadsheet: a shared history
// sheet plus one balance sheet per group.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	historySheet  string
	logger        *log.Logger

	mu     sync.Mutex
	sheets map[string]int64 // title -> sheet ID, filled lazily
}

// Ensure interface conformance
var _ ports.Exporter = (*Exporter)(nil)

// New creates an exporter authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Exporter, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if logger == nil {
		logger = log.ForComponent(log.ComponentSheets, "info")
	}

	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	history := strings.TrimSpace(cfg.SheetName)
	if history == "" {
		history = defaultHistorySheet
	}

	logger.InfoContext(ctx, "Google Sheets exporter ready", "history_sheet", history)
	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		historySheet:  history,
		logger:        logger,
	}, nil
}

// loadCredentials prefers inline JSON, then the configured file, then
// GOOGLE_APPLICATION_CREDENTIALS.
func loadCredentials(cfg Config) ([]byte, error) {
	if j := strings.TrimSpace(cfg.CredentialsJSON); j != "" {
		return []byte(j), nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

func (x *Exporter) AppendExpense(ctx context.Context, g core.Group, e core.Expense) (string, error) {
	return x.appendHistory(ctx, expenseRow(g, e))
}

func (x *Exporter) AppendSettlement(ctx context.Context, g core.Group, s core.Settlement) (string, error) {
	return x.appendHistory(ctx, settlementRow(g, s))
}

func (x *Exporter) appendHistory(ctx context.Context, row []any) (string, error) {
	if x.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	created, err := x.ensureSheet(ctx, x.historySheet)
	if err != nil {
		return "", err
	}

	values := [][]any{row}
	if created {
		values = [][]any{historyHeader, row}
	}
	rng := quoteSheet(x.historySheet) + "!A:R"
	resp, err := x.svc.Spreadsheets.Values.Append(x.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", x.historySheet, err)
	}
	if resp.Updates != nil {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

// WriteSummary clears the group's balance sheet and writes it again.
func (x *Exporter) WriteSummary(ctx context.Context, s ports.Summary) error {
	if x.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := summarySheetTitle(summarySheetBase, s.GroupID)
	if _, err := x.ensureSheet(ctx, title); err != nil {
		return err
	}

	sheet := quoteSheet(title)
	if _, err := x.svc.Spreadsheets.Values.Clear(x.spreadsheetID, sheet+"!A:Z", &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", title, err)
	}
	if _, err := x.svc.Spreadsheets.Values.Update(x.spreadsheetID, sheet+"!A1", &gsheet.ValueRange{Values: summaryRows(s)}).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("write sheet %s: %w", title, err)
	}

	x.logger.DebugContext(ctx, "Wrote balance sheet",
		log.FieldGroupID, string(s.GroupID),
		log.FieldTransfers, len(s.Transfers))
	return nil
}

// RemoveSummary deletes the balance sheet of a deleted group, if any.
func (x *Exporter) RemoveSummary(ctx context.Context, groupID core.GroupID) error {
	if x.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := summarySheetTitle(summarySheetBase, groupID)
	id, ok, err := x.lookupSheet(ctx, title)
	if err != nil || !ok {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{
		{DeleteSheet: &gsheet.DeleteSheetRequest{SheetId: id}},
	}}
	if _, err := x.svc.Spreadsheets.BatchUpdate(x.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete sheet %s: %w", title, err)
	}

	x.mu.Lock()
	delete(x.sheets, title)
	x.mu.Unlock()
	return nil
}

// ensureSheet creates title when missing and reports whether it did.
func (x *Exporter) ensureSheet(ctx context.Context, title string) (bool, error) {
	_, ok, err := x.lookupSheet(ctx, title)
	if err != nil || ok {
		return false, err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{
		{AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}}},
	}}
	resp, err := x.svc.Spreadsheets.BatchUpdate(x.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("add sheet %s: %w", title, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range resp.Replies {
		if r.AddSheet != nil && r.AddSheet.Properties != nil {
			x.sheets[title] = r.AddSheet.Properties.SheetId
		}
	}
	x.logger.InfoContext(ctx, "Created sheet", "sheet", title)
	return true, nil
}

// lookupSheet consults the cached sheet list, refreshing it on a miss.
func (x *Exporter) lookupSheet(ctx context.Context, title string) (int64, bool, error) {
	x.mu.Lock()
	id, ok := x.sheets[title]
	x.mu.Unlock()
	if ok {
		return id, true, nil
	}

	ss, err := x.svc.Spreadsheets.Get(x.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("read spreadsheet: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.sheets = make(map[string]int64, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			x.sheets[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	id, ok = x.sheets[title]
	return id, ok, nil
}
