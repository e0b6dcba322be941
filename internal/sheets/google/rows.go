package google

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"breakthebill/internal/core"
	ports "breakthebill/internal/sheets"
)

// historyHeader is written once when the history sheet is created.
var historyHeader = []any{
	"Recorded At", "Group", "Group ID", "Kind", "Entry ID", "Version", "Action",
	"Date", "Title", "Payer", "Payee", "Amount", "Currency", "Category", "Split", "Shares", "By", "Notes",
}

func expenseRow(g core.Group, e core.Expense) []any {
	return []any{
		e.CreatedAt.UTC().Format(time.RFC3339),
		g.Name,
		string(g.ID),
		"expense",
		string(e.ID),
		e.Version,
		string(e.Action),
		e.Date.String(),
		e.Title,
		string(e.PayerID),
		"",
		e.Amount.Decimal(),
		e.Amount.Currency.String(),
		e.Category,
		string(e.Split.Kind),
		formatShares(e.Shares),
		string(e.CreatedBy),
		e.Description,
	}
}

func settlementRow(g core.Group, s core.Settlement) []any {
	return []any{
		s.RecordedAt.UTC().Format(time.RFC3339),
		g.Name,
		string(g.ID),
		"settlement",
		string(s.ID),
		1,
		string(s.Method),
		s.RecordedAt.UTC().Format(time.DateOnly),
		s.Note,
		string(s.PayerID),
		string(s.PayeeID),
		s.Amount.Decimal(),
		s.Amount.Currency.String(),
		"",
		"",
		"",
		string(s.RecordedBy),
		"",
	}
}

// formatShares renders "asha=100.00; bala=50.00" in member order.
func formatShares(shares core.Shares) string {
	ids := make([]string, 0, len(shares))
	for id := range shares {
		ids = append(ids, string(id))
	}
	slices.Sort(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id + "=" + shares[core.MemberID(id)].Decimal()
	}
	return strings.Join(parts, "; ")
}

// summaryRows lays out a group's balance sheet: a title block, one row per
// balance and then the suggested payments.
func summaryRows(s ports.Summary) [][]any {
	rows := [][]any{
		{"Group", s.GroupName},
		{"Currency", s.Currency.String()},
		{"Total spent", s.TotalSpent.Decimal()},
		{"Updated", s.UpdatedAt.UTC().Format(time.RFC3339)},
		{},
		{"Member", "Name", "Balance"},
	}
	for _, mb := range s.Balances.Sorted() {
		rows = append(rows, []any{string(mb.MemberID), s.DisplayName(mb.MemberID), mb.Balance.Decimal()})
	}

	rows = append(rows, []any{}, []any{"From", "To", "Amount"})
	if len(s.Transfers) == 0 {
		rows = append(rows, []any{"All settled"})
	}
	for _, t := range s.Transfers {
		rows = append(rows, []any{s.DisplayName(t.From), s.DisplayName(t.To), t.Amount.Decimal()})
	}
	return rows
}

// summarySheetTitle names the per-group sheet. Titles are capped by the
// Sheets API, so only the ID prefix is used.
func summarySheetTitle(base string, id core.GroupID) string {
	short := string(id)
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s %s", strings.TrimSpace(base), short)
}

// quoteSheet makes a sheet title safe inside an A1 range.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
