package sheets

import (
	"context"
	"time"

	"breakthebill/internal/core"

	"golang.org/x/text/currency"
)

// Ports for outbound adapters.
type (
	// HistoryWriter appends one row per recorded expense version or settlement.
	HistoryWriter interface {
		AppendExpense(ctx context.Context, g core.Group, e core.Expense) (rowRef string, err error)
		AppendSettlement(ctx context.Context, g core.Group, s core.Settlement) (rowRef string, err error)
	}

	// SummaryWriter replaces the balance overview of one group.
	SummaryWriter interface {
		WriteSummary(ctx context.Context, s Summary) error
	}

	// SummaryRemover drops the overview of a deleted group.
	SummaryRemover interface {
		RemoveSummary(ctx context.Context, groupID core.GroupID) error
	}

	Exporter interface {
		HistoryWriter
		SummaryWriter
		SummaryRemover
	}
)

// Summary is what a group's balance sheet shows.
type Summary struct {
	GroupID    core.GroupID
	GroupName  string
	Currency   currency.Unit
	Members    []core.Member
	Balances   core.Balances
	Transfers  []core.Transfer
	TotalSpent core.Money
	UpdatedAt  time.Time
}

// DisplayName falls back to the member ID for people who already left.
func (s Summary) DisplayName(id core.MemberID) string {
	for _, m := range s.Members {
		if m.ID == id {
			return m.DisplayName
		}
	}
	return string(id)
}
