package core

import (
	"slices"
	"strings"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// GroupSummary is a compact overview of a group's spending.
type GroupSummary struct {
	TotalSpent   Money
	ExpenseCount int
	ByCategory   []CategoryAmount
	// PaidBy is how much each member paid out of pocket for current expenses.
	PaidBy map[MemberID]Money
	// OwedBy is the sum of each member's resolved shares, bonuses included.
	OwedBy map[MemberID]Money
}

// Summarize aggregates the current expenses of g. Categories are sorted by
// descending amount, then name.
func Summarize(g Group) GroupSummary {
	sum := GroupSummary{
		TotalSpent: g.Zero(),
		PaidBy:     make(map[MemberID]Money),
		OwedBy:     make(map[MemberID]Money),
	}
	byCat := make(map[string]Money)
	for _, e := range g.CurrentExpenses() {
		sum.ExpenseCount++
		sum.TotalSpent = sum.TotalSpent.Add(e.Amount)
		byCat[e.Category] = byCat[e.Category].Add(e.Amount)
		sum.PaidBy[e.PayerID] = sum.PaidBy[e.PayerID].Add(e.Amount)
		for id, share := range e.Shares {
			sum.OwedBy[id] = sum.OwedBy[id].Add(share)
		}
	}
	for name, amt := range byCat {
		sum.ByCategory = append(sum.ByCategory, CategoryAmount{Name: name, Amount: amt})
	}
	slices.SortFunc(sum.ByCategory, func(a, b CategoryAmount) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return sum
}
