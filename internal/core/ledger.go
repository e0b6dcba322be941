package core

import (
	"slices"
	"strings"
)

// Balances maps members to their signed net position. Positive means the
// member is owed money, negative means the member owes.
type Balances map[MemberID]Money

// MemberBalance is one entry of Balances in sorted form.
type MemberBalance struct {
	MemberID MemberID
	Balance  Money
}

// ComputeBalances folds the group's history into net balances. It is
// recomputed from scratch on every call and never mutates g; the result
// always sums to zero.
//
// Every current member appears in the result. Former members appear only
// while their balance is non-zero.
func ComputeBalances(g Group) Balances {
	b := make(Balances, len(g.Members))
	for _, m := range g.Members {
		b[m.ID] = g.Zero()
	}
	add := func(id MemberID, m Money) {
		cur, ok := b[id]
		if !ok {
			cur = g.Zero()
		}
		b[id] = cur.Add(m)
	}

	for _, e := range g.CurrentExpenses() {
		for id, share := range e.Shares {
			if id == e.PayerID {
				continue
			}
			add(e.PayerID, share)
			add(id, share.Neg())
		}
	}
	for _, s := range g.Settlements {
		add(s.PayerID, s.Amount)
		add(s.PayeeID, s.Amount.Neg())
	}

	for id, m := range b {
		if m.IsZero() && !g.IsMember(id) {
			delete(b, id)
		}
	}
	return b
}

func (b Balances) Sum() Money {
	var total Money
	for _, m := range b {
		total = total.Add(m)
	}
	return total
}

// Sorted returns the balances ordered by member ID.
func (b Balances) Sorted() []MemberBalance {
	out := make([]MemberBalance, 0, len(b))
	for id, m := range b {
		out = append(out, MemberBalance{MemberID: id, Balance: m})
	}
	slices.SortFunc(out, func(x, y MemberBalance) int {
		return strings.Compare(string(x.MemberID), string(y.MemberID))
	})
	return out
}

// Settled reports whether every balance is zero.
func (b Balances) Settled() bool {
	for _, m := range b {
		if !m.IsZero() {
			return false
		}
	}
	return true
}
