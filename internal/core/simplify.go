package core

import (
	"container/heap"
	"fmt"
)

// Transfer is one suggested payment that moves From's debt to To.
type Transfer struct {
	From   MemberID
	To     MemberID
	Amount Money
}

// Simplify suggests payments that bring every balance to zero.
//
// It repeatedly matches the largest creditor with the largest debtor
// (ties go to the lower member ID) and moves the smaller of the two
// magnitudes. Each step zeroes at least one side, so n non-zero balances
// need at most n-1 transfers. This is a greedy heuristic: the fewest
// possible transfers is NP-hard in general and not guaranteed here.
func Simplify(b Balances) ([]Transfer, error) {
	if sum := b.Sum(); !sum.IsZero() {
		return nil, fmt.Errorf("%w: off by %s", ErrUnbalancedBalances, sum)
	}

	creditors := &positionHeap{}
	debtors := &positionHeap{}
	for _, mb := range b.Sorted() {
		switch {
		case mb.Balance.IsPositive():
			heap.Push(creditors, position{id: mb.MemberID, amount: mb.Balance})
		case mb.Balance.IsNegative():
			heap.Push(debtors, position{id: mb.MemberID, amount: mb.Balance.Neg()})
		}
	}

	var transfers []Transfer
	for creditors.Len() > 0 && debtors.Len() > 0 {
		c := heap.Pop(creditors).(position)
		d := heap.Pop(debtors).(position)

		amt := c.amount
		if d.amount.Cmp(amt) < 0 {
			amt = d.amount
		}
		transfers = append(transfers, Transfer{From: d.id, To: c.id, Amount: amt})

		if c.amount = c.amount.Sub(amt); c.amount.IsPositive() {
			heap.Push(creditors, c)
		}
		if d.amount = d.amount.Sub(amt); d.amount.IsPositive() {
			heap.Push(debtors, d)
		}
	}
	return transfers, nil
}

// Apply returns the balances left after the transfers are paid.
func (b Balances) Apply(transfers []Transfer) Balances {
	out := make(Balances, len(b))
	for id, m := range b {
		out[id] = m
	}
	for _, t := range transfers {
		out[t.From] = out[t.From].Add(t.Amount)
		out[t.To] = out[t.To].Sub(t.Amount)
	}
	return out
}

type position struct {
	id     MemberID
	amount Money // magnitude, always positive
}

// positionHeap is a max-heap on amount, then min on member ID.
type positionHeap []position

func (h positionHeap) Len() int { return len(h) }

func (h positionHeap) Less(i, j int) bool {
	if c := h[i].amount.Cmp(h[j].amount); c != 0 {
		return c > 0
	}
	return h[i].id < h[j].id
}

func (h positionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *positionHeap) Push(x any) { *h = append(*h, x.(position)) }

func (h *positionHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
