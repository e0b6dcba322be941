package core

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
)

const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Group owns its members and the append-only expense and settlement history.
// Every mutating method validates completely before touching the group, so a
// rejected call leaves it unchanged.
//
// Group has no locking. Callers serialize mutations per group.
type Group struct {
	ID          GroupID
	Name        string
	Currency    currency.Unit
	OwnerID     MemberID
	InviteCode  string
	Members     []Member
	Expenses    []Expense // every version, in append order
	Settlements []Settlement
	CreatedAt   time.Time
}

func NewGroup(name string, cur currency.Unit, owner Member) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrEmptyName
	}
	if owner.ID == "" {
		return Group{}, ErrUnknownMember
	}
	if strings.TrimSpace(owner.DisplayName) == "" {
		return Group{}, ErrEmptyName
	}
	now := time.Now().UTC()
	if owner.JoinedAt.IsZero() {
		owner.JoinedAt = now
	}
	return Group{
		ID:         GroupID(uuid.NewString()),
		Name:       name,
		Currency:   cur,
		OwnerID:    owner.ID,
		InviteCode: NewInviteCode(),
		Members:    []Member{owner},
		CreatedAt:  now,
	}, nil
}

// NewInviteCode returns an 8 character code without ambiguous glyphs.
func NewInviteCode() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf)
}

func (g Group) Member(id MemberID) (Member, bool) {
	for _, m := range g.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

func (g Group) IsMember(id MemberID) bool {
	_, ok := g.Member(id)
	return ok
}

func (g Group) Zero() Money {
	return Money{Currency: g.Currency}
}

func (g *Group) AddMember(m Member) error {
	if m.ID == "" {
		return ErrUnknownMember
	}
	if strings.TrimSpace(m.DisplayName) == "" {
		return ErrEmptyName
	}
	if g.IsMember(m.ID) {
		return ErrDuplicateMember
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	g.Members = append(g.Members, m)
	return nil
}

// RemoveMember handles both leaving and being kicked. Removal is refused
// while the member's balance is not zero; the owner must hand over
// ownership first.
func (g *Group) RemoveMember(id MemberID) error {
	if !g.IsMember(id) {
		return ErrUnknownMember
	}
	if id == g.OwnerID {
		return ErrOwnerMustTransfer
	}
	if bal := ComputeBalances(*g)[id]; !bal.IsZero() {
		return fmt.Errorf("%w: %s", ErrMemberHasOutstandingBalance, bal)
	}
	members := make([]Member, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m.ID != id {
			members = append(members, m)
		}
	}
	g.Members = members
	return nil
}

func (g *Group) TransferOwnership(to MemberID) error {
	if !g.IsMember(to) {
		return ErrUnknownMember
	}
	g.OwnerID = to
	return nil
}

// NewExpense builds version 1 of an expense in this group.
func (g Group) NewExpense(in ExpenseInput) (Expense, error) {
	if in.Amount.Currency != g.Currency {
		return Expense{}, ErrCurrencyMismatch
	}
	e, err := NewExpense(g.Members, in)
	if err != nil {
		return Expense{}, err
	}
	e.GroupID = g.ID
	return e, nil
}

// ReviseExpense builds the next version of an existing expense.
func (g Group) ReviseExpense(id ExpenseID, in ExpenseInput) (Expense, error) {
	h := g.History(id)
	if len(h) == 0 {
		return Expense{}, ErrExpenseNotFound
	}
	latest := h.Latest()
	if err := g.checkCurrentMembers(latest); err != nil {
		return Expense{}, err
	}
	return latest.Supersede(g.Members, in)
}

// VoidExpense builds the tombstone version of an existing expense.
func (g Group) VoidExpense(id ExpenseID, by MemberID) (Expense, error) {
	h := g.History(id)
	if len(h) == 0 {
		return Expense{}, ErrExpenseNotFound
	}
	latest := h.Latest()
	if err := g.checkCurrentMembers(latest); err != nil {
		return Expense{}, err
	}
	return latest.Void(by)
}

// checkCurrentMembers refuses to touch an expense whose payer or owing
// participants have left. Their balance was settled to zero on the way out
// and changing the expense would reopen it with nobody able to settle.
func (g Group) checkCurrentMembers(e Expense) error {
	if e.Voided() {
		return nil
	}
	if !g.IsMember(e.PayerID) {
		return fmt.Errorf("%w: payer %s", ErrFormerMemberInvolved, e.PayerID)
	}
	for id, share := range e.Shares {
		if !share.IsZero() && !g.IsMember(id) {
			return fmt.Errorf("%w: participant %s", ErrFormerMemberInvolved, id)
		}
	}
	return nil
}

func (g Group) NewSettlement(in SettlementInput) (Settlement, error) {
	if in.Amount.Currency != g.Currency {
		return Settlement{}, ErrCurrencyMismatch
	}
	s, err := NewSettlement(g.Members, in)
	if err != nil {
		return Settlement{}, err
	}
	s.GroupID = g.ID
	return s, nil
}

// AppendExpense records an expense version. A new ID must be version 1; a
// known ID must continue its history at latest+1.
func (g *Group) AppendExpense(e Expense) error {
	if e.GroupID != g.ID {
		return ErrWrongGroup
	}
	if e.Amount.Currency != g.Currency {
		return ErrCurrencyMismatch
	}
	h := g.History(e.ID)
	want := 1
	if len(h) > 0 {
		want = h.Latest().Version + 1
	}
	if e.Version != want {
		return fmt.Errorf("%w: got version %d, want %d", ErrStaleVersion, e.Version, want)
	}
	g.Expenses = append(g.Expenses, e)
	return nil
}

func (g *Group) AppendSettlement(s Settlement) error {
	if s.GroupID != g.ID {
		return ErrWrongGroup
	}
	if s.Amount.Currency != g.Currency {
		return ErrCurrencyMismatch
	}
	g.Settlements = append(g.Settlements, s)
	return nil
}

// History returns every version of one expense, oldest first.
func (g Group) History(id ExpenseID) ExpenseHistory {
	var h ExpenseHistory
	for _, e := range g.Expenses {
		if e.ID == id {
			h = append(h, e)
		}
	}
	return h
}

// CurrentExpenses returns the latest version of every expense that has not
// been deleted, in order of first appearance.
func (g Group) CurrentExpenses() []Expense {
	latest := make(map[ExpenseID]int, len(g.Expenses))
	var order []ExpenseID
	for i, e := range g.Expenses {
		if _, seen := latest[e.ID]; !seen {
			order = append(order, e.ID)
		}
		latest[e.ID] = i
	}
	out := make([]Expense, 0, len(order))
	for _, id := range order {
		if e := g.Expenses[latest[id]]; !e.Voided() {
			out = append(out, e)
		}
	}
	return out
}

// TotalSpent sums the amounts of current expenses.
func (g Group) TotalSpent() Money {
	total := g.Zero()
	for _, e := range g.CurrentExpenses() {
		total = total.Add(e.Amount)
	}
	return total
}
