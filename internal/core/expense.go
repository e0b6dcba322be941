package core

import (
	"time"

	"github.com/google/uuid"
)

// NewExpense validates the input against the group's members and resolves
// the split once. The returned expense is version 1 and never changes.
func NewExpense(members []Member, in ExpenseInput) (Expense, error) {
	in = in.normalize()
	shares, err := in.validate(members, in.Amount.Currency)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:          ExpenseID(uuid.NewString()),
		Version:     1,
		Action:      ActionCreated,
		Title:       in.Title,
		Description: in.Description,
		Amount:      in.Amount,
		PayerID:     in.PayerID,
		Split:       in.Split,
		Shares:      shares,
		Category:    in.Category,
		Date:        in.Date,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Supersede produces the next version of e from edited input. e itself is
// left untouched so it stays in the audit trail.
func (e Expense) Supersede(members []Member, in ExpenseInput) (Expense, error) {
	if e.Voided() {
		return Expense{}, ErrExpenseVoided
	}
	in = in.normalize()
	if in.Amount.Currency != e.Amount.Currency {
		return Expense{}, ErrCurrencyMismatch
	}
	shares, err := in.validate(members, e.Amount.Currency)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:          e.ID,
		GroupID:     e.GroupID,
		Version:     e.Version + 1,
		Action:      ActionUpdated,
		Title:       in.Title,
		Description: in.Description,
		Amount:      in.Amount,
		PayerID:     in.PayerID,
		Split:       in.Split,
		Shares:      shares,
		Category:    in.Category,
		Date:        in.Date,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Void produces a tombstone version. The ledger ignores an expense whose
// latest version is voided.
func (e Expense) Void(by MemberID) (Expense, error) {
	if e.Voided() {
		return Expense{}, ErrExpenseVoided
	}
	v := e
	v.Version = e.Version + 1
	v.Action = ActionDeleted
	v.CreatedBy = by
	v.CreatedAt = time.Now().UTC()
	return v, nil
}
