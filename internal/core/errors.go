package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrInvalidPercent       = errors.New("invalid percentage")
	ErrUnbalancedSplit      = errors.New("unbalanced split")
	ErrNoParticipants       = errors.New("no participants")
	ErrNegativeShare        = errors.New("negative share")
	ErrInvalidSplitKind     = errors.New("invalid split kind")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrInvalidPayer         = errors.New("payer is not a group member")
	ErrUnknownMember        = errors.New("unknown member")
	ErrDuplicateMember      = errors.New("member already in group")
	ErrEmptyTitle           = errors.New("empty title")
	ErrTitleTooLong         = errors.New("title too long (max 200 characters)")
	ErrDescriptionTooLong   = errors.New("description too long (max 1000 characters)")
	ErrEmptyName            = errors.New("name can't be empty")
	ErrExpenseNotFound      = errors.New("expense not found")
	ErrExpenseVoided        = errors.New("expense already deleted")
	ErrStaleVersion         = errors.New("expense version is not the latest")
	ErrSelfSettlement       = errors.New("payer and payee must differ")
	ErrInvalidMethod        = errors.New("invalid settlement method")
	ErrOwnerMustTransfer    = errors.New("owner must transfer ownership first")
	ErrUnbalancedBalances   = errors.New("balances do not sum to zero")
	ErrWrongGroup           = errors.New("record belongs to another group")
	ErrFormerMemberInvolved = errors.New("expense involves a member who left the group")

	// ErrMemberHasOutstandingBalance blocks removing a member whose
	// computed balance is not zero.
	ErrMemberHasOutstandingBalance = errors.New("member has outstanding balance")
)

// UnbalancedSplitError reports how far custom amounts or percentages are
// from the expense total. It matches ErrUnbalancedSplit with errors.Is.
type UnbalancedSplitError struct {
	Kind SplitKind
	// Delta is Total minus the sum of custom amounts: positive means the
	// split is short, negative means it is over.
	Delta Money
	// DeltaBasisPoints is 100% minus the sum of percentages.
	DeltaBasisPoints BasisPoints
}

func (e *UnbalancedSplitError) Error() string {
	switch e.Kind {
	case SplitPercentage:
		if e.DeltaBasisPoints > 0 {
			return fmt.Sprintf("unbalanced split: percentages short by %s%%", e.DeltaBasisPoints)
		}
		return fmt.Sprintf("unbalanced split: percentages over by %s%%", -e.DeltaBasisPoints)
	default:
		if e.Delta.IsPositive() {
			return "unbalanced split: short by " + e.Delta.String()
		}
		return "unbalanced split: over by " + e.Delta.Neg().String()
	}
}

func (e *UnbalancedSplitError) Is(target error) bool {
	return target == ErrUnbalancedSplit
}
