package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	SplitEqual      SplitKind = "equal"
	SplitCustom     SplitKind = "custom"
	SplitPercentage SplitKind = "percentage"
)

const (
	// Hundred is 100.00% expressed in basis points.
	Hundred BasisPoints = 10000
	// PercentTolerance is the rounding slack accepted on the percentage sum.
	PercentTolerance BasisPoints = 1
)

type (
	SplitKind string

	// BasisPoints is a percentage with two decimals: 3333 == 33.33%.
	BasisPoints int64

	// ParticipantShare is one member's entry in a split. Amount is read for
	// custom splits and Percent for percentage splits. Bonus is owed on top
	// of the computed share and never counts toward the total.
	ParticipantShare struct {
		MemberID MemberID
		Amount   Money
		Percent  BasisPoints
		Bonus    Money
		Excluded bool
	}

	SplitSpec struct {
		Kind         SplitKind
		Total        Money
		Participants []ParticipantShare
	}

	// Shares maps each included participant to what they owe for one expense.
	Shares map[MemberID]Money
)

func (k SplitKind) Valid() bool {
	switch k {
	case SplitEqual, SplitCustom, SplitPercentage:
		return true
	}
	return false
}

// ParsePercent converts "33.33" (or "33,33") to basis points. At most two
// decimals are accepted.
func ParsePercent(s string) (BasisPoints, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" || hasFrac && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if s == "" || len(fracPart) > 2 || !isDigits(intPart) || !isDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	fracPart += strings.Repeat("0", 2-len(fracPart))
	bp, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil || BasisPoints(bp) > Hundred {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	return BasisPoints(bp), nil
}

func (b BasisPoints) String() string {
	sign := ""
	if b < 0 {
		sign = "-"
		b = -b
	}
	return fmt.Sprintf("%s%d.%02d", sign, b/100, b%100)
}

// Sum adds every share.
func (s Shares) Sum() Money {
	var total Money
	for _, m := range s {
		total = total.Add(m)
	}
	return total
}

// Included returns the participants that take part in the split, ordered by
// ascending member ID. That order decides who receives leftover minor units.
func (spec SplitSpec) Included() []ParticipantShare {
	out := make([]ParticipantShare, 0, len(spec.Participants))
	for _, p := range spec.Participants {
		if !p.Excluded {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b ParticipantShare) int {
		return strings.Compare(string(a.MemberID), string(b.MemberID))
	})
	return out
}

// Validate checks the split without computing shares.
func (spec SplitSpec) Validate() error {
	_, err := Resolve(spec)
	return err
}

// Resolve computes every included participant's share of spec.Total plus
// their bonus. Without bonuses the shares sum to spec.Total exactly.
func Resolve(spec SplitSpec) (Shares, error) {
	if !spec.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSplitKind, spec.Kind)
	}
	if err := spec.Total.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[MemberID]struct{}, len(spec.Participants))
	for _, p := range spec.Participants {
		if p.MemberID == "" {
			return nil, ErrUnknownMember
		}
		if _, dup := seen[p.MemberID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.MemberID)
		}
		seen[p.MemberID] = struct{}{}
	}

	included := spec.Included()
	if len(included) == 0 {
		return nil, ErrNoParticipants
	}
	for _, p := range included {
		if p.Bonus.IsNegative() {
			return nil, fmt.Errorf("%w: negative bonus for %s", ErrInvalidAmount, p.MemberID)
		}
		if !p.Bonus.IsZero() && !p.Bonus.SameCurrency(spec.Total) {
			return nil, ErrCurrencyMismatch
		}
	}

	var (
		base []Money
		err  error
	)
	switch spec.Kind {
	case SplitEqual:
		base = splitEqual(spec.Total, len(included))
	case SplitCustom:
		base, err = splitCustom(spec.Total, included)
	case SplitPercentage:
		base, err = splitPercentage(spec.Total, included)
	}
	if err != nil {
		return nil, err
	}

	shares := make(Shares, len(included))
	sum := Money{Currency: spec.Total.Currency}
	for i, p := range included {
		if base[i].IsNegative() {
			return nil, fmt.Errorf("%w: %s", ErrNegativeShare, p.MemberID)
		}
		share, err := base[i].CheckedAdd(p.Bonus)
		if err != nil {
			return nil, fmt.Errorf("bonus for %s: %w", p.MemberID, err)
		}
		// Shares must stay summable wherever the ledger folds them.
		if sum, err = sum.CheckedAdd(share); err != nil {
			return nil, err
		}
		shares[p.MemberID] = share
	}
	return shares, nil
}

func splitEqual(total Money, n int) []Money {
	base, rem := total.Scale(1, int64(n))
	out := make([]Money, n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i].Minor++
		}
	}
	return out
}

func splitCustom(total Money, included []ParticipantShare) ([]Money, error) {
	out := make([]Money, len(included))
	sum := Money{Currency: total.Currency}
	for i, p := range included {
		if p.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount for %s", ErrInvalidAmount, p.MemberID)
		}
		if !p.Amount.IsZero() && !p.Amount.SameCurrency(total) {
			return nil, ErrCurrencyMismatch
		}
		if p.Amount.Cmp(total) > 0 {
			return nil, fmt.Errorf("%w: amount for %s exceeds the total", ErrInvalidAmount, p.MemberID)
		}
		out[i] = Money{Minor: p.Amount.Minor, Currency: total.Currency}
		var err error
		if sum, err = sum.CheckedAdd(out[i]); err != nil {
			return nil, err
		}
	}
	if sum.Cmp(total) != 0 {
		return nil, &UnbalancedSplitError{Kind: SplitCustom, Delta: total.Sub(sum)}
	}
	return out, nil
}

// splitPercentage uses the largest-remainder method over the actual
// percentage sum, so the shares always add up to total even inside the
// tolerance band.
func splitPercentage(total Money, included []ParticipantShare) ([]Money, error) {
	var sum BasisPoints
	for _, p := range included {
		if p.Percent < 0 || p.Percent > Hundred {
			return nil, fmt.Errorf("%w: %s for %s", ErrInvalidPercent, p.Percent, p.MemberID)
		}
		sum += p.Percent
	}
	if delta := Hundred - sum; delta > PercentTolerance || delta < -PercentTolerance {
		return nil, &UnbalancedSplitError{Kind: SplitPercentage, DeltaBasisPoints: delta}
	}

	out := make([]Money, len(included))
	rems := make([]int64, len(included))
	allocated := Money{Currency: total.Currency}
	for i, p := range included {
		out[i], rems[i] = total.Scale(int64(p.Percent), int64(sum))
		allocated = allocated.Add(out[i])
	}

	// Indices ordered by largest remainder; ties keep member ID order since
	// included is already sorted and the sort is stable.
	order := make([]int, len(included))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case rems[a] > rems[b]:
			return -1
		case rems[a] < rems[b]:
			return 1
		}
		return 0
	})
	for left, k := total.Minor-allocated.Minor, 0; left > 0; left, k = left-1, k+1 {
		out[order[k%len(order)]].Minor++
	}
	return out, nil
}
