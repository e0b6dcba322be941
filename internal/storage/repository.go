package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"breakthebill/internal/core"

	"golang.org/x/text/currency"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write lost a race: a duplicate invite code,
	// member or expense version already exists.
	ErrConflict = errors.New("conflict")
)

// Repository persists groups and their append-only history. Implementations
// return fully loaded groups; callers never see a partially written record.
type Repository interface {
	CreateGroup(ctx context.Context, g core.Group) error
	GetGroup(ctx context.Context, id core.GroupID) (core.Group, error)
	FindGroupByInvite(ctx context.Context, code string) (core.Group, error)
	ListGroups(ctx context.Context, member core.MemberID) ([]core.Group, error)
	ListGroupIDs(ctx context.Context) ([]core.GroupID, error)
	DeleteGroup(ctx context.Context, id core.GroupID) error

	AddMember(ctx context.Context, id core.GroupID, m core.Member) error
	RemoveMember(ctx context.Context, id core.GroupID, member core.MemberID) error
	SetOwner(ctx context.Context, id core.GroupID, owner core.MemberID) error

	// AppendExpense stores one expense version. It fails with ErrConflict
	// unless e.Version is exactly one past the stored latest version.
	AppendExpense(ctx context.Context, e core.Expense) error
	AppendSettlement(ctx context.Context, s core.Settlement) error

	Close() error
}

type splitRecord struct {
	Kind         string              `json:"kind"`
	TotalMinor   int64               `json:"total_minor"`
	Participants []participantRecord `json:"participants"`
}

type participantRecord struct {
	MemberID    string `json:"member_id"`
	AmountMinor int64  `json:"amount_minor,omitempty"`
	PercentBP   int64  `json:"percent_bp,omitempty"`
	BonusMinor  int64  `json:"bonus_minor,omitempty"`
	Excluded    bool   `json:"excluded,omitempty"`
}

func encodeSplit(s core.SplitSpec) (string, error) {
	rec := splitRecord{Kind: string(s.Kind), TotalMinor: s.Total.Minor}
	for _, p := range s.Participants {
		rec.Participants = append(rec.Participants, participantRecord{
			MemberID:    string(p.MemberID),
			AmountMinor: p.Amount.Minor,
			PercentBP:   int64(p.Percent),
			BonusMinor:  p.Bonus.Minor,
			Excluded:    p.Excluded,
		})
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode split: %w", err)
	}
	return string(b), nil
}

func decodeSplit(raw string, cur currency.Unit) (core.SplitSpec, error) {
	var rec splitRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return core.SplitSpec{}, fmt.Errorf("decode split: %w", err)
	}
	spec := core.SplitSpec{
		Kind:  core.SplitKind(rec.Kind),
		Total: core.NewMoney(rec.TotalMinor, cur),
	}
	for _, p := range rec.Participants {
		spec.Participants = append(spec.Participants, core.ParticipantShare{
			MemberID: core.MemberID(p.MemberID),
			Amount:   moneyOrZero(p.AmountMinor, cur),
			Percent:  core.BasisPoints(p.PercentBP),
			Bonus:    moneyOrZero(p.BonusMinor, cur),
			Excluded: p.Excluded,
		})
	}
	return spec, nil
}

func encodeShares(s core.Shares) (string, error) {
	rec := make(map[string]int64, len(s))
	for id, m := range s {
		rec[string(id)] = m.Minor
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode shares: %w", err)
	}
	return string(b), nil
}

func decodeShares(raw string, cur currency.Unit) (core.Shares, error) {
	var rec map[string]int64
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode shares: %w", err)
	}
	out := make(core.Shares, len(rec))
	for id, minor := range rec {
		out[core.MemberID(id)] = core.NewMoney(minor, cur)
	}
	return out, nil
}

// moneyOrZero keeps unset optional amounts as the zero Money.
func moneyOrZero(minor int64, cur currency.Unit) core.Money {
	if minor == 0 {
		return core.Money{}
	}
	return core.NewMoney(minor, cur)
}

func parseCurrency(code string) (currency.Unit, error) {
	u, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("stored currency %q: %w", code, err)
	}
	return u, nil
}
