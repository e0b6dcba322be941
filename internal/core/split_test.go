package core

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"golang.org/x/text/currency"
)

func inr(minor int64) Money { return NewMoney(minor, currency.INR) }

func participants(ids ...MemberID) []ParticipantShare {
	out := make([]ParticipantShare, len(ids))
	for i, id := range ids {
		out[i] = ParticipantShare{MemberID: id}
	}
	return out
}

func TestResolveEqualDistributesRemainderByMemberID(t *testing.T) {
	// Listed out of order on purpose: leftovers follow member ID order.
	spec := SplitSpec{Kind: SplitEqual, Total: inr(10000), Participants: participants("c", "a", "b")}
	shares, err := Resolve(spec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := map[MemberID]int64{"a": 3334, "b": 3333, "c": 3333}
	for id, minor := range want {
		if shares[id].Minor != minor {
			t.Fatalf("%s: got %d, want %d", id, shares[id].Minor, minor)
		}
	}
	if sum := shares.Sum(); sum.Minor != 10000 {
		t.Fatalf("sum: got %d", sum.Minor)
	}
}

func TestResolveEqualZeroDecimalCurrency(t *testing.T) {
	spec := SplitSpec{Kind: SplitEqual, Total: NewMoney(100, currency.JPY), Participants: participants("a", "b", "c")}
	shares, err := Resolve(spec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if shares["a"].Minor != 34 || shares["b"].Minor != 33 || shares["c"].Minor != 33 {
		t.Fatalf("unexpected shares %v", shares)
	}
}

func TestResolveEqualSkipsExcludedAndAddsBonus(t *testing.T) {
	ps := participants("a", "b", "c")
	ps[1].Excluded = true
	ps[2].Bonus = inr(250)
	shares, err := Resolve(SplitSpec{Kind: SplitEqual, Total: inr(1000), Participants: ps})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := shares["b"]; ok {
		t.Fatalf("excluded participant must not get a share")
	}
	if shares["a"].Minor != 500 || shares["c"].Minor != 750 {
		t.Fatalf("unexpected shares %v", shares)
	}
}

func TestResolveCustom(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Amount: inr(6000)},
		{MemberID: "b", Amount: inr(4000), Bonus: inr(100)},
	}
	shares, err := Resolve(SplitSpec{Kind: SplitCustom, Total: inr(10000), Participants: ps})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if shares["a"].Minor != 6000 || shares["b"].Minor != 4100 {
		t.Fatalf("unexpected shares %v", shares)
	}
}

func TestResolveCustomUnbalancedReportsDelta(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Amount: inr(5000)},
		{MemberID: "b", Amount: inr(4999)},
	}
	_, err := Resolve(SplitSpec{Kind: SplitCustom, Total: inr(10000), Participants: ps})
	if !errors.Is(err, ErrUnbalancedSplit) {
		t.Fatalf("expected ErrUnbalancedSplit, got %v", err)
	}
	var ue *UnbalancedSplitError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnbalancedSplitError, got %T", err)
	}
	if ue.Delta.Minor != 1 {
		t.Fatalf("delta: got %d, want 1", ue.Delta.Minor)
	}
	if got := err.Error(); got != "unbalanced split: short by INR 0.01" {
		t.Fatalf("message: %q", got)
	}
}

func TestResolveCustomOver(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Amount: inr(6000)},
		{MemberID: "b", Amount: inr(4500)},
	}
	_, err := Resolve(SplitSpec{Kind: SplitCustom, Total: inr(10000), Participants: ps})
	var ue *UnbalancedSplitError
	if !errors.As(err, &ue) || ue.Delta.Minor != -500 {
		t.Fatalf("expected over by 500, got %v", err)
	}
}

func TestResolveCustomRejectsOverflowingAmounts(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Amount: inr(math.MaxInt64)},
		{MemberID: "b", Amount: inr(math.MaxInt64)},
		{MemberID: "c", Amount: inr(102)},
	}
	shares, err := Resolve(SplitSpec{Kind: SplitCustom, Total: inr(100), Participants: ps})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v (shares %v)", err, shares)
	}

	// Each amount fits under the total but the sum would still wrap.
	near := inr(math.MaxInt64 - 1)
	ps = []ParticipantShare{
		{MemberID: "a", Amount: near},
		{MemberID: "b", Amount: near},
		{MemberID: "c", Amount: inr(4)},
	}
	if _, err := Resolve(SplitSpec{Kind: SplitCustom, Total: near, Participants: ps}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for wrapped sum, got %v", err)
	}
}

func TestResolveRejectsOverflowingBonus(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Bonus: inr(math.MaxInt64)},
		{MemberID: "b"},
	}
	if _, err := Resolve(SplitSpec{Kind: SplitEqual, Total: inr(100), Participants: ps}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	ps = []ParticipantShare{
		{MemberID: "a", Bonus: inr(math.MaxInt64 - 100)},
		{MemberID: "b", Bonus: inr(math.MaxInt64 - 100)},
	}
	if _, err := Resolve(SplitSpec{Kind: SplitEqual, Total: inr(100), Participants: ps}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for unsummable shares, got %v", err)
	}
}

func TestResolvePercentage(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Percent: 3333},
		{MemberID: "b", Percent: 3333},
		{MemberID: "c", Percent: 3334},
	}
	shares, err := Resolve(SplitSpec{Kind: SplitPercentage, Total: inr(30000), Participants: ps})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sum := shares.Sum(); sum.Minor != 30000 {
		t.Fatalf("sum: got %d", sum.Minor)
	}
	if shares["a"].Minor != 9999 || shares["b"].Minor != 9999 || shares["c"].Minor != 10002 {
		t.Fatalf("unexpected shares %v", shares)
	}
}

func TestResolvePercentageWithinTolerance(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Percent: 3333},
		{MemberID: "b", Percent: 3333},
		{MemberID: "c", Percent: 3333},
	}
	shares, err := Resolve(SplitSpec{Kind: SplitPercentage, Total: inr(10000), Participants: ps})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sum := shares.Sum(); sum.Minor != 10000 {
		t.Fatalf("sum: got %d", sum.Minor)
	}
	if shares["a"].Minor != 3334 {
		t.Fatalf("leftover unit should go to the lowest member ID, got %v", shares)
	}
}

func TestResolvePercentageUnbalanced(t *testing.T) {
	ps := []ParticipantShare{
		{MemberID: "a", Percent: 5000},
		{MemberID: "b", Percent: 4000},
	}
	_, err := Resolve(SplitSpec{Kind: SplitPercentage, Total: inr(10000), Participants: ps})
	var ue *UnbalancedSplitError
	if !errors.As(err, &ue) || ue.DeltaBasisPoints != 1000 {
		t.Fatalf("expected short by 10%%, got %v", err)
	}
}

func TestResolveErrors(t *testing.T) {
	allExcluded := participants("a", "b")
	allExcluded[0].Excluded = true
	allExcluded[1].Excluded = true

	cases := []struct {
		name string
		spec SplitSpec
		want error
	}{
		{"no participants", SplitSpec{Kind: SplitEqual, Total: inr(100)}, ErrNoParticipants},
		{"all excluded", SplitSpec{Kind: SplitEqual, Total: inr(100), Participants: allExcluded}, ErrNoParticipants},
		{"unknown kind", SplitSpec{Kind: "shares", Total: inr(100), Participants: participants("a")}, ErrInvalidSplitKind},
		{"zero total", SplitSpec{Kind: SplitEqual, Total: inr(0), Participants: participants("a")}, ErrInvalidAmount},
		{"duplicate", SplitSpec{Kind: SplitEqual, Total: inr(100), Participants: participants("a", "a")}, ErrDuplicateParticipant},
		{"negative bonus", SplitSpec{Kind: SplitEqual, Total: inr(100), Participants: []ParticipantShare{{MemberID: "a", Bonus: inr(-1)}}}, ErrInvalidAmount},
		{"negative custom", SplitSpec{Kind: SplitCustom, Total: inr(100), Participants: []ParticipantShare{{MemberID: "a", Amount: inr(200)}, {MemberID: "b", Amount: inr(-100)}}}, ErrInvalidAmount},
		{"percent out of range", SplitSpec{Kind: SplitPercentage, Total: inr(100), Participants: []ParticipantShare{{MemberID: "a", Percent: 10001}}}, ErrInvalidPercent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Resolve(tc.spec); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestParsePercent(t *testing.T) {
	cases := []struct {
		in  string
		out BasisPoints
		ok  bool
	}{
		{"33.33", 3333, true},
		{"33,34", 3334, true},
		{"100", 10000, true},
		{"0.5", 50, true},
		{"12.345", 0, false},
		{"100.01", 0, false},
		{"-5", 0, false},
		{"", 0, false},
		{".", 0, false},
		{"5.", 0, false},
		{".5", 50, true},
	}
	for _, tc := range cases {
		got, err := ParsePercent(tc.in)
		if tc.ok && (err != nil || got != tc.out) {
			t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
	if s := BasisPoints(3333).String(); s != "33.33" {
		t.Fatalf("String: %q", s)
	}
}

func TestResolvePreservesSum(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		n := 1 + rng.IntN(9)
		total := inr(1 + rng.Int64N(5_000_000))
		ids := make([]MemberID, n)
		for j := range ids {
			ids[j] = MemberID(fmt.Sprintf("m%02d", rng.IntN(100)*100+j))
		}

		// equal
		shares, err := Resolve(SplitSpec{Kind: SplitEqual, Total: total, Participants: participants(ids...)})
		if err != nil {
			t.Fatalf("equal: %v", err)
		}
		if shares.Sum().Cmp(total) != 0 {
			t.Fatalf("equal sum %s != %s", shares.Sum(), total)
		}
		for _, s := range shares {
			lo, _ := total.Scale(1, int64(n))
			if s.Minor < lo.Minor || s.Minor > lo.Minor+1 {
				t.Fatalf("equal share %d outside [%d, %d]", s.Minor, lo.Minor, lo.Minor+1)
			}
		}

		// percentage: random cut of 10000 bp
		ps := participants(ids...)
		left := Hundred
		for j := range ps {
			if j == len(ps)-1 {
				ps[j].Percent = left
				break
			}
			p := BasisPoints(rng.Int64N(int64(left) + 1))
			ps[j].Percent = p
			left -= p
		}
		shares, err = Resolve(SplitSpec{Kind: SplitPercentage, Total: total, Participants: ps})
		if err != nil {
			t.Fatalf("percentage: %v", err)
		}
		if shares.Sum().Cmp(total) != 0 {
			t.Fatalf("percentage sum %s != %s", shares.Sum(), total)
		}

		// custom: random cut of the total
		ps = participants(ids...)
		rest := total.Minor
		for j := range ps {
			if j == len(ps)-1 {
				ps[j].Amount = inr(rest)
				break
			}
			a := rng.Int64N(rest + 1)
			ps[j].Amount = inr(a)
			rest -= a
		}
		shares, err = Resolve(SplitSpec{Kind: SplitCustom, Total: total, Participants: ps})
		if err != nil {
			t.Fatalf("custom: %v", err)
		}
		if shares.Sum().Cmp(total) != 0 {
			t.Fatalf("custom sum %s != %s", shares.Sum(), total)
		}
	}
}
