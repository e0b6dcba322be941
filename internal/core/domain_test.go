package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/currency"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2025-03-09 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "2025-03-09" {
		t.Fatalf("got %s", d)
	}
	if _, err := ParseDate("09/03/2025"); err == nil {
		t.Fatalf("expected error for non ISO date")
	}
}

// testGroup returns a group owned by "a" with members "b" and "c".
func testGroup(t *testing.T) Group {
	t.Helper()
	g, err := NewGroup("Goa trip", currency.INR, Member{ID: "a", DisplayName: "Asha"})
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	for _, m := range []Member{{ID: "b", DisplayName: "Bala"}, {ID: "c", DisplayName: "Chitra"}} {
		if err := g.AddMember(m); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	return g
}

func equalInput(title string, minor int64, payer MemberID, ids ...MemberID) ExpenseInput {
	return ExpenseInput{
		Title:     title,
		Amount:    inr(minor),
		PayerID:   payer,
		Split:     SplitSpec{Kind: SplitEqual, Participants: participants(ids...)},
		CreatedBy: payer,
	}
}

func mustAddExpense(t *testing.T, g *Group, in ExpenseInput) Expense {
	t.Helper()
	e, err := g.NewExpense(in)
	if err != nil {
		t.Fatalf("new expense: %v", err)
	}
	if err := g.AppendExpense(e); err != nil {
		t.Fatalf("append expense: %v", err)
	}
	return e
}

func TestNewGroup(t *testing.T) {
	g := testGroup(t)
	if g.OwnerID != "a" || len(g.Members) != 3 {
		t.Fatalf("unexpected group %+v", g)
	}
	if len(g.InviteCode) != 8 || strings.ContainsAny(g.InviteCode, "01IO") {
		t.Fatalf("bad invite code %q", g.InviteCode)
	}
	if _, err := NewGroup("  ", currency.INR, Member{ID: "a", DisplayName: "A"}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := g.AddMember(Member{ID: "b", DisplayName: "Again"}); !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected ErrDuplicateMember, got %v", err)
	}
}

func TestNewExpenseDefaults(t *testing.T) {
	g := testGroup(t)
	e := mustAddExpense(t, &g, equalInput("  Dinner ", 10000, "a", "a", "b", "c"))

	if e.Version != 1 || e.Action != ActionCreated || e.GroupID != g.ID {
		t.Fatalf("unexpected header %+v", e)
	}
	if e.Title != "Dinner" || e.Category != DefaultCategory || e.Date.IsZero() || e.Description != "" {
		t.Fatalf("defaults not applied: %+v", e)
	}

	in := equalInput("Cab", 900, "a", "a", "b")
	in.Description = "  airport drop, toll included \n"
	withNote := mustAddExpense(t, &g, in)
	if withNote.Description != "airport drop, toll included" {
		t.Fatalf("description: %q", withNote.Description)
	}
	edit := in
	edit.Description = "toll refunded"
	revised, err := g.ReviseExpense(withNote.ID, edit)
	if err != nil || revised.Description != "toll refunded" {
		t.Fatalf("revise description: %q, %v", revised.Description, err)
	}
	if e.Split.Total.Minor != 10000 {
		t.Fatalf("split total should default to amount, got %s", e.Split.Total)
	}
	if e.Shares["a"].Minor != 3334 || e.Shares["b"].Minor != 3333 {
		t.Fatalf("unexpected shares %v", e.Shares)
	}
}

func TestNewExpenseValidation(t *testing.T) {
	g := testGroup(t)
	long := strings.Repeat("x", maxTitleLength+1)

	cases := []struct {
		name string
		in   ExpenseInput
		want error
	}{
		{"empty title", equalInput(" ", 100, "a", "a"), ErrEmptyTitle},
		{"long title", equalInput(long, 100, "a", "a"), ErrTitleTooLong},
		{"long description", func() ExpenseInput {
			in := equalInput("x", 100, "a", "a")
			in.Description = strings.Repeat("d", maxDescriptionLength+1)
			return in
		}(), ErrDescriptionTooLong},
		{"zero amount", equalInput("x", 0, "a", "a"), ErrInvalidAmount},
		{"payer not member", equalInput("x", 100, "z", "a"), ErrInvalidPayer},
		{"participant not member", equalInput("x", 100, "a", "a", "z"), ErrUnknownMember},
		{"no participants", equalInput("x", 100, "a"), ErrNoParticipants},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.NewExpense(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	in := equalInput("x", 100, "a", "a")
	in.Amount = NewMoney(100, currency.USD)
	if _, err := g.NewExpense(in); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}

	in = equalInput("x", 100, "a", "a")
	in.Split.Total = inr(90)
	if _, err := g.NewExpense(in); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected split total mismatch, got %v", err)
	}
	if len(g.Expenses) != 0 {
		t.Fatalf("rejected expenses must not be recorded")
	}
}

func TestNewExpenseCountsTitleInCharacters(t *testing.T) {
	g := testGroup(t)
	// 200 Devanagari characters are 600 bytes.
	title := strings.Repeat("क", maxTitleLength)
	if _, err := g.NewExpense(equalInput(title, 100, "a", "a")); err != nil {
		t.Fatalf("title of %d characters rejected: %v", maxTitleLength, err)
	}
	if _, err := g.NewExpense(equalInput(title+"क", 100, "a", "a")); !errors.Is(err, ErrTitleTooLong) {
		t.Fatalf("expected ErrTitleTooLong, got %v", err)
	}
}

func TestReviseAndVoidExpense(t *testing.T) {
	g := testGroup(t)
	e := mustAddExpense(t, &g, equalInput("Taxi", 900, "a", "a", "b", "c"))

	edited, err := g.ReviseExpense(e.ID, equalInput("Taxi to airport", 1200, "b", "a", "b"))
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if edited.ID != e.ID || edited.Version != 2 || edited.Action != ActionUpdated {
		t.Fatalf("unexpected revision %+v", edited)
	}
	if err := g.AppendExpense(edited); err != nil {
		t.Fatalf("append revision: %v", err)
	}
	// Appending the same version twice is a lost update.
	if err := g.AppendExpense(edited); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}

	cur := g.CurrentExpenses()
	if len(cur) != 1 || cur[0].Title != "Taxi to airport" {
		t.Fatalf("current expenses: %+v", cur)
	}

	voided, err := g.VoidExpense(e.ID, "c")
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if err := g.AppendExpense(voided); err != nil {
		t.Fatalf("append void: %v", err)
	}
	if len(g.CurrentExpenses()) != 0 {
		t.Fatalf("voided expense still current")
	}
	if _, err := g.VoidExpense(e.ID, "c"); !errors.Is(err, ErrExpenseVoided) {
		t.Fatalf("expected ErrExpenseVoided, got %v", err)
	}
	if _, err := g.ReviseExpense(e.ID, equalInput("x", 1, "a", "a")); !errors.Is(err, ErrExpenseVoided) {
		t.Fatalf("expected ErrExpenseVoided on edit, got %v", err)
	}

	h := g.History(e.ID)
	if len(h) != 3 || h[0].Version != 1 || h.Latest().Action != ActionDeleted {
		t.Fatalf("history: %+v", h)
	}
	if _, err := g.ReviseExpense("missing", equalInput("x", 1, "a", "a")); !errors.Is(err, ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound, got %v", err)
	}
}

func TestNewSettlement(t *testing.T) {
	g := testGroup(t)

	s, err := g.NewSettlement(SettlementInput{PayerID: "b", PayeeID: "a", Amount: inr(500)})
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if s.Method != MethodManual || s.GroupID != g.ID {
		t.Fatalf("unexpected settlement %+v", s)
	}

	cases := []struct {
		name string
		in   SettlementInput
		want error
	}{
		{"self", SettlementInput{PayerID: "a", PayeeID: "a", Amount: inr(1)}, ErrSelfSettlement},
		{"zero", SettlementInput{PayerID: "a", PayeeID: "b", Amount: inr(0)}, ErrInvalidAmount},
		{"payer", SettlementInput{PayerID: "z", PayeeID: "b", Amount: inr(1)}, ErrInvalidPayer},
		{"payee", SettlementInput{PayerID: "a", PayeeID: "z", Amount: inr(1)}, ErrUnknownMember},
		{"method", SettlementInput{PayerID: "a", PayeeID: "b", Amount: inr(1), Method: "cash"}, ErrInvalidMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.NewSettlement(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRemoveMember(t *testing.T) {
	g := testGroup(t)
	mustAddExpense(t, &g, equalInput("Fuel", 600, "a", "a", "b"))

	if err := g.RemoveMember("a"); !errors.Is(err, ErrOwnerMustTransfer) {
		t.Fatalf("expected ErrOwnerMustTransfer, got %v", err)
	}
	if err := g.RemoveMember("b"); !errors.Is(err, ErrMemberHasOutstandingBalance) {
		t.Fatalf("expected ErrMemberHasOutstandingBalance, got %v", err)
	}
	if err := g.RemoveMember("c"); err != nil {
		t.Fatalf("remove settled member: %v", err)
	}
	if g.IsMember("c") {
		t.Fatalf("c still a member")
	}
	if err := g.RemoveMember("c"); !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}

	if err := g.TransferOwnership("b"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := g.RemoveMember("a"); !errors.Is(err, ErrMemberHasOutstandingBalance) {
		t.Fatalf("former owner still owed money, got %v", err)
	}
	if err := g.TransferOwnership("z"); !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}
}

func TestExpenseOfFormerMemberIsFrozen(t *testing.T) {
	settle := func(t *testing.T, g *Group, payer, payee MemberID, minor int64) {
		t.Helper()
		s, err := g.NewSettlement(SettlementInput{PayerID: payer, PayeeID: payee, Amount: inr(minor)})
		if err != nil {
			t.Fatalf("settlement: %v", err)
		}
		if err := g.AppendSettlement(s); err != nil {
			t.Fatalf("append settlement: %v", err)
		}
	}

	t.Run("participant left", func(t *testing.T) {
		g := testGroup(t)
		e := mustAddExpense(t, &g, equalInput("Fuel", 600, "a", "a", "b"))
		settle(t, &g, "b", "a", 300)
		if err := g.RemoveMember("b"); err != nil {
			t.Fatalf("leave: %v", err)
		}

		if _, err := g.VoidExpense(e.ID, "a"); !errors.Is(err, ErrFormerMemberInvolved) {
			t.Fatalf("void: expected ErrFormerMemberInvolved, got %v", err)
		}
		if _, err := g.ReviseExpense(e.ID, equalInput("Fuel", 600, "a", "a", "c")); !errors.Is(err, ErrFormerMemberInvolved) {
			t.Fatalf("revise: expected ErrFormerMemberInvolved, got %v", err)
		}
		if !ComputeBalances(g).Settled() {
			t.Fatalf("balances reopened: %v", ComputeBalances(g))
		}
	})

	t.Run("payer left", func(t *testing.T) {
		g := testGroup(t)
		e := mustAddExpense(t, &g, equalInput("Fuel", 600, "b", "a", "b"))
		settle(t, &g, "a", "b", 300)
		if err := g.RemoveMember("b"); err != nil {
			t.Fatalf("leave: %v", err)
		}
		if _, err := g.VoidExpense(e.ID, "a"); !errors.Is(err, ErrFormerMemberInvolved) {
			t.Fatalf("void: expected ErrFormerMemberInvolved, got %v", err)
		}
	})

	t.Run("uninvolved member left", func(t *testing.T) {
		g := testGroup(t)
		e := mustAddExpense(t, &g, equalInput("Fuel", 600, "a", "a", "b"))
		if err := g.RemoveMember("c"); err != nil {
			t.Fatalf("leave: %v", err)
		}
		if _, err := g.VoidExpense(e.ID, "a"); err != nil {
			t.Fatalf("void: %v", err)
		}
	})
}

func TestSummarize(t *testing.T) {
	g := testGroup(t)
	food := equalInput("Lunch", 3000, "a", "a", "b")
	food.Category = "Food"
	mustAddExpense(t, &g, food)
	mustAddExpense(t, &g, equalInput("Misc", 1000, "b", "a", "b"))
	travel := equalInput("Bus", 3000, "c", "a", "c")
	travel.Category = "Transport"
	mustAddExpense(t, &g, travel)

	s := Summarize(g)
	if s.ExpenseCount != 3 || s.TotalSpent.Minor != 7000 {
		t.Fatalf("unexpected summary %+v", s)
	}
	names := []string{s.ByCategory[0].Name, s.ByCategory[1].Name, s.ByCategory[2].Name}
	if strings.Join(names, ",") != "Food,Transport,Other" {
		t.Fatalf("category order: %v", names)
	}
	if s.PaidBy["a"].Minor != 3000 || s.PaidBy["b"].Minor != 1000 {
		t.Fatalf("paid by: %v", s.PaidBy)
	}
	// Lunch 1500+1500, Misc 500+500, Bus 1500+1500.
	want := map[MemberID]int64{"a": 3500, "b": 2000, "c": 1500}
	if len(s.OwedBy) != len(want) {
		t.Fatalf("owed by: %v", s.OwedBy)
	}
	for id, minor := range want {
		if s.OwedBy[id].Minor != minor {
			t.Fatalf("owed by %s: got %s, want %d", id, s.OwedBy[id], minor)
		}
	}
}
