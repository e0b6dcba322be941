package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"breakthebill/internal/core"
	"breakthebill/internal/services"
	"breakthebill/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing actor", errMissingActor, http.StatusUnauthorized},
		{"bad body", &badRequestError{err: errors.New("eof")}, http.StatusBadRequest},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"group not found", fmt.Errorf("load: %w", services.ErrGroupNotFound), http.StatusNotFound},
		{"invite", services.ErrInvalidInvite, http.StatusNotFound},
		{"expense not found", core.ErrExpenseNotFound, http.StatusNotFound},
		{"stale version", core.ErrStaleVersion, http.StatusConflict},
		{"voided", core.ErrExpenseVoided, http.StatusConflict},
		{"outstanding", core.ErrMemberHasOutstandingBalance, http.StatusConflict},
		{"not settled", services.ErrGroupNotSettled, http.StatusConflict},
		{"former member", fmt.Errorf("void: %w", core.ErrFormerMemberInvolved), http.StatusConflict},
		{"storage conflict", fmt.Errorf("append: %w", storage.ErrConflict), http.StatusConflict},
		{"invalid payer", core.ErrInvalidPayer, http.StatusUnprocessableEntity},
		{"field", &fieldError{Field: "amount", Err: core.ErrInvalidAmount}, http.StatusUnprocessableEntity},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err).Status)
		})
	}
}

func TestClassifyHidesInternalErrors(t *testing.T) {
	p := classify(errors.New("sqlite: database is locked"))
	assert.Equal(t, "internal error", p.Detail)
}

func TestClassifyUnbalanced(t *testing.T) {
	p := classify(fmt.Errorf("add expense: %w", &core.UnbalancedSplitError{
		Kind:  core.SplitCustom,
		Delta: core.NewMoney(-250, currency.INR),
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, p.Status)
	assert.Equal(t, "-2.50", p.Delta)
	assert.Contains(t, p.Detail, "over by INR 2.50")

	p = classify(&core.UnbalancedSplitError{Kind: core.SplitPercentage, DeltaBasisPoints: 1})
	assert.Equal(t, "0.01", p.Delta)
}

func TestViewBalances(t *testing.T) {
	snap := services.BalanceSnapshot{
		GroupID:  "g1",
		Currency: currency.INR,
		Members:  []core.Member{{ID: "asha", DisplayName: "Asha"}},
		Balances: core.Balances{
			"asha": core.NewMoney(1500, currency.INR),
			"bala": core.NewMoney(-1500, currency.INR),
		},
		Transfers:  []core.Transfer{{From: "bala", To: "asha", Amount: core.NewMoney(1500, currency.INR)}},
		ComputedAt: time.Now(),
	}

	v := viewBalances(snap)
	assert.False(t, v.Settled)
	require.Len(t, v.Balances, 2)
	names := map[core.MemberID]string{}
	for _, b := range v.Balances {
		names[b.MemberID] = b.DisplayName
	}
	assert.Equal(t, "Asha", names["asha"])
	assert.Equal(t, "bala", names["bala"], "former members are shown by ID")
	require.Len(t, v.Transfers, 1)
	assert.Equal(t, "15.00", v.Transfers[0].Amount.Amount)
}

func TestViewSplit(t *testing.T) {
	v := viewSplit(core.SplitSpec{
		Kind: core.SplitPercentage,
		Participants: []core.ParticipantShare{
			{MemberID: "asha", Percent: 2550},
			{MemberID: "bala", Percent: 7450, Bonus: core.NewMoney(100, currency.INR)},
		},
	})
	require.Len(t, v.Participants, 2)
	assert.Equal(t, "25.50", v.Participants[0].Percent)
	assert.Nil(t, v.Participants[0].Amount)
	require.NotNil(t, v.Participants[1].Bonus)
	assert.Equal(t, "1.00", v.Participants[1].Bonus.Amount)
}
