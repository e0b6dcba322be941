package core

import (
	"time"

	"github.com/google/uuid"
)

// NewSettlement validates a payment between two members.
func NewSettlement(members []Member, in SettlementInput) (Settlement, error) {
	if err := in.Amount.Validate(); err != nil {
		return Settlement{}, err
	}
	if in.Method == "" {
		in.Method = MethodManual
	}
	if !in.Method.Valid() {
		return Settlement{}, ErrInvalidMethod
	}
	set := memberSet(members)
	if _, ok := set[in.PayerID]; !ok {
		return Settlement{}, ErrInvalidPayer
	}
	if _, ok := set[in.PayeeID]; !ok {
		return Settlement{}, ErrUnknownMember
	}
	if in.PayerID == in.PayeeID {
		return Settlement{}, ErrSelfSettlement
	}
	return Settlement{
		ID:         SettlementID(uuid.NewString()),
		PayerID:    in.PayerID,
		PayeeID:    in.PayeeID,
		Amount:     in.Amount,
		Method:     in.Method,
		Note:       in.Note,
		RecordedBy: in.RecordedBy,
		RecordedAt: time.Now().UTC(),
	}, nil
}
