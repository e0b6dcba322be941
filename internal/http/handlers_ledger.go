package http

import (
	"net/http"

	"breakthebill/internal/core"
)

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settlements, err := s.ledger.ListSettlements(r.Context(), groupIDParam(r), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]settlementView, 0, len(settlements))
	for _, st := range settlements {
		out = append(out, viewSettlement(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecordSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req settlementRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := groupIDParam(r)
	g, err := s.ledger.GetGroup(r.Context(), id, actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.toInput(g.Currency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.ledger.RecordSettlement(r.Context(), id, actor.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSettlement(st))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.ledger.Balances(r.Context(), groupIDParam(r), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBalances(snap))
}

func (s *Server) handleSettleUp(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	transfers, err := s.ledger.SettleUp(r.Context(), groupIDParam(r), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTransfers(transfers))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.ledger.Summary(r.Context(), groupIDParam(r), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSummary(sum))
}

// handlePreviewSplit resolves a split without recording anything. It needs
// no group, so member IDs are taken as given.
func (s *Server) handlePreviewSplit(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cur, err := parseCurrency(req.Currency, s.defaultCurrency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := core.ParseAmount(req.Amount, cur)
	if err != nil {
		s.writeError(w, r, &fieldError{Field: "amount", Err: err})
		return
	}
	spec, err := req.Split.toSpec(total)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	shares, err := s.ledger.PreviewSplit(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewView{Total: viewMoney(total), Shares: viewMoneyMap(shares)})
}
