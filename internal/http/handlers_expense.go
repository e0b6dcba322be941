package http

import (
	"net/http"

	"breakthebill/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	expenses, err := s.ledger.ListExpenses(r.Context(), groupIDParam(r), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExpenses(expenses))
}

// readExpense decodes the body and parses its amounts in the group's
// currency. The group lookup also checks membership.
func (s *Server) readExpense(w http.ResponseWriter, r *http.Request, actor core.MemberID) (core.ExpenseInput, error) {
	var req expenseRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		return core.ExpenseInput{}, err
	}
	g, err := s.ledger.GetGroup(r.Context(), groupIDParam(r), actor)
	if err != nil {
		return core.ExpenseInput{}, err
	}
	return req.toInput(g.Currency)
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.readExpense(w, r, actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := groupIDParam(r)
	e, err := s.ledger.AddExpense(r.Context(), id, actor.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/groups/"+string(id)+"/expenses/"+string(e.ID)+"/history")
	writeJSON(w, http.StatusCreated, viewExpense(e))
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.readExpense(w, r, actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.ledger.EditExpense(r.Context(), groupIDParam(r), actor.ID, expenseIDParam(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExpense(e))
}

// handleDeleteExpense returns the voiding version so clients can show who
// deleted what.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.ledger.DeleteExpense(r.Context(), groupIDParam(r), actor.ID, expenseIDParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExpense(e))
}

func (s *Server) handleExpenseHistory(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.ledger.ExpenseHistory(r.Context(), groupIDParam(r), actor.ID, expenseIDParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExpenses(h))
}
