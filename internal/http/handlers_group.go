package http

import (
	"net/http"

	"breakthebill/internal/core"
)

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.ledger.ListGroups(r.Context(), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, viewGroup(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createGroupRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cur, err := parseCurrency(req.Currency, s.defaultCurrency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.ledger.CreateGroup(r.Context(), sanitizeInput(req.Name), cur, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/groups/"+string(g.ID))
	writeJSON(w, http.StatusCreated, viewGroup(g))
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req joinGroupRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.ledger.JoinGroup(r.Context(), req.InviteCode, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewGroup(g))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.ledger.GetGroup(r.Context(), groupIDParam(r), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewGroup(g))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteGroup(r.Context(), groupIDParam(r), actor.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.LeaveGroup(r.Context(), groupIDParam(r), actor.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKickMember(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.KickMember(r.Context(), groupIDParam(r), actor.ID, memberIDParam(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferOwnershipRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := groupIDParam(r)
	to := core.MemberID(sanitizeInput(req.MemberID))
	if err := s.ledger.TransferOwnership(r.Context(), id, actor.ID, to); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.ledger.GetGroup(r.Context(), id, actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewGroup(g))
}
