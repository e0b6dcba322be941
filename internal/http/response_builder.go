package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"breakthebill/internal/core"
	"breakthebill/internal/log"
	"breakthebill/internal/middleware/trace"
	"breakthebill/internal/services"
	"breakthebill/internal/storage"

	"github.com/go-playground/validator/v10"
)

type moneyView struct {
	Amount   string `json:"amount"`
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

type memberView struct {
	ID          core.MemberID `json:"id"`
	DisplayName string        `json:"display_name"`
	JoinedAt    time.Time     `json:"joined_at"`
}

type groupView struct {
	ID         core.GroupID  `json:"id"`
	Name       string        `json:"name"`
	Currency   string        `json:"currency"`
	OwnerID    core.MemberID `json:"owner_id"`
	InviteCode string        `json:"invite_code"`
	Members    []memberView  `json:"members"`
	CreatedAt  time.Time     `json:"created_at"`
}

type participantView struct {
	MemberID core.MemberID `json:"member_id"`
	Amount   *moneyView    `json:"amount,omitempty"`
	Percent  string        `json:"percent,omitempty"`
	Bonus    *moneyView    `json:"bonus,omitempty"`
	Excluded bool          `json:"excluded,omitempty"`
}

type splitView struct {
	Kind         core.SplitKind    `json:"kind"`
	Participants []participantView `json:"participants"`
}

type expenseView struct {
	ID          core.ExpenseID              `json:"id"`
	Version     int                         `json:"version"`
	Action      core.ExpenseAction          `json:"action"`
	Title       string                      `json:"title"`
	Description string                      `json:"description,omitempty"`
	Amount      moneyView                   `json:"amount"`
	PayerID     core.MemberID               `json:"payer_id"`
	Split       splitView                   `json:"split"`
	Shares      map[core.MemberID]moneyView `json:"shares"`
	Category    string                      `json:"category"`
	Date        string                      `json:"date"`
	CreatedBy   core.MemberID               `json:"created_by"`
	CreatedAt   time.Time                   `json:"created_at"`
}

type settlementView struct {
	ID         core.SettlementID     `json:"id"`
	PayerID    core.MemberID         `json:"payer_id"`
	PayeeID    core.MemberID         `json:"payee_id"`
	Amount     moneyView             `json:"amount"`
	Method     core.SettlementMethod `json:"method"`
	Note       string                `json:"note,omitempty"`
	RecordedBy core.MemberID         `json:"recorded_by"`
	RecordedAt time.Time             `json:"recorded_at"`
}

type transferView struct {
	From   core.MemberID `json:"from"`
	To     core.MemberID `json:"to"`
	Amount moneyView     `json:"amount"`
}

type balanceView struct {
	MemberID    core.MemberID `json:"member_id"`
	DisplayName string        `json:"display_name"`
	Balance     moneyView     `json:"balance"`
}

type balancesView struct {
	GroupID    core.GroupID   `json:"group_id"`
	Currency   string         `json:"currency"`
	Balances   []balanceView  `json:"balances"`
	Transfers  []transferView `json:"transfers"`
	Settled    bool           `json:"settled"`
	ComputedAt time.Time      `json:"computed_at"`
}

type categoryView struct {
	Name   string    `json:"name"`
	Amount moneyView `json:"amount"`
}

type summaryView struct {
	TotalSpent   moneyView                   `json:"total_spent"`
	ExpenseCount int                         `json:"expense_count"`
	ByCategory   []categoryView              `json:"by_category"`
	PaidBy       map[core.MemberID]moneyView `json:"paid_by"`
	OwedBy       map[core.MemberID]moneyView `json:"owed_by"`
}

type previewView struct {
	Total  moneyView                   `json:"total"`
	Shares map[core.MemberID]moneyView `json:"shares"`
}

func viewMoney(m core.Money) moneyView {
	return moneyView{Amount: m.Decimal(), Minor: m.Minor, Currency: m.Currency.String()}
}

func viewMoneyMap(in map[core.MemberID]core.Money) map[core.MemberID]moneyView {
	out := make(map[core.MemberID]moneyView, len(in))
	for id, m := range in {
		out[id] = viewMoney(m)
	}
	return out
}

func viewGroup(g core.Group) groupView {
	v := groupView{
		ID:         g.ID,
		Name:       g.Name,
		Currency:   g.Currency.String(),
		OwnerID:    g.OwnerID,
		InviteCode: g.InviteCode,
		Members:    make([]memberView, 0, len(g.Members)),
		CreatedAt:  g.CreatedAt,
	}
	for _, m := range g.Members {
		v.Members = append(v.Members, memberView{ID: m.ID, DisplayName: m.DisplayName, JoinedAt: m.JoinedAt})
	}
	return v
}

func viewSplit(spec core.SplitSpec) splitView {
	v := splitView{Kind: spec.Kind, Participants: make([]participantView, 0, len(spec.Participants))}
	for _, p := range spec.Participants {
		pv := participantView{MemberID: p.MemberID, Excluded: p.Excluded}
		switch spec.Kind {
		case core.SplitCustom:
			m := viewMoney(p.Amount)
			pv.Amount = &m
		case core.SplitPercentage:
			pv.Percent = p.Percent.String()
		}
		if !p.Bonus.IsZero() {
			b := viewMoney(p.Bonus)
			pv.Bonus = &b
		}
		v.Participants = append(v.Participants, pv)
	}
	return v
}

func viewExpense(e core.Expense) expenseView {
	return expenseView{
		ID:          e.ID,
		Version:     e.Version,
		Action:      e.Action,
		Title:       e.Title,
		Description: e.Description,
		Amount:      viewMoney(e.Amount),
		PayerID:     e.PayerID,
		Split:       viewSplit(e.Split),
		Shares:      viewMoneyMap(e.Shares),
		Category:    e.Category,
		Date:        e.Date.String(),
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
	}
}

func viewExpenses(es []core.Expense) []expenseView {
	out := make([]expenseView, 0, len(es))
	for _, e := range es {
		out = append(out, viewExpense(e))
	}
	return out
}

func viewSettlement(s core.Settlement) settlementView {
	return settlementView{
		ID:         s.ID,
		PayerID:    s.PayerID,
		PayeeID:    s.PayeeID,
		Amount:     viewMoney(s.Amount),
		Method:     s.Method,
		Note:       s.Note,
		RecordedBy: s.RecordedBy,
		RecordedAt: s.RecordedAt,
	}
}

func viewTransfers(ts []core.Transfer) []transferView {
	out := make([]transferView, 0, len(ts))
	for _, t := range ts {
		out = append(out, transferView{From: t.From, To: t.To, Amount: viewMoney(t.Amount)})
	}
	return out
}

func viewBalances(snap services.BalanceSnapshot) balancesView {
	names := make(map[core.MemberID]string, len(snap.Members))
	for _, m := range snap.Members {
		names[m.ID] = m.DisplayName
	}
	v := balancesView{
		GroupID:    snap.GroupID,
		Currency:   snap.Currency.String(),
		Balances:   make([]balanceView, 0, len(snap.Balances)),
		Transfers:  viewTransfers(snap.Transfers),
		Settled:    snap.Balances.Settled(),
		ComputedAt: snap.ComputedAt,
	}
	for _, b := range snap.Balances.Sorted() {
		name, ok := names[b.MemberID]
		if !ok {
			name = string(b.MemberID)
		}
		v.Balances = append(v.Balances, balanceView{MemberID: b.MemberID, DisplayName: name, Balance: viewMoney(b.Balance)})
	}
	return v
}

func viewSummary(sum core.GroupSummary) summaryView {
	v := summaryView{
		TotalSpent:   viewMoney(sum.TotalSpent),
		ExpenseCount: sum.ExpenseCount,
		ByCategory:   make([]categoryView, 0, len(sum.ByCategory)),
		PaidBy:       viewMoneyMap(sum.PaidBy),
		OwedBy:       viewMoneyMap(sum.OwedBy),
	}
	for _, c := range sum.ByCategory {
		v.ByCategory = append(v.ByCategory, categoryView{Name: c.Name, Amount: viewMoney(c.Amount)})
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// problem is an RFC 7807 error body.
type problem struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Status    int               `json:"status"`
	Detail    string            `json:"detail,omitempty"`
	Instance  string            `json:"instance,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	// Delta is how far an unbalanced split is from its total.
	Delta string `json:"delta,omitempty"`
}

func (s *Server) writeProblem(w http.ResponseWriter, r *http.Request, p problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	p.Instance = r.URL.Path
	p.RequestID = trace.GetRequestID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps domain and service errors to problem responses. Unknown
// errors are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := classify(err)
	if p.Status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().WithError(err).WithOperation(r.Method+" "+r.URL.Path).ToSlice()...)
	}
	s.writeProblem(w, r, p)
}

var (
	notFoundErrors = []error{
		services.ErrGroupNotFound,
		services.ErrInvalidInvite,
		core.ErrExpenseNotFound,
		storage.ErrNotFound,
	}
	conflictErrors = []error{
		core.ErrStaleVersion,
		core.ErrExpenseVoided,
		core.ErrDuplicateMember,
		core.ErrMemberHasOutstandingBalance,
		core.ErrOwnerMustTransfer,
		core.ErrFormerMemberInvolved,
		services.ErrGroupNotSettled,
		storage.ErrConflict,
	}
	invalidErrors = []error{
		core.ErrInvalidAmount,
		core.ErrInvalidCurrency,
		core.ErrCurrencyMismatch,
		core.ErrInvalidPercent,
		core.ErrUnbalancedSplit,
		core.ErrNoParticipants,
		core.ErrNegativeShare,
		core.ErrInvalidSplitKind,
		core.ErrDuplicateParticipant,
		core.ErrInvalidPayer,
		core.ErrUnknownMember,
		core.ErrEmptyTitle,
		core.ErrTitleTooLong,
		core.ErrDescriptionTooLong,
		core.ErrEmptyName,
		core.ErrSelfSettlement,
		core.ErrInvalidMethod,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func classify(err error) problem {
	var (
		verrs      validator.ValidationErrors
		badReq     *badRequestError
		maxBytes   *http.MaxBytesError
		field      *fieldError
		unbalanced *core.UnbalancedSplitError
	)
	switch {
	case errors.As(err, &maxBytes):
		return problem{Status: http.StatusRequestEntityTooLarge, Detail: fmt.Sprintf("body exceeds %d bytes", maxBytes.Limit)}
	case errors.As(err, &badReq):
		return problem{Status: http.StatusBadRequest, Detail: badReq.Error()}
	case errors.Is(err, errMissingActor):
		return problem{Status: http.StatusUnauthorized, Detail: err.Error()}
	case errors.As(err, &verrs):
		return problem{Status: http.StatusUnprocessableEntity, Title: "Validation Failed", Errors: validationMessages(verrs)}
	case errors.Is(err, services.ErrForbidden):
		return problem{Status: http.StatusForbidden, Detail: err.Error()}
	case isAny(err, notFoundErrors):
		return problem{Status: http.StatusNotFound, Detail: err.Error()}
	case isAny(err, conflictErrors):
		return problem{Status: http.StatusConflict, Detail: err.Error()}
	case errors.As(err, &unbalanced):
		p := problem{Status: http.StatusUnprocessableEntity, Title: "Validation Failed", Detail: err.Error()}
		if unbalanced.Kind == core.SplitPercentage {
			p.Delta = unbalanced.DeltaBasisPoints.String()
		} else {
			p.Delta = unbalanced.Delta.Decimal()
		}
		if errors.As(err, &field) {
			p.Errors = map[string]string{field.Field: field.Err.Error()}
		}
		return p
	case errors.As(err, &field):
		return problem{Status: http.StatusUnprocessableEntity, Title: "Validation Failed", Detail: err.Error(),
			Errors: map[string]string{field.Field: field.Err.Error()}}
	case isAny(err, invalidErrors):
		return problem{Status: http.StatusUnprocessableEntity, Title: "Validation Failed", Detail: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return problem{Status: http.StatusServiceUnavailable, Detail: "request did not complete in time"}
	default:
		return problem{Status: http.StatusInternalServerError, Detail: "internal error"}
	}
}

// validationMessages keys each failure by its JSON path without the
// request struct name.
func validationMessages(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if _, rest, ok := strings.Cut(key, "."); ok {
			key = rest
		}
		out[key] = validationMessage(fe)
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "alpha", "alphanum":
		return "contains invalid characters"
	case "nefield":
		return "must differ from " + fe.Param()
	default:
		return "is invalid"
	}
}
