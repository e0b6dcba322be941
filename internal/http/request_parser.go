package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"breakthebill/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/currency"
)

const (
	headerMemberID   = "X-Member-ID"
	headerMemberName = "X-Member-Name"

	maxBodyBytes = 1 << 20
)

// errMissingActor is returned when the identity proxy did not supply a member.
var errMissingActor = errors.New("missing " + headerMemberID + " header")

// badRequestError marks a body that could not be decoded at all.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return "malformed request body: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// fieldError is a request field that decoded but failed domain parsing.
type fieldError struct {
	Field string
	Err   error
}

func (e *fieldError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *fieldError) Unwrap() error { return e.Err }

type actorHeaders struct {
	ID   string `json:"X-Member-ID" validate:"required,max=64"`
	Name string `json:"X-Member-Name" validate:"max=100"`
}

type createGroupRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type joinGroupRequest struct {
	InviteCode string `json:"invite_code" validate:"required,len=8,alphanum"`
}

type transferOwnershipRequest struct {
	MemberID string `json:"member_id" validate:"required,max=64"`
}

type participantRequest struct {
	MemberID string `json:"member_id" validate:"required,max=64"`
	Amount   string `json:"amount,omitempty" validate:"max=32"`
	Percent  string `json:"percent,omitempty" validate:"max=8"`
	Bonus    string `json:"bonus,omitempty" validate:"max=32"`
	Excluded bool   `json:"excluded,omitempty"`
}

type splitRequest struct {
	Kind         string               `json:"kind" validate:"required,oneof=equal custom percentage"`
	Participants []participantRequest `json:"participants" validate:"required,min=1,max=100,dive"`
}

type expenseRequest struct {
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description" validate:"max=1000"`
	Amount      string       `json:"amount" validate:"required,max=32"`
	PayerID     string       `json:"payer_id" validate:"required,max=64"`
	Category    string       `json:"category" validate:"max=50"`
	Date        string       `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Split       splitRequest `json:"split"`
}

type settlementRequest struct {
	PayerID string `json:"payer_id" validate:"required,max=64"`
	PayeeID string `json:"payee_id" validate:"required,max=64,nefield=PayerID"`
	Amount  string `json:"amount" validate:"required,max=32"`
	Method  string `json:"method" validate:"omitempty,oneof=manual online"`
	Note    string `json:"note" validate:"max=200"`
}

type previewRequest struct {
	Amount   string       `json:"amount" validate:"required,max=32"`
	Currency string       `json:"currency" validate:"omitempty,len=3,alpha"`
	Split    splitRequest `json:"split"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads one JSON object into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &badRequestError{err: errors.New("empty body")}
		}
		return &badRequestError{err: err}
	}
	if dec.More() {
		return &badRequestError{err: errors.New("trailing data after JSON object")}
	}
	return s.validate.Struct(dst)
}

// actor reads the acting member supplied by the identity proxy.
func (s *Server) actor(r *http.Request) (core.Member, error) {
	h := actorHeaders{
		ID:   sanitizeInput(r.Header.Get(headerMemberID)),
		Name: sanitizeInput(r.Header.Get(headerMemberName)),
	}
	if h.ID == "" {
		return core.Member{}, errMissingActor
	}
	if err := s.validate.Struct(h); err != nil {
		return core.Member{}, err
	}
	if h.Name == "" {
		h.Name = h.ID
	}
	return core.Member{ID: core.MemberID(h.ID), DisplayName: h.Name}, nil
}

func groupIDParam(r *http.Request) core.GroupID {
	return core.GroupID(chi.URLParam(r, "groupID"))
}

func expenseIDParam(r *http.Request) core.ExpenseID {
	return core.ExpenseID(chi.URLParam(r, "expenseID"))
}

func memberIDParam(r *http.Request) core.MemberID {
	return core.MemberID(chi.URLParam(r, "memberID"))
}

// parseCurrency falls back to def when code is empty.
func parseCurrency(code string, def currency.Unit) (currency.Unit, error) {
	if strings.TrimSpace(code) == "" {
		return def, nil
	}
	cur, err := core.ParseCurrency(code)
	if err != nil {
		return currency.Unit{}, &fieldError{Field: "currency", Err: err}
	}
	return cur, nil
}

// toSpec converts the split of an expense whose total is already parsed.
func (req splitRequest) toSpec(total core.Money) (core.SplitSpec, error) {
	spec := core.SplitSpec{Kind: core.SplitKind(req.Kind), Total: total}
	cur := total.Currency
	for i, p := range req.Participants {
		field := fmt.Sprintf("split.participants[%d]", i)
		share := core.ParticipantShare{
			MemberID: core.MemberID(sanitizeInput(p.MemberID)),
			Excluded: p.Excluded,
		}
		if p.Amount != "" {
			m, err := core.ParseMoney(p.Amount, cur)
			if err != nil {
				return core.SplitSpec{}, &fieldError{Field: field + ".amount", Err: err}
			}
			share.Amount = m
		}
		if p.Percent != "" {
			bp, err := core.ParsePercent(p.Percent)
			if err != nil {
				return core.SplitSpec{}, &fieldError{Field: field + ".percent", Err: err}
			}
			share.Percent = bp
		}
		if p.Bonus != "" {
			m, err := core.ParseMoney(p.Bonus, cur)
			if err != nil {
				return core.SplitSpec{}, &fieldError{Field: field + ".bonus", Err: err}
			}
			share.Bonus = m
		}
		spec.Participants = append(spec.Participants, share)
	}
	return spec, nil
}

// toInput parses amounts in the group's currency.
func (req expenseRequest) toInput(cur currency.Unit) (core.ExpenseInput, error) {
	amount, err := core.ParseAmount(req.Amount, cur)
	if err != nil {
		return core.ExpenseInput{}, &fieldError{Field: "amount", Err: err}
	}
	in := core.ExpenseInput{
		Title:       sanitizeInput(req.Title),
		Description: sanitizeInput(req.Description),
		Amount:      amount,
		PayerID:     core.MemberID(sanitizeInput(req.PayerID)),
		Category:    sanitizeInput(req.Category),
	}
	if req.Date != "" {
		d, err := core.ParseDate(req.Date)
		if err != nil {
			return core.ExpenseInput{}, &fieldError{Field: "date", Err: err}
		}
		in.Date = d
	}
	if in.Split, err = req.Split.toSpec(amount); err != nil {
		return core.ExpenseInput{}, err
	}
	return in, nil
}

func (req settlementRequest) toInput(cur currency.Unit) (core.SettlementInput, error) {
	amount, err := core.ParseAmount(req.Amount, cur)
	if err != nil {
		return core.SettlementInput{}, &fieldError{Field: "amount", Err: err}
	}
	method := core.SettlementMethod(req.Method)
	if method == "" {
		method = core.MethodManual
	}
	return core.SettlementInput{
		PayerID: core.MemberID(sanitizeInput(req.PayerID)),
		PayeeID: core.MemberID(sanitizeInput(req.PayeeID)),
		Amount:  amount,
		Method:  method,
		Note:    sanitizeInput(req.Note),
	}, nil
}
