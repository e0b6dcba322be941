package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/currency"
)

const (
	MethodManual SettlementMethod = "manual"
	MethodOnline SettlementMethod = "online"
)

const (
	ActionCreated ExpenseAction = "created"
	ActionUpdated ExpenseAction = "updated"
	ActionDeleted ExpenseAction = "deleted"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 1000
)

type (
	GroupID      string
	MemberID     string
	ExpenseID    string
	SettlementID string

	SettlementMethod string
	ExpenseAction    string

	Date struct {
		time.Time
	}

	// Member is an identity scoped to one group. It never changes after
	// joining; leaving removes it.
	Member struct {
		ID          MemberID
		DisplayName string
		JoinedAt    time.Time
	}

	// Expense is one immutable version of an expense record. Editing or
	// deleting appends a new version with the same ID and Version+1.
	Expense struct {
		ID          ExpenseID
		GroupID     GroupID
		Version     int
		Action      ExpenseAction
		Title       string
		Description string
		Amount      Money
		PayerID     MemberID
		Split       SplitSpec
		Shares      Shares
		Category    string
		Date        Date
		CreatedBy   MemberID
		CreatedAt   time.Time
	}

	// ExpenseInput carries the user-editable fields of an expense.
	ExpenseInput struct {
		Title       string
		Description string
		Amount      Money
		PayerID     MemberID
		Split       SplitSpec
		Category    string
		Date        Date
		CreatedBy   MemberID
	}

	// ExpenseHistory is every version of one expense, oldest first.
	ExpenseHistory []Expense

	Settlement struct {
		ID         SettlementID
		GroupID    GroupID
		PayerID    MemberID
		PayeeID    MemberID
		Amount     Money
		Method     SettlementMethod
		Note       string
		RecordedBy MemberID
		RecordedAt time.Time
	}

	SettlementInput struct {
		PayerID    MemberID
		PayeeID    MemberID
		Amount     Money
		Method     SettlementMethod
		Note       string
		RecordedBy MemberID
	}
)

// DefaultCategory is used when an expense names none.
const DefaultCategory = "Other"

// Categories offered to every group; custom names are accepted as well.
var Categories = []string{"Food", "Transport", "Accommodation", "Entertainment", "Shopping", "Bills", DefaultCategory}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current UTC calendar day.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (m SettlementMethod) Valid() bool {
	return m == MethodManual || m == MethodOnline
}

// Latest returns the newest version.
func (h ExpenseHistory) Latest() Expense {
	return h[len(h)-1]
}

func (e Expense) Voided() bool {
	return e.Action == ActionDeleted
}

// memberSet indexes members by ID.
func memberSet(members []Member) map[MemberID]Member {
	set := make(map[MemberID]Member, len(members))
	for _, m := range members {
		set[m.ID] = m
	}
	return set
}

func (in ExpenseInput) normalize() ExpenseInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	if in.Category == "" {
		in.Category = DefaultCategory
	}
	if in.Date.IsZero() {
		in.Date = Today()
	}
	if in.Split.Total.IsZero() {
		in.Split.Total = in.Amount
	}
	return in
}

// validate checks every field against the group's members and currency,
// then resolves the split. Nothing is recorded until it succeeds.
func (in ExpenseInput) validate(members []Member, cur currency.Unit) (Shares, error) {
	if in.Title == "" {
		return nil, ErrEmptyTitle
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return nil, ErrTitleTooLong
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return nil, ErrDescriptionTooLong
	}
	if err := in.Amount.Validate(); err != nil {
		return nil, err
	}
	if in.Amount.Currency != cur || in.Split.Total.Currency != cur {
		return nil, ErrCurrencyMismatch
	}
	if in.Split.Total.Cmp(in.Amount) != 0 {
		return nil, fmt.Errorf("%w: split total %s differs from amount %s", ErrInvalidAmount, in.Split.Total, in.Amount)
	}

	set := memberSet(members)
	if _, ok := set[in.PayerID]; !ok {
		return nil, ErrInvalidPayer
	}
	for _, p := range in.Split.Participants {
		if _, ok := set[p.MemberID]; !ok {
			return nil, fmt.Errorf("%w: participant %s", ErrUnknownMember, p.MemberID)
		}
	}
	return Resolve(in.Split)
}
