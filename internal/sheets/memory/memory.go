package memory

import (
	"context"
	"fmt"
	"sync"

	"breakthebill/internal/core"
	ports "breakthebill/internal/sheets"
)

// Row is one exported history entry.
type Row struct {
	GroupID core.GroupID
	Kind    string
	EntryID string
	Version int
	Amount  core.Money
}

// Store is an in-process exporter used when no spreadsheet is configured
// and in tests.
type Store struct {
	mu        sync.Mutex
	rows      []Row
	summaries map[core.GroupID]ports.Summary
}

var _ ports.Exporter = (*Store)(nil)

func New() *Store {
	return &Store{summaries: make(map[core.GroupID]ports.Summary)}
}

// AppendExpense stores the row and returns a synthetic row reference.
func (s *Store) AppendExpense(_ context.Context, g core.Group, e core.Expense) (string, error) {
	return s.append(Row{GroupID: g.ID, Kind: "expense", EntryID: string(e.ID), Version: e.Version, Amount: e.Amount})
}

func (s *Store) AppendSettlement(_ context.Context, g core.Group, st core.Settlement) (string, error) {
	return s.append(Row{GroupID: g.ID, Kind: "settlement", EntryID: string(st.ID), Version: 1, Amount: st.Amount})
}

func (s *Store) append(r Row) (string, error) {
	if r.GroupID == "" || r.EntryID == "" {
		return "", fmt.Errorf("incomplete %s row", r.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

func (s *Store) WriteSummary(_ context.Context, sum ports.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.GroupID] = sum
	return nil
}

func (s *Store) RemoveSummary(_ context.Context, id core.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, id)
	return nil
}

// Rows returns a copy of every exported history row.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

func (s *Store) Summary(id core.GroupID) (ports.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[id]
	return sum, ok
}
