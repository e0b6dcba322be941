package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"breakthebill/internal/core"
)

// MemoryRepository keeps everything in process. Returned groups are copies,
// so callers may mutate them freely.
type MemoryRepository struct {
	mu     sync.RWMutex
	groups map[core.GroupID]*core.Group
	order  []core.GroupID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{groups: make(map[core.GroupID]*core.Group)}
}

func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) CreateGroup(_ context.Context, g core.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[g.ID]; ok {
		return fmt.Errorf("insert group: %w", ErrConflict)
	}
	for _, existing := range r.groups {
		if existing.InviteCode == g.InviteCode {
			return fmt.Errorf("insert group: %w", ErrConflict)
		}
	}
	c := clone(g)
	r.groups[g.ID] = &c
	r.order = append(r.order, g.ID)
	return nil
}

func (r *MemoryRepository) GetGroup(_ context.Context, id core.GroupID) (core.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return core.Group{}, ErrNotFound
	}
	return clone(*g), nil
}

func (r *MemoryRepository) FindGroupByInvite(_ context.Context, code string) (core.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	for _, g := range r.groups {
		if g.InviteCode == code {
			return clone(*g), nil
		}
	}
	return core.Group{}, ErrNotFound
}

func (r *MemoryRepository) ListGroups(_ context.Context, member core.MemberID) ([]core.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.Group
	for _, id := range r.order {
		if g := r.groups[id]; g.IsMember(member) {
			out = append(out, clone(*g))
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListGroupIDs(context.Context) ([]core.GroupID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order), nil
}

func (r *MemoryRepository) DeleteGroup(_ context.Context, id core.GroupID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return ErrNotFound
	}
	delete(r.groups, id)
	r.order = slices.DeleteFunc(r.order, func(x core.GroupID) bool { return x == id })
	return nil
}

func (r *MemoryRepository) AddMember(_ context.Context, id core.GroupID, m core.Member) error {
	return r.update(id, func(g *core.Group) error {
		if g.IsMember(m.ID) {
			return fmt.Errorf("insert member: %w", ErrConflict)
		}
		g.Members = append(g.Members, m)
		return nil
	})
}

func (r *MemoryRepository) RemoveMember(_ context.Context, id core.GroupID, member core.MemberID) error {
	return r.update(id, func(g *core.Group) error {
		if !g.IsMember(member) {
			return ErrNotFound
		}
		g.Members = slices.DeleteFunc(g.Members, func(m core.Member) bool { return m.ID == member })
		return nil
	})
}

func (r *MemoryRepository) SetOwner(_ context.Context, id core.GroupID, owner core.MemberID) error {
	return r.update(id, func(g *core.Group) error {
		g.OwnerID = owner
		return nil
	})
}

func (r *MemoryRepository) AppendExpense(_ context.Context, e core.Expense) error {
	return r.update(e.GroupID, func(g *core.Group) error {
		latest := 0
		if h := g.History(e.ID); len(h) > 0 {
			latest = h.Latest().Version
		}
		if e.Version != latest+1 {
			return fmt.Errorf("%w: expense %s version %d after %d", ErrConflict, e.ID, e.Version, latest)
		}
		g.Expenses = append(g.Expenses, e)
		return nil
	})
}

func (r *MemoryRepository) AppendSettlement(_ context.Context, s core.Settlement) error {
	return r.update(s.GroupID, func(g *core.Group) error {
		for _, existing := range g.Settlements {
			if existing.ID == s.ID {
				return fmt.Errorf("insert settlement: %w", ErrConflict)
			}
		}
		g.Settlements = append(g.Settlements, s)
		return nil
	})
}

func (r *MemoryRepository) update(id core.GroupID, fn func(g *core.Group) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return ErrNotFound
	}
	return fn(g)
}

// clone copies the slices of g. Expense versions are immutable, so their
// share maps are shared.
func clone(g core.Group) core.Group {
	g.Members = slices.Clone(g.Members)
	g.Expenses = slices.Clone(g.Expenses)
	g.Settlements = slices.Clone(g.Settlements)
	return g
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)
