package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"breakthebill/internal/amqp"
	"breakthebill/internal/cache"
	"breakthebill/internal/core"
	"breakthebill/internal/log"
	"breakthebill/internal/storage"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/currency"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrGroupNotFound   = errors.New("group not found")
	ErrInvalidInvite   = errors.New("invalid invite code")
	ErrGroupNotSettled = errors.New("group has outstanding balances")
)

const inviteRetries = 3

// EventPublisher is implemented by *amqp.Client.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// BalanceSnapshot is everything derived from one version of a group's
// history. Snapshots are cached and must be treated as read-only.
type BalanceSnapshot struct {
	GroupID    core.GroupID
	Name       string
	Currency   currency.Unit
	OwnerID    core.MemberID
	Members    []core.Member
	Balances   core.Balances
	Transfers  []core.Transfer
	Summary    core.GroupSummary
	ComputedAt time.Time
}

func (s BalanceSnapshot) isMember(id core.MemberID) bool {
	for _, m := range s.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

type Options struct {
	Publisher    EventPublisher
	BalanceCache cache.Cache[BalanceSnapshot]
	Logger       *log.Logger
}

// LedgerService is the only writer of group history. Mutations of one group
// are serialized; balance reads are cached until the next mutation.
type LedgerService struct {
	repo      storage.Repository
	publisher EventPublisher
	balances  cache.Cache[BalanceSnapshot]
	flight    singleflight.Group
	locks     *groupLocks
	logger    *log.Logger
	events    *log.StructuredLogger
}

func NewLedgerService(repo storage.Repository, opts Options) *LedgerService {
	logger := opts.Logger
	if logger == nil {
		logger = log.ForComponent(log.ComponentLedger, "info")
	}
	balances := opts.BalanceCache
	if balances == nil {
		balances = cache.NewLRUCache[BalanceSnapshot](256, 5*time.Minute)
	}
	return &LedgerService{
		repo:      repo,
		publisher: opts.Publisher,
		balances:  balances,
		locks:     newGroupLocks(),
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

// CreateGroup starts a group owned by actor.
func (s *LedgerService) CreateGroup(ctx context.Context, name string, cur currency.Unit, actor core.Member) (core.Group, error) {
	var lastErr error
	for i := 0; i < inviteRetries; i++ {
		g, err := core.NewGroup(name, cur, actor)
		if err != nil {
			return core.Group{}, err
		}
		lastErr = s.repo.CreateGroup(ctx, g)
		if lastErr == nil {
			s.events.LogLedgerChange(ctx, "Group created", log.OpCreate,
				log.NewFields().WithGroup(string(g.ID)).WithMember(string(actor.ID)))
			s.publish(ctx, amqp.EventGroupCreated, g.ID, string(g.ID), 0, actor.ID)
			return g, nil
		}
		// Invite codes are random; a collision is retried with a fresh one.
		if !errors.Is(lastErr, storage.ErrConflict) {
			break
		}
	}
	return core.Group{}, fmt.Errorf("create group: %w", lastErr)
}

func (s *LedgerService) GetGroup(ctx context.Context, id core.GroupID, actor core.MemberID) (core.Group, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return core.Group{}, err
	}
	if !g.IsMember(actor) {
		return core.Group{}, ErrForbidden
	}
	return g, nil
}

func (s *LedgerService) ListGroups(ctx context.Context, actor core.MemberID) ([]core.Group, error) {
	groups, err := s.repo.ListGroups(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// JoinGroup adds actor to the group behind an invite code.
func (s *LedgerService) JoinGroup(ctx context.Context, code string, actor core.Member) (core.Group, error) {
	found, err := s.repo.FindGroupByInvite(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Group{}, ErrInvalidInvite
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("find invite: %w", err)
	}

	var joined core.Group
	err = s.mutate(ctx, found.ID, func(g *core.Group) error {
		if err := g.AddMember(actor); err != nil {
			return err
		}
		m, _ := g.Member(actor.ID)
		if err := s.repo.AddMember(ctx, g.ID, m); err != nil {
			return fmt.Errorf("store member: %w", err)
		}
		joined = *g
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	s.events.LogLedgerChange(ctx, "Member joined", log.OpJoin,
		log.NewFields().WithGroup(string(found.ID)).WithMember(string(actor.ID)))
	s.publish(ctx, amqp.EventMemberJoined, found.ID, string(actor.ID), 0, actor.ID)
	return joined, nil
}

// LeaveGroup removes actor. Refused while actor's balance is not zero.
func (s *LedgerService) LeaveGroup(ctx context.Context, id core.GroupID, actor core.MemberID) error {
	return s.removeMember(ctx, id, actor, actor)
}

// KickMember lets the owner remove another member.
func (s *LedgerService) KickMember(ctx context.Context, id core.GroupID, actor, member core.MemberID) error {
	return s.removeMember(ctx, id, actor, member)
}

func (s *LedgerService) removeMember(ctx context.Context, id core.GroupID, actor, member core.MemberID) error {
	err := s.mutate(ctx, id, func(g *core.Group) error {
		if !g.IsMember(actor) {
			return ErrForbidden
		}
		if actor != member && actor != g.OwnerID {
			return ErrForbidden
		}
		if err := g.RemoveMember(member); err != nil {
			return err
		}
		if err := s.repo.RemoveMember(ctx, id, member); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.LogLedgerChange(ctx, "Member left", log.OpLeave,
		log.NewFields().WithGroup(string(id)).WithMember(string(member)))
	s.publish(ctx, amqp.EventMemberLeft, id, string(member), 0, actor)
	return nil
}

func (s *LedgerService) TransferOwnership(ctx context.Context, id core.GroupID, actor, to core.MemberID) error {
	err := s.mutate(ctx, id, func(g *core.Group) error {
		if actor != g.OwnerID {
			return ErrForbidden
		}
		if err := g.TransferOwnership(to); err != nil {
			return err
		}
		if err := s.repo.SetOwner(ctx, id, to); err != nil {
			return fmt.Errorf("set owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, amqp.EventOwnerChanged, id, string(to), 0, actor)
	return nil
}

// DeleteGroup removes the group and its history. Only the owner may do it,
// and only once every balance is zero.
func (s *LedgerService) DeleteGroup(ctx context.Context, id core.GroupID, actor core.MemberID) error {
	err := s.mutate(ctx, id, func(g *core.Group) error {
		if actor != g.OwnerID {
			return ErrForbidden
		}
		if !core.ComputeBalances(*g).Settled() {
			return ErrGroupNotSettled
		}
		if err := s.repo.DeleteGroup(ctx, id); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.LogLedgerChange(ctx, "Group deleted", log.OpDelete, log.NewFields().WithGroup(string(id)))
	s.publish(ctx, amqp.EventGroupDeleted, id, string(id), 0, actor)
	return nil
}

// AddExpense validates and records version 1 of a new expense.
func (s *LedgerService) AddExpense(ctx context.Context, id core.GroupID, actor core.MemberID, in core.ExpenseInput) (core.Expense, error) {
	in.CreatedBy = actor
	return s.appendExpense(ctx, id, actor, amqp.EventExpenseCreated, func(g core.Group) (core.Expense, error) {
		return g.NewExpense(in)
	})
}

// EditExpense records a new version of an existing expense. The previous
// version stays in the history.
func (s *LedgerService) EditExpense(ctx context.Context, id core.GroupID, actor core.MemberID, expenseID core.ExpenseID, in core.ExpenseInput) (core.Expense, error) {
	in.CreatedBy = actor
	return s.appendExpense(ctx, id, actor, amqp.EventExpenseUpdated, func(g core.Group) (core.Expense, error) {
		return g.ReviseExpense(expenseID, in)
	})
}

// DeleteExpense records a tombstone version.
func (s *LedgerService) DeleteExpense(ctx context.Context, id core.GroupID, actor core.MemberID, expenseID core.ExpenseID) (core.Expense, error) {
	return s.appendExpense(ctx, id, actor, amqp.EventExpenseDeleted, func(g core.Group) (core.Expense, error) {
		return g.VoidExpense(expenseID, actor)
	})
}

func (s *LedgerService) appendExpense(ctx context.Context, id core.GroupID, actor core.MemberID, typ amqp.EventType, build func(core.Group) (core.Expense, error)) (core.Expense, error) {
	var e core.Expense
	err := s.mutate(ctx, id, func(g *core.Group) error {
		if !g.IsMember(actor) {
			return ErrForbidden
		}
		var err error
		if e, err = build(*g); err != nil {
			return err
		}
		if err := g.AppendExpense(e); err != nil {
			return err
		}
		if err := s.repo.AppendExpense(ctx, e); err != nil {
			return fmt.Errorf("store expense: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	op := log.OpAppend
	switch e.Action {
	case core.ActionUpdated:
		op = log.OpUpdate
	case core.ActionDeleted:
		op = log.OpDelete
	}
	s.events.LogLedgerChange(ctx, "Expense recorded", op,
		log.NewFields().
			WithGroup(string(id)).
			WithMember(string(actor)).
			WithExpense(string(e.ID), e.Version, e.Amount.Minor, e.Amount.Currency.String()))
	s.publish(ctx, typ, id, string(e.ID), e.Version, actor)
	return e, nil
}

func (s *LedgerService) ListExpenses(ctx context.Context, id core.GroupID, actor core.MemberID) ([]core.Expense, error) {
	g, err := s.GetGroup(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return g.CurrentExpenses(), nil
}

// ExpenseHistory returns every version of one expense, oldest first.
func (s *LedgerService) ExpenseHistory(ctx context.Context, id core.GroupID, actor core.MemberID, expenseID core.ExpenseID) (core.ExpenseHistory, error) {
	g, err := s.GetGroup(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	h := g.History(expenseID)
	if len(h) == 0 {
		return nil, core.ErrExpenseNotFound
	}
	return h, nil
}

// RecordSettlement records a payment. Only the payer or the payee may
// record it.
func (s *LedgerService) RecordSettlement(ctx context.Context, id core.GroupID, actor core.MemberID, in core.SettlementInput) (core.Settlement, error) {
	in.RecordedBy = actor
	var st core.Settlement
	err := s.mutate(ctx, id, func(g *core.Group) error {
		if !g.IsMember(actor) || (actor != in.PayerID && actor != in.PayeeID) {
			return ErrForbidden
		}
		var err error
		if st, err = g.NewSettlement(in); err != nil {
			return err
		}
		if err := g.AppendSettlement(st); err != nil {
			return err
		}
		if err := s.repo.AppendSettlement(ctx, st); err != nil {
			return fmt.Errorf("store settlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Settlement{}, err
	}
	s.events.LogLedgerChange(ctx, "Settlement recorded", log.OpSettle,
		log.NewFields().
			WithGroup(string(id)).
			WithMember(string(actor)).
			WithSettlement(string(st.ID), st.Amount.Minor, st.Amount.Currency.String()))
	s.publish(ctx, amqp.EventSettlementRecorded, id, string(st.ID), 0, actor)
	return st, nil
}

func (s *LedgerService) ListSettlements(ctx context.Context, id core.GroupID, actor core.MemberID) ([]core.Settlement, error) {
	g, err := s.GetGroup(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return g.Settlements, nil
}

// Balances returns the cached snapshot for a member of the group.
func (s *LedgerService) Balances(ctx context.Context, id core.GroupID, actor core.MemberID) (BalanceSnapshot, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	if !snap.isMember(actor) {
		return BalanceSnapshot{}, ErrForbidden
	}
	return snap, nil
}

// SettleUp suggests the payments that would settle the group.
func (s *LedgerService) SettleUp(ctx context.Context, id core.GroupID, actor core.MemberID) ([]core.Transfer, error) {
	snap, err := s.Balances(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return snap.Transfers, nil
}

func (s *LedgerService) Summary(ctx context.Context, id core.GroupID, actor core.MemberID) (core.GroupSummary, error) {
	snap, err := s.Balances(ctx, id, actor)
	if err != nil {
		return core.GroupSummary{}, err
	}
	return snap.Summary, nil
}

// PreviewSplit resolves a split without recording anything.
func (s *LedgerService) PreviewSplit(_ context.Context, spec core.SplitSpec) (core.Shares, error) {
	return core.Resolve(spec)
}

// Snapshot computes, or returns the cached, balances of a group without
// a membership check. Concurrent misses for one group share one load.
func (s *LedgerService) Snapshot(ctx context.Context, id core.GroupID) (BalanceSnapshot, error) {
	if snap, ok := s.balances.Get(string(id)); ok {
		return snap, nil
	}

	ch := s.flight.DoChan(string(id), func() (any, error) {
		// The group lock orders this computation against mutations, so a
		// snapshot is never cached after the write that invalidates it.
		unlock := s.locks.lock(id)
		defer unlock()

		if snap, ok := s.balances.Get(string(id)); ok {
			return snap, nil
		}
		g, err := s.load(context.WithoutCancel(ctx), id)
		if err != nil {
			return BalanceSnapshot{}, err
		}
		snap, err := computeSnapshot(g)
		if err != nil {
			return BalanceSnapshot{}, err
		}
		s.balances.Set(string(id), snap)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return BalanceSnapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return BalanceSnapshot{}, res.Err
		}
		return res.Val.(BalanceSnapshot), nil
	}
}

func computeSnapshot(g core.Group) (BalanceSnapshot, error) {
	b := core.ComputeBalances(g)
	transfers, err := core.Simplify(b)
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("simplify group %s: %w", g.ID, err)
	}
	return BalanceSnapshot{
		GroupID:    g.ID,
		Name:       g.Name,
		Currency:   g.Currency,
		OwnerID:    g.OwnerID,
		Members:    g.Members,
		Balances:   b,
		Transfers:  transfers,
		Summary:    core.Summarize(g),
		ComputedAt: time.Now().UTC(),
	}, nil
}

// mutate runs fn on a fresh copy of the group while holding its lock and
// drops the cached snapshot afterwards, whether or not fn succeeded.
func (s *LedgerService) mutate(ctx context.Context, id core.GroupID, fn func(g *core.Group) error) error {
	unlock := s.locks.lock(id)
	defer unlock()
	defer s.balances.Delete(string(id))

	g, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return fn(&g)
}

func (s *LedgerService) load(ctx context.Context, id core.GroupID) (core.Group, error) {
	g, err := s.repo.GetGroup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("load group %s: %w", id, err)
	}
	return g, nil
}

// publish is best effort: the history is already committed, so a broker
// outage only delays exports.
func (s *LedgerService) publish(ctx context.Context, typ amqp.EventType, id core.GroupID, entity string, version int, actor core.MemberID) {
	if s.publisher == nil {
		return
	}
	ev := amqp.NewLedgerEvent(typ, string(id), entity, version, string(actor))
	if err := s.publisher.PublishLedgerEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.events.LogError(ctx, "Failed to publish ledger event", err, log.OpAppend,
			log.NewFields().WithGroup(string(id)).WithEventType(string(typ)))
	}
}
