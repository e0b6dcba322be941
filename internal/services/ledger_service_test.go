package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"breakthebill/internal/amqp"
	"breakthebill/internal/core"
	"breakthebill/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// countingRepo counts group loads so cache hits are observable.
type countingRepo struct {
	storage.Repository
	loads atomic.Int64
}

func (r *countingRepo) GetGroup(ctx context.Context, id core.GroupID) (core.Group, error) {
	r.loads.Add(1)
	return r.Repository.GetGroup(ctx, id)
}

var (
	asha   = core.Member{ID: "asha", DisplayName: "Asha"}
	bala   = core.Member{ID: "bala", DisplayName: "Bala"}
	chitra = core.Member{ID: "chitra", DisplayName: "Chitra"}
)

func inr(minor int64) core.Money { return core.NewMoney(minor, currency.INR) }

func equalSplit(title string, minor int64, payer core.MemberID, ids ...core.MemberID) core.ExpenseInput {
	parts := make([]core.ParticipantShare, len(ids))
	for i, id := range ids {
		parts[i] = core.ParticipantShare{MemberID: id}
	}
	return core.ExpenseInput{
		Title:   title,
		Amount:  inr(minor),
		PayerID: payer,
		Split:   core.SplitSpec{Kind: core.SplitEqual, Participants: parts},
	}
}

type fixture struct {
	svc   *LedgerService
	repo  *countingRepo
	pub   *recordingPublisher
	group core.Group
}

// newFixture creates a group owned by asha with bala and chitra joined.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := &countingRepo{Repository: storage.NewMemoryRepository()}
	pub := &recordingPublisher{}
	svc := NewLedgerService(repo, Options{Publisher: pub})

	g, err := svc.CreateGroup(ctx, "Goa trip", currency.INR, asha)
	require.NoError(t, err)
	for _, m := range []core.Member{bala, chitra} {
		_, err := svc.JoinGroup(ctx, g.InviteCode, m)
		require.NoError(t, err)
	}
	return &fixture{svc: svc, repo: repo, pub: pub, group: g}
}

func TestLedgerService_CreateAndJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.GetGroup(ctx, f.group.ID, "bala")
	require.NoError(t, err)
	assert.Len(t, g.Members, 3)
	assert.Equal(t, core.MemberID("asha"), g.OwnerID)

	_, err = f.svc.GetGroup(ctx, f.group.ID, "stranger")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GetGroup(ctx, "missing", "asha")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = f.svc.JoinGroup(ctx, f.group.InviteCode, bala)
	assert.ErrorIs(t, err, core.ErrDuplicateMember)

	_, err = f.svc.JoinGroup(ctx, "NOPE1234", core.Member{ID: "dev", DisplayName: "Dev"})
	assert.ErrorIs(t, err, ErrInvalidInvite)

	groups, err := f.svc.ListGroups(ctx, "chitra")
	require.NoError(t, err)
	require.Len(t, groups, 1)

	assert.Equal(t, []amqp.EventType{
		amqp.EventGroupCreated, amqp.EventMemberJoined, amqp.EventMemberJoined,
	}, f.pub.types())
}

func TestLedgerService_ExpenseLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID

	e, err := f.svc.AddExpense(ctx, id, "asha", equalSplit("Dinner", 30000, "asha", "asha", "bala", "chitra"))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, core.MemberID("asha"), e.CreatedBy)

	snap, err := f.svc.Balances(ctx, id, "bala")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), snap.Balances["asha"].Minor)
	assert.Equal(t, int64(-10000), snap.Balances["bala"].Minor)
	assert.Equal(t, int64(-10000), snap.Balances["chitra"].Minor)

	edited, err := f.svc.EditExpense(ctx, id, "bala", e.ID, equalSplit("Dinner", 20000, "asha", "asha", "bala"))
	require.NoError(t, err)
	assert.Equal(t, 2, edited.Version)
	assert.Equal(t, core.MemberID("bala"), edited.CreatedBy)

	snap, err = f.svc.Balances(ctx, id, "asha")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), snap.Balances["asha"].Minor)
	assert.Equal(t, int64(-10000), snap.Balances["bala"].Minor)
	assert.True(t, snap.Balances["chitra"].IsZero())

	current, err := f.svc.ListExpenses(ctx, id, "chitra")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, 2, current[0].Version)

	voided, err := f.svc.DeleteExpense(ctx, id, "chitra", e.ID)
	require.NoError(t, err)
	assert.True(t, voided.Voided())
	assert.Equal(t, 3, voided.Version)

	_, err = f.svc.DeleteExpense(ctx, id, "chitra", e.ID)
	assert.ErrorIs(t, err, core.ErrExpenseVoided)

	history, err := f.svc.ExpenseHistory(ctx, id, "asha", e.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, core.ActionCreated, history[0].Action)
	assert.Equal(t, core.ActionUpdated, history[1].Action)
	assert.Equal(t, core.ActionDeleted, history[2].Action)

	_, err = f.svc.ExpenseHistory(ctx, id, "asha", "missing")
	assert.ErrorIs(t, err, core.ErrExpenseNotFound)

	snap, err = f.svc.Balances(ctx, id, "asha")
	require.NoError(t, err)
	assert.True(t, snap.Balances.Settled())
	assert.Empty(t, snap.Transfers)

	types := f.pub.types()
	assert.Equal(t, []amqp.EventType{
		amqp.EventExpenseCreated, amqp.EventExpenseUpdated, amqp.EventExpenseDeleted,
	}, types[len(types)-3:])
}

func TestLedgerService_RejectsInvalidExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddExpense(ctx, f.group.ID, "stranger", equalSplit("Taxi", 500, "asha", "asha"))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AddExpense(ctx, f.group.ID, "asha", equalSplit("Taxi", 500, "dev", "asha"))
	assert.ErrorIs(t, err, core.ErrInvalidPayer)

	custom := core.ExpenseInput{
		Title:   "Hotel",
		Amount:  inr(10000),
		PayerID: "asha",
		Split: core.SplitSpec{Kind: core.SplitCustom, Participants: []core.ParticipantShare{
			{MemberID: "asha", Amount: inr(5000)},
			{MemberID: "bala", Amount: inr(4999)},
		}},
	}
	_, err = f.svc.AddExpense(ctx, f.group.ID, "asha", custom)
	assert.ErrorIs(t, err, core.ErrUnbalancedSplit)

	current, err := f.svc.ListExpenses(ctx, f.group.ID, "asha")
	require.NoError(t, err)
	assert.Empty(t, current, "rejected expenses leave no trace")
}

func TestLedgerService_SettlementsAndSettleUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID

	_, err := f.svc.AddExpense(ctx, id, "asha", equalSplit("Villa", 30000, "asha", "asha", "bala", "chitra"))
	require.NoError(t, err)

	transfers, err := f.svc.SettleUp(ctx, id, "bala")
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	for _, tr := range transfers {
		assert.Equal(t, core.MemberID("asha"), tr.To)
		assert.Equal(t, int64(10000), tr.Amount.Minor)
	}

	in := core.SettlementInput{PayerID: "bala", PayeeID: "asha", Amount: inr(10000), Method: core.MethodManual}
	_, err = f.svc.RecordSettlement(ctx, id, "chitra", in)
	assert.ErrorIs(t, err, ErrForbidden, "a bystander cannot record someone else's payment")

	st, err := f.svc.RecordSettlement(ctx, id, "bala", in)
	require.NoError(t, err)
	assert.Equal(t, core.MemberID("bala"), st.RecordedBy)

	settlements, err := f.svc.ListSettlements(ctx, id, "asha")
	require.NoError(t, err)
	require.Len(t, settlements, 1)

	transfers, err = f.svc.SettleUp(ctx, id, "asha")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, core.MemberID("chitra"), transfers[0].From)
	assert.Equal(t, core.MemberID("asha"), transfers[0].To)
	assert.Equal(t, int64(10000), transfers[0].Amount.Minor)

	summary, err := f.svc.Summary(ctx, id, "chitra")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), summary.TotalSpent.Minor)
	assert.Equal(t, 1, summary.ExpenseCount)
}

func TestLedgerService_MembershipRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID

	_, err := f.svc.AddExpense(ctx, id, "bala", equalSplit("Fuel", 4000, "bala", "bala", "chitra"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, id, "chitra"), core.ErrMemberHasOutstandingBalance)
	assert.ErrorIs(t, f.svc.KickMember(ctx, id, "bala", "chitra"), ErrForbidden, "only the owner kicks")
	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, id, "asha"), core.ErrOwnerMustTransfer)

	_, err = f.svc.RecordSettlement(ctx, id, "chitra", core.SettlementInput{
		PayerID: "chitra", PayeeID: "bala", Amount: inr(2000), Method: core.MethodOnline,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.KickMember(ctx, id, "asha", "chitra"))

	_, err = f.svc.GetGroup(ctx, id, "chitra")
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, id, "bala", "bala"), ErrForbidden)
	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, id, "asha", "chitra"), core.ErrUnknownMember)
	require.NoError(t, f.svc.TransferOwnership(ctx, id, "asha", "bala"))
	require.NoError(t, f.svc.LeaveGroup(ctx, id, "asha"))

	g, err := f.svc.GetGroup(ctx, id, "bala")
	require.NoError(t, err)
	assert.Equal(t, core.MemberID("bala"), g.OwnerID)
	require.Len(t, g.Members, 1)

	// Former members keep their place in the history.
	snap, err := f.svc.Balances(ctx, id, "bala")
	require.NoError(t, err)
	assert.True(t, snap.Balances.Sum().IsZero())
}

func TestLedgerService_DeleteGroupRequiresSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID

	_, err := f.svc.AddExpense(ctx, id, "asha", equalSplit("Tickets", 2000, "asha", "asha", "bala"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteGroup(ctx, id, "bala"), ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteGroup(ctx, id, "asha"), ErrGroupNotSettled)

	_, err = f.svc.RecordSettlement(ctx, id, "asha", core.SettlementInput{
		PayerID: "bala", PayeeID: "asha", Amount: inr(1000), Method: core.MethodManual,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteGroup(ctx, id, "asha"))

	_, err = f.svc.GetGroup(ctx, id, "asha")
	assert.ErrorIs(t, err, ErrGroupNotFound)
	_, err = f.svc.Balances(ctx, id, "asha")
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.Equal(t, amqp.EventGroupDeleted, f.pub.types()[len(f.pub.types())-1])
}

func TestLedgerService_BalancesAreCachedUntilNextWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID

	_, err := f.svc.AddExpense(ctx, id, "asha", equalSplit("Snacks", 900, "asha", "asha", "bala", "chitra"))
	require.NoError(t, err)

	first, err := f.svc.Balances(ctx, id, "asha")
	require.NoError(t, err)
	loads := f.repo.loads.Load()

	for i := 0; i < 5; i++ {
		again, err := f.svc.Balances(ctx, id, "bala")
		require.NoError(t, err)
		assert.Equal(t, first.ComputedAt, again.ComputedAt)
	}
	assert.Equal(t, loads, f.repo.loads.Load(), "cached reads must not hit storage")

	_, err = f.svc.AddExpense(ctx, id, "bala", equalSplit("Tea", 300, "bala", "asha", "bala", "chitra"))
	require.NoError(t, err)
	after, err := f.svc.Balances(ctx, id, "asha")
	require.NoError(t, err)
	assert.Equal(t, int64(500), after.Balances["asha"].Minor)
	assert.Equal(t, int64(-100), after.Balances["bala"].Minor)
}

func TestLedgerService_ConcurrentAppendsAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID
	payers := []core.MemberID{"asha", "bala", "chitra"}

	const n = 30
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payer := payers[i%len(payers)]
			_, err := f.svc.AddExpense(ctx, id, payer, equalSplit("Round", int64(100+i), payer, "asha", "bala", "chitra"))
			errs <- err
			// Reads race with writes on purpose.
			_, _ = f.svc.Balances(ctx, id, payer)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := f.svc.ListExpenses(ctx, id, "asha")
	require.NoError(t, err)
	assert.Len(t, current, n)

	snap, err := f.svc.Balances(ctx, id, "asha")
	require.NoError(t, err)
	fresh := core.ComputeBalances(mustLoad(t, f.repo, id))
	assert.Equal(t, fresh, snap.Balances, "cached snapshot must reflect every append")
	assert.True(t, snap.Balances.Sum().IsZero())
	assert.Zero(t, f.svc.locks.size())
}

func TestLedgerService_PublishFailureDoesNotFailWrites(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	e, err := f.svc.AddExpense(context.Background(), f.group.ID, "asha", equalSplit("Cab", 600, "asha", "asha", "bala"))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
}

func TestLedgerService_NilPublisher(t *testing.T) {
	svc := NewLedgerService(storage.NewMemoryRepository(), Options{})
	g, err := svc.CreateGroup(context.Background(), "Solo", currency.EUR, asha)
	require.NoError(t, err)
	assert.Equal(t, currency.EUR, g.Currency)

	_, err = svc.CreateGroup(context.Background(), "  ", currency.EUR, asha)
	assert.ErrorIs(t, err, core.ErrEmptyName)
}

func TestLedgerService_PreviewSplit(t *testing.T) {
	svc := NewLedgerService(storage.NewMemoryRepository(), Options{})
	shares, err := svc.PreviewSplit(context.Background(), core.SplitSpec{
		Kind:  core.SplitEqual,
		Total: inr(10000),
		Participants: []core.ParticipantShare{
			{MemberID: "a"}, {MemberID: "b"}, {MemberID: "c"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3334), shares["a"].Minor)
	assert.Equal(t, int64(3333), shares["b"].Minor)
	assert.Equal(t, int64(3333), shares["c"].Minor)
}

func mustLoad(t *testing.T, repo storage.Repository, id core.GroupID) core.Group {
	t.Helper()
	g, err := repo.GetGroup(context.Background(), id)
	require.NoError(t, err)
	return g
}

func TestLedgerService_FormerMemberExpenseCannotChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.group.ID

	e, err := f.svc.AddExpense(ctx, id, "asha", equalSplit("Fuel", 600, "asha", "asha", "bala"))
	require.NoError(t, err)
	_, err = f.svc.RecordSettlement(ctx, id, "bala", core.SettlementInput{
		PayerID: "bala", PayeeID: "asha", Amount: inr(300), Method: core.MethodManual,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.LeaveGroup(ctx, id, "bala"))

	_, err = f.svc.DeleteExpense(ctx, id, "asha", e.ID)
	assert.ErrorIs(t, err, core.ErrFormerMemberInvolved)
	_, err = f.svc.EditExpense(ctx, id, "asha", e.ID, equalSplit("Fuel", 600, "asha", "asha", "chitra"))
	assert.ErrorIs(t, err, core.ErrFormerMemberInvolved)

	history, err := f.svc.ExpenseHistory(ctx, id, "asha", e.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	snap, err := f.svc.Balances(ctx, id, "asha")
	require.NoError(t, err)
	assert.True(t, snap.Balances.Settled(), "balances: %v", snap.Balances)
	require.NoError(t, f.svc.DeleteGroup(ctx, id, "asha"))
}
