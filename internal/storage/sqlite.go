package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"breakthebill/internal/core"
	"breakthebill/internal/log"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps appends strictly ordered.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = log.ForComponent(log.ComponentStorage, "info")
	}
	return &SQLiteRepository{db: db, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_groups (id, name, currency, owner_id, invite_code, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			string(g.ID), g.Name, g.Currency.String(), string(g.OwnerID), g.InviteCode, g.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return mapWriteErr("insert group", err)
		}
		for _, m := range g.Members {
			if err := insertMember(ctx, tx, g.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id core.GroupID) (core.Group, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, currency, owner_id, invite_code, created_at FROM ledger_groups WHERE id = ?`, string(id))
	return r.loadGroup(ctx, row)
}

func (r *SQLiteRepository) FindGroupByInvite(ctx context.Context, code string) (core.Group, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, currency, owner_id, invite_code, created_at FROM ledger_groups WHERE invite_code = ?`,
		strings.ToUpper(strings.TrimSpace(code)))
	return r.loadGroup(ctx, row)
}

func (r *SQLiteRepository) ListGroups(ctx context.Context, member core.MemberID) ([]core.Group, error) {
	ids, err := r.queryIDs(ctx,
		`SELECT g.id FROM ledger_groups g JOIN group_members m ON m.group_id = g.id WHERE m.member_id = ? ORDER BY g.created_at, g.id`,
		string(member))
	if err != nil {
		return nil, err
	}
	groups := make([]core.Group, 0, len(ids))
	for _, id := range ids {
		g, err := r.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (r *SQLiteRepository) ListGroupIDs(ctx context.Context) ([]core.GroupID, error) {
	return r.queryIDs(ctx, `SELECT id FROM ledger_groups ORDER BY created_at, id`)
}

func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id core.GroupID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"settlements", "expense_versions", "group_members"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE group_id = ?`, string(id)); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM ledger_groups WHERE id = ?`, string(id))
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		return requireAffected(res)
	})
}

func (r *SQLiteRepository) AddMember(ctx context.Context, id core.GroupID, m core.Member) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := groupExists(ctx, tx, id); err != nil {
			return err
		}
		return insertMember(ctx, tx, id, m)
	})
}

func (r *SQLiteRepository) RemoveMember(ctx context.Context, id core.GroupID, member core.MemberID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND member_id = ?`, string(id), string(member))
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) SetOwner(ctx context.Context, id core.GroupID, owner core.MemberID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE ledger_groups SET owner_id = ? WHERE id = ?`, string(owner), string(id))
	if err != nil {
		return fmt.Errorf("update owner: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) AppendExpense(ctx context.Context, e core.Expense) error {
	split, err := encodeSplit(e.Split)
	if err != nil {
		return err
	}
	shares, err := encodeShares(e.Shares)
	if err != nil {
		return err
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if err := groupExists(ctx, tx, e.GroupID); err != nil {
			return err
		}
		var latest int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM expense_versions WHERE group_id = ? AND expense_id = ?`,
			string(e.GroupID), string(e.ID)).Scan(&latest); err != nil {
			return fmt.Errorf("read latest version: %w", err)
		}
		if e.Version != latest+1 {
			return fmt.Errorf("%w: expense %s version %d after %d", ErrConflict, e.ID, e.Version, latest)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expense_versions (
				group_id, expense_id, version, action, title, description, amount_minor, currency, payer_id,
				category, expense_date, split_json, shares_json, created_by, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.GroupID), string(e.ID), e.Version, string(e.Action), e.Title, e.Description, e.Amount.Minor,
			e.Amount.Currency.String(), string(e.PayerID), e.Category, e.Date.String(), split, shares,
			string(e.CreatedBy), e.CreatedAt.UTC().Format(timeLayout))
		return mapWriteErr("insert expense version", err)
	})
	if err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "Expense version stored",
		log.FieldGroupID, e.GroupID,
		log.FieldExpenseID, e.ID,
		log.FieldVersion, e.Version,
		log.FieldAmountMinor, e.Amount.Minor)
	return nil
}

func (r *SQLiteRepository) AppendSettlement(ctx context.Context, s core.Settlement) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := groupExists(ctx, tx, s.GroupID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settlements (id, group_id, payer_id, payee_id, amount_minor, currency, method, note, recorded_by, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(s.ID), string(s.GroupID), string(s.PayerID), string(s.PayeeID), s.Amount.Minor,
			s.Amount.Currency.String(), string(s.Method), s.Note, string(s.RecordedBy), s.RecordedAt.UTC().Format(timeLayout))
		return mapWriteErr("insert settlement", err)
	})
}

func (r *SQLiteRepository) loadGroup(ctx context.Context, row *sql.Row) (core.Group, error) {
	var (
		g                          core.Group
		id, cur, owner, createdRaw string
	)
	if err := row.Scan(&id, &g.Name, &cur, &owner, &g.InviteCode, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Group{}, ErrNotFound
		}
		return core.Group{}, fmt.Errorf("scan group: %w", err)
	}
	g.ID = core.GroupID(id)
	g.OwnerID = core.MemberID(owner)

	var err error
	if g.Currency, err = parseCurrency(cur); err != nil {
		return core.Group{}, err
	}
	if g.CreatedAt, err = time.Parse(timeLayout, createdRaw); err != nil {
		return core.Group{}, fmt.Errorf("parse group created_at: %w", err)
	}
	if g.Members, err = r.loadMembers(ctx, g.ID); err != nil {
		return core.Group{}, err
	}
	if g.Expenses, err = r.loadExpenses(ctx, g); err != nil {
		return core.Group{}, err
	}
	if g.Settlements, err = r.loadSettlements(ctx, g); err != nil {
		return core.Group{}, err
	}
	return g, nil
}

func (r *SQLiteRepository) loadMembers(ctx context.Context, id core.GroupID) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT member_id, display_name, joined_at FROM group_members WHERE group_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var mid, name, joined string
		if err := rows.Scan(&mid, &name, &joined); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		t, err := time.Parse(timeLayout, joined)
		if err != nil {
			return nil, fmt.Errorf("parse joined_at: %w", err)
		}
		members = append(members, core.Member{ID: core.MemberID(mid), DisplayName: name, JoinedAt: t})
	}
	return members, rows.Err()
}

func (r *SQLiteRepository) loadExpenses(ctx context.Context, g core.Group) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT expense_id, version, action, title, description, amount_minor, currency, payer_id, category,
		       expense_date, split_json, shares_json, created_by, created_at
		FROM expense_versions WHERE group_id = ? ORDER BY seq`, string(g.ID))
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		var (
			e                                     core.Expense
			id, action, cur, payer, by            string
			dateRaw, splitRaw, sharesRaw, created string
			minor                                 int64
		)
		if err := rows.Scan(&id, &e.Version, &action, &e.Title, &e.Description, &minor, &cur, &payer, &e.Category,
			&dateRaw, &splitRaw, &sharesRaw, &by, &created); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		unit, err := parseCurrency(cur)
		if err != nil {
			return nil, err
		}
		e.ID = core.ExpenseID(id)
		e.GroupID = g.ID
		e.Action = core.ExpenseAction(action)
		e.Amount = core.NewMoney(minor, unit)
		e.PayerID = core.MemberID(payer)
		e.CreatedBy = core.MemberID(by)
		if e.Date, err = core.ParseDate(dateRaw); err != nil {
			return nil, fmt.Errorf("parse expense date: %w", err)
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse expense created_at: %w", err)
		}
		if e.Split, err = decodeSplit(splitRaw, unit); err != nil {
			return nil, err
		}
		if e.Shares, err = decodeShares(sharesRaw, unit); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) loadSettlements(ctx context.Context, g core.Group) ([]core.Settlement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payer_id, payee_id, amount_minor, currency, method, note, recorded_by, recorded_at
		FROM settlements WHERE group_id = ? ORDER BY seq`, string(g.ID))
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var out []core.Settlement
	for rows.Next() {
		var (
			s                                       core.Settlement
			id, payer, payee, cur, method, by, when string
			minor                                   int64
		)
		if err := rows.Scan(&id, &payer, &payee, &minor, &cur, &method, &s.Note, &by, &when); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		unit, err := parseCurrency(cur)
		if err != nil {
			return nil, err
		}
		s.ID = core.SettlementID(id)
		s.GroupID = g.ID
		s.PayerID = core.MemberID(payer)
		s.PayeeID = core.MemberID(payee)
		s.Amount = core.NewMoney(minor, unit)
		s.Method = core.SettlementMethod(method)
		s.RecordedBy = core.MemberID(by)
		if s.RecordedAt, err = time.Parse(timeLayout, when); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) queryIDs(ctx context.Context, query string, args ...any) ([]core.GroupID, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query group ids: %w", err)
	}
	defer rows.Close()

	var ids []core.GroupID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, core.GroupID(id))
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertMember(ctx context.Context, tx *sql.Tx, id core.GroupID, m core.Member) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, member_id, display_name, joined_at) VALUES (?, ?, ?, ?)`,
		string(id), string(m.ID), m.DisplayName, m.JoinedAt.UTC().Format(timeLayout))
	return mapWriteErr("insert member", err)
}

func groupExists(ctx context.Context, tx *sql.Tx, id core.GroupID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM ledger_groups WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check group: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapWriteErr turns unique constraint violations into ErrConflict.
func mapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
