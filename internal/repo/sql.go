package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pwdemo/internal/db"
	"pwdemo/internal/domain"
	"pwdemo/internal/schema"
	"pwdemo/internal/seed"
)

const protocolColumns = `id,assignee_id,status,title,COALESCE(site_name,''),COALESCE(turbine_id,''),COALESCE(date,''),COALESCE(template_name,''),sections_json,items_json,completed_at`

// SQL is the durable backend over SQLite or Postgres.
type SQL struct {
	DB      *sql.DB
	Dialect db.Dialect
	seed    seed.Data
}

var _ ProtocolStore = (*SQL)(nil)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQL ensures the schema exists and seeds an empty database. Existing rows
// are left untouched so state survives restarts.
func NewSQL(ctx context.Context, conn *sql.DB, dialect db.Dialect, data seed.Data) (*SQL, error) {
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := schema.Ensure(ctx, conn); err != nil {
		return nil, err
	}
	s := &SQL{DB: conn, Dialect: dialect, seed: data.Clone()}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM protocols`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count protocols: %w", err)
	}
	if n == 0 {
		if _, err := s.Reset(ctx); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return s, nil
}

func (s *SQL) Kind() string { return string(s.Dialect) }

func (s *SQL) Close() error { return s.DB.Close() }

func (s *SQL) q(query string) string { return s.Dialect.Rebind(query) }

func (s *SQL) Users(ctx context.Context) ([]domain.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,name FROM users ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *SQL) Protocols(ctx context.Context, f ProtocolFilter) ([]domain.Protocol, error) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + protocolColumns + ` FROM protocols`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"
	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Protocol{}
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *SQL) Protocol(ctx context.Context, id string) (domain.Protocol, error) {
	return s.protocol(ctx, s.DB, id)
}

func (s *SQL) protocol(ctx context.Context, q queryer, id string) (domain.Protocol, error) {
	p, err := scanProtocol(q.QueryRowContext(ctx, s.q(`SELECT `+protocolColumns+` FROM protocols WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Protocol{}, ErrNotFound
	}
	return p, err
}

func (s *SQL) CountOpenForUser(ctx context.Context, userID string) (int, error) {
	in, args := openStatusClause()
	var n int
	err := s.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM protocols WHERE assignee_id=? AND `+in), append([]any{userID}, args...)...).Scan(&n)
	return n, err
}

func (s *SQL) UpdateProtocolStatus(ctx context.Context, id, status string, completedAt *string) error {
	if err := checkStatusUpdate(status, completedAt); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	in, openArgs := openStatusClause()
	args := append([]any{status, nullableStringPtr(completionStamp(status, completedAt)), id}, openArgs...)
	res, err := tx.ExecContext(ctx, s.q(`UPDATE protocols SET status=?, completed_at=? WHERE id=? AND `+in), args...)
	if err != nil {
		return fmt.Errorf("update protocol status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.rejectTransition(ctx, tx, id)
	}
	return tx.Commit()
}

// rejectTransition explains why a conditional update on the open set touched
// no row.
func (s *SQL) rejectTransition(ctx context.Context, tx *sql.Tx, id string) error {
	var current string
	err := tx.QueryRowContext(ctx, s.q(`SELECT status FROM protocols WHERE id=?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &InvalidStateError{ID: id, Current: current}
}

// CloseProtocol is a conditional update on the open set; of two callers racing
// on one id at most one succeeds.
func (s *SQL) CloseProtocol(ctx context.Context, id, completedAt string) (domain.Protocol, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Protocol{}, err
	}
	defer tx.Rollback()

	in, openArgs := openStatusClause()
	args := append([]any{domain.StatusClosed, completedAt, id}, openArgs...)
	res, err := tx.ExecContext(ctx, s.q(`UPDATE protocols SET status=?, completed_at=? WHERE id=? AND `+in), args...)
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("close protocol: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Protocol{}, err
	}
	if affected == 0 {
		return domain.Protocol{}, s.rejectTransition(ctx, tx, id)
	}
	p, err := s.protocol(ctx, tx, id)
	if err != nil {
		return domain.Protocol{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Protocol{}, err
	}
	return p, nil
}

func (s *SQL) Reset(ctx context.Context) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM protocols`); err != nil {
		return 0, fmt.Errorf("clear protocols: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return 0, fmt.Errorf("clear users: %w", err)
	}
	for i, u := range s.seed.Users {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO users(id,name,seq) VALUES (?,?,?)`), u.ID, u.Name, i); err != nil {
			return 0, fmt.Errorf("insert user %s: %w", u.ID, err)
		}
	}
	for i, p := range s.seed.Protocols {
		if err := s.insertProtocol(ctx, tx, i, p); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(s.seed.Protocols), nil
}

func (s *SQL) insertProtocol(ctx context.Context, tx *sql.Tx, seq int, p domain.Protocol) error {
	sections, err := json.Marshal(nonNilSections(p.Sections))
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	items, err := json.Marshal(nonNilItems(p.Items))
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO protocols(id,seq,assignee_id,status,title,site_name,turbine_id,date,template_name,sections_json,items_json,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		p.ID, seq, p.AssigneeID, p.Status, p.Title, nullable(p.SiteName), nullable(p.TurbineID), nullable(p.Date), nullable(p.TemplateName),
		string(sections), string(items), nullableStringPtr(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert protocol %s: %w", p.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProtocol(row rowScanner) (domain.Protocol, error) {
	var (
		p               domain.Protocol
		sections, items string
		completedAt     sql.NullString
	)
	if err := row.Scan(&p.ID, &p.AssigneeID, &p.Status, &p.Title, &p.SiteName, &p.TurbineID, &p.Date, &p.TemplateName,
		&sections, &items, &completedAt); err != nil {
		return domain.Protocol{}, err
	}
	if err := json.Unmarshal([]byte(sections), &p.Sections); err != nil {
		return domain.Protocol{}, fmt.Errorf("decode sections of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(items), &p.Items); err != nil {
		return domain.Protocol{}, fmt.Errorf("decode items of %s: %w", p.ID, err)
	}
	p.Sections = nonNilSections(p.Sections)
	p.Items = nonNilItems(p.Items)
	if completedAt.Valid {
		ts := completedAt.String
		p.CompletedAt = &ts
	}
	return p, nil
}

func openStatusClause() (string, []any) {
	open := domain.OpenStatuses()
	marks := make([]string, len(open))
	args := make([]any, len(open))
	for i, s := range open {
		marks[i] = "?"
		args[i] = s
	}
	return "status IN (" + strings.Join(marks, ",") + ")", args
}

func nonNilSections(v []domain.Section) []domain.Section {
	if v == nil {
		return []domain.Section{}
	}
	return v
}

func nonNilItems(v []domain.Item) []domain.Item {
	if v == nil {
		return []domain.Item{}
	}
	return v
}
