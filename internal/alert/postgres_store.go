package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists alerts in PostgreSQL. Schema lives in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, event_time, account_id, amount, velocity_avg_1h, tx_count_1h,
			 risk_level, merchant, location, verdict, explanation, rules, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		a.ID,
		a.Time,
		a.AccountID,
		a.Amount,
		a.VelocityAvg,
		a.TxCount,
		nullable(a.RiskLevel),
		a.Merchant,
		a.Location,
		string(a.Verdict),
		a.Explanation,
		pq.Array(a.Rules),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_time, account_id, amount, velocity_avg_1h, tx_count_1h,
		       risk_level, merchant, location, verdict, explanation, rules, created_at
		FROM alerts WHERE id = $1
	`, id)

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Alert, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, event_time, account_id, amount, velocity_avg_1h, tx_count_1h,
		       risk_level, merchant, location, verdict, explanation, rules, created_at
		FROM alerts
	`
	args := []any{}
	if opts.AccountID != "" {
		query += ` WHERE account_id = $1`
		args = append(args, opts.AccountID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*Alert, error) {
	var a Alert
	var risk sql.NullString
	var verdict string
	if err := row.Scan(
		&a.ID, &a.Time, &a.AccountID, &a.Amount, &a.VelocityAvg, &a.TxCount,
		&risk, &a.Merchant, &a.Location, &verdict, &a.Explanation,
		pq.Array(&a.Rules), &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.RiskLevel = risk.String
	a.Verdict = Verdict(verdict)
	return &a, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
