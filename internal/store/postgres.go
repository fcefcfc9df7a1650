package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// take-profit levels are stored as JSONB alongside each position row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SavePortfolio writes the portfolio and all its positions in one
// transaction, replacing the previous snapshot.
func (s *PostgresStore) SavePortfolio(ctx context.Context, pf *model.Portfolio) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save portfolio %s: %w", pf.WalletAddress, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO portfolios (wallet_address, total_value, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (wallet_address)
		 DO UPDATE SET total_value = EXCLUDED.total_value, updated_at = EXCLUDED.updated_at`,
		pf.WalletAddress, pf.TotalValue.String(), pf.CreatedAt, pf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save portfolio %s: %w", pf.WalletAddress, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM positions WHERE wallet_address = $1`, pf.WalletAddress); err != nil {
		return fmt.Errorf("save portfolio %s: %w", pf.WalletAddress, err)
	}

	for _, p := range pf.Positions {
		tpJSON, err := json.Marshal(p.TakeProfits)
		if err != nil {
			return fmt.Errorf("save portfolio %s: marshal take profits: %w", pf.WalletAddress, err)
		}
		var closedAt *time.Time
		if !p.ClosedAt.IsZero() {
			closedAt = &p.ClosedAt
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (wallet_address, token_address, amount, entry_price,
			                        current_price, take_profits, stop_loss, stop_fired,
			                        status, realized_pnl, opened_at, updated_at, closed_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::JSONB,
			         $7::NUMERIC, $8, $9, $10::NUMERIC, $11, $12, $13)`,
			pf.WalletAddress, p.TokenAddress,
			p.Amount.String(), p.EntryPrice.String(), p.CurrentPrice.String(),
			tpJSON, p.StopLoss.String(), p.StopFired,
			p.Status, p.RealizedPnL.String(),
			p.OpenedAt, p.UpdatedAt, closedAt,
		)
		if err != nil {
			return fmt.Errorf("save position %s/%s: %w", pf.WalletAddress, p.TokenAddress, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadPortfolio(ctx context.Context, wallet string) (*model.Portfolio, error) {
	pf := model.NewPortfolio(wallet)
	var totalValue string

	err := s.pool.QueryRow(ctx,
		`SELECT total_value::TEXT, created_at, updated_at
		 FROM portfolios WHERE wallet_address = $1`, wallet).
		Scan(&totalValue, &pf.CreatedAt, &pf.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, wallet)
		}
		return nil, fmt.Errorf("load portfolio %s: %w", wallet, err)
	}
	pf.TotalValue, _ = decimal.NewFromString(totalValue)

	rows, err := s.pool.Query(ctx,
		`SELECT token_address, amount::TEXT, entry_price::TEXT, current_price::TEXT,
		        take_profits, stop_loss::TEXT, stop_fired,
		        status, realized_pnl::TEXT, opened_at, updated_at, closed_at
		 FROM positions WHERE wallet_address = $1`, wallet)
	if err != nil {
		return nil, fmt.Errorf("load positions %s: %w", wallet, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Position
		var amount, entry, current, stop, realized string
		var tpJSON []byte
		var closedAt *time.Time

		if err := rows.Scan(&p.TokenAddress, &amount, &entry, &current,
			&tpJSON, &stop, &p.StopFired,
			&p.Status, &realized, &p.OpenedAt, &p.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("load positions %s: %w", wallet, err)
		}

		p.Amount, _ = decimal.NewFromString(amount)
		p.EntryPrice, _ = decimal.NewFromString(entry)
		p.CurrentPrice, _ = decimal.NewFromString(current)
		p.StopLoss, _ = decimal.NewFromString(stop)
		p.RealizedPnL, _ = decimal.NewFromString(realized)
		if closedAt != nil {
			p.ClosedAt = *closedAt
		}
		if err := json.Unmarshal(tpJSON, &p.TakeProfits); err != nil {
			return nil, fmt.Errorf("load positions %s: take profits: %w", wallet, err)
		}

		pf.Positions[p.TokenAddress] = &p
	}

	return pf, rows.Err()
}

func (s *PostgresStore) DeletePortfolio(ctx context.Context, wallet string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete portfolio %s: %w", wallet, err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM positions WHERE wallet_address = $1`,
		`DELETE FROM portfolio_history WHERE wallet_address = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, wallet); err != nil {
			return fmt.Errorf("delete portfolio %s: %w", wallet, err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM portfolios WHERE wallet_address = $1`, wallet)
	if err != nil {
		return fmt.Errorf("delete portfolio %s: %w", wallet, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, wallet)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListWallets(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT wallet_address FROM portfolios ORDER BY wallet_address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (s *PostgresStore) AppendValueSample(ctx context.Context, wallet string, sample model.ValueSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_history (wallet_address, timestamp, total_value)
		 VALUES ($1, $2, $3::NUMERIC)`,
		wallet, sample.Timestamp, sample.TotalValue.String(),
	)
	if err != nil {
		return fmt.Errorf("append sample %s: %w", wallet, err)
	}

	// Truncate to the history cap; keeps the table bounded per wallet.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM portfolio_history
		 WHERE wallet_address = $1 AND timestamp < (
		   SELECT MIN(timestamp) FROM (
		     SELECT timestamp FROM portfolio_history
		     WHERE wallet_address = $1
		     ORDER BY timestamp DESC LIMIT $2
		   ) recent
		 )`,
		wallet, MaxHistorySamples,
	)
	if err != nil {
		return fmt.Errorf("truncate history %s: %w", wallet, err)
	}
	return nil
}

func (s *PostgresStore) GetValueHistory(ctx context.Context, wallet string, start, end time.Time) ([]model.ValueSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, total_value::TEXT
		 FROM portfolio_history
		 WHERE wallet_address = $1 AND timestamp BETWEEN $2 AND $3
		 ORDER BY timestamp`, wallet, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []model.ValueSample
	for rows.Next() {
		var sample model.ValueSample
		var value string
		if err := rows.Scan(&sample.Timestamp, &value); err != nil {
			return nil, err
		}
		sample.TotalValue, _ = decimal.NewFromString(value)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
