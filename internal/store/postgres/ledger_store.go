package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// LedgerStore implements domain.LedgerStore on the transactions table.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const txSelectCols = `id, acct_id, symbol, trade_datetime, exchange, signal,
	trade_type, quantity, price, proceeds, commission, fee, order_type, code`

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

// Append inserts tx. Every failure wraps domain.ErrPersistence.
func (s *LedgerStore) Append(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, acct_id, symbol, trade_datetime, exchange, signal,
			trade_type, quantity, price, proceeds, commission, fee, order_type, code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.AccountID, tx.Symbol, tx.TradeTime, tx.Exchange, tx.Signal,
		string(tx.TradeType), tx.Quantity, tx.Price, tx.Proceeds,
		tx.Commission, tx.Fee, tx.OrderType, string(tx.Code),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("postgres: append transaction %s: %w: duplicate id", tx.ID, domain.ErrPersistence)
		}
		return fmt.Errorf("postgres: append transaction %s: %w: %w", tx.ID, domain.ErrPersistence, err)
	}
	return nil
}

// Query returns transactions matching filter, newest first unless
// filter.Ascending is set.
func (s *LedgerStore) Query(ctx context.Context, filter domain.TxFilter) ([]domain.Transaction, error) {
	var w where
	if filter.Symbol != "" {
		w.add("symbol = $%d", filter.Symbol)
	}
	if filter.Code != "" {
		w.add("code = $%d", string(filter.Code))
	}
	if filter.Since != nil {
		w.add("trade_datetime >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		w.add("trade_datetime < $%d", *filter.Until)
	}

	order := " ORDER BY trade_datetime DESC, seq DESC"
	if filter.Ascending {
		order = " ORDER BY trade_datetime ASC, seq ASC"
	}
	query := `SELECT ` + txSelectCols + ` FROM transactions` + w.String() + order
	query += w.page(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transactions: %w", err)
	}
	defer rows.Close()

	out, err := scanTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions: %w", err)
	}
	return out, nil
}

// Count returns the number of rows for symbol, or all rows when empty.
func (s *LedgerStore) Count(ctx context.Context, symbol string) (int64, error) {
	var w where
	if symbol != "" {
		w.add("symbol = $%d", symbol)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count transactions: %w", err)
	}
	return n, nil
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		var (
			tx        domain.Transaction
			tradeType string
			code      string
		)
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Symbol, &tx.TradeTime, &tx.Exchange, &tx.Signal,
			&tradeType, &tx.Quantity, &tx.Price, &tx.Proceeds,
			&tx.Commission, &tx.Fee, &tx.OrderType, &code,
		); err != nil {
			return nil, err
		}
		tx.TradeType = domain.TradeType(tradeType)
		tx.Code = domain.TxCode(code)
		tx.TradeTime = tx.TradeTime.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}
