package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

const txColumns = `id, tx_date, concept_id, account_id, amount::text, area, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (cashflow.Transaction, error) {
	var (
		tx      cashflow.Transaction
		account *int64
		amount  string
		area    string
	)
	if err := row.Scan(&tx.ID, &tx.Date, &tx.ConceptID, &account, &amount, &area, &tx.UpdatedAt); err != nil {
		return cashflow.Transaction{}, err
	}
	value, err := parseNumeric(amount)
	if err != nil {
		return cashflow.Transaction{}, err
	}
	tx.Date = cashflow.Day(tx.Date)
	tx.AccountID = account
	tx.Amount = value
	tx.Area = cashflow.Area(area)
	return tx, nil
}

// Upsert inserts or replaces the row keyed by (date, concept, account).
func (s *Store) Upsert(ctx context.Context, params cashflow.UpsertParams) (cashflow.Transaction, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO cashflow_transactions (tx_date, concept_id, account_id, amount, area, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, now())
		ON CONFLICT (tx_date, concept_id, (COALESCE(account_id, 0)))
		DO UPDATE SET amount = EXCLUDED.amount, area = EXCLUDED.area, updated_at = now()
		RETURNING `+txColumns,
		cashflow.Day(params.Date), params.ConceptID, params.AccountID, params.Amount.String(), string(params.Area))
	return scanTransaction(row)
}

// Query returns the rows of area on date. Shared rows are visible from both desks.
func (s *Store) Query(ctx context.Context, date time.Time, area cashflow.Area) ([]cashflow.Transaction, error) {
	return s.list(ctx, `
		SELECT `+txColumns+`
		FROM cashflow_transactions
		WHERE tx_date = $1 AND ($2 = 'ambas' OR area = 'ambas' OR area = $2)
		ORDER BY account_id NULLS FIRST, concept_id`,
		cashflow.Day(date), string(area))
}

// QueryAccount returns every row of an account on date.
func (s *Store) QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]cashflow.Transaction, error) {
	return s.list(ctx, `
		SELECT `+txColumns+`
		FROM cashflow_transactions
		WHERE tx_date = $1 AND COALESCE(account_id, 0) = $2
		ORDER BY concept_id`,
		cashflow.Day(date), accountID)
}

// QueryByConceptAccount returns the row for the key, if any.
func (s *Store) QueryByConceptAccount(ctx context.Context, date time.Time, conceptID, accountID int64) (cashflow.Transaction, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM cashflow_transactions
		WHERE tx_date = $1 AND concept_id = $2 AND COALESCE(account_id, 0) = $3`,
		cashflow.Day(date), conceptID, accountID)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cashflow.Transaction{}, false, nil
	}
	if err != nil {
		return cashflow.Transaction{}, false, err
	}
	return tx, true, nil
}

// Delete removes the row for the key.
func (s *Store) Delete(ctx context.Context, date time.Time, conceptID, accountID int64) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM cashflow_transactions
		WHERE tx_date = $1 AND concept_id = $2 AND COALESCE(account_id, 0) = $3`,
		cashflow.Day(date), conceptID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cashflow.ErrNotFound
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]cashflow.Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cashflow.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
