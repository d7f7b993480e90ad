package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Accounts adapts the store to cashflow.AccountDirectory.
type Accounts struct {
	store *Store
}

// Accounts returns the account directory view of the store.
func (s *Store) Accounts() Accounts {
	return Accounts{store: s}
}

const accountColumns = `id, company_id, bank_id, name, currencies`

func scanAccount(row rowScanner) (cashflow.Account, error) {
	var (
		a          cashflow.Account
		currencies []string
	)
	if err := row.Scan(&a.ID, &a.CompanyID, &a.BankID, &a.Name, &currencies); err != nil {
		return cashflow.Account{}, err
	}
	for _, c := range currencies {
		a.Currencies = append(a.Currencies, cashflow.Currency(c))
	}
	return a, nil
}

// Get returns the account or ErrAccountNotFound.
func (a Accounts) Get(ctx context.Context, id int64) (cashflow.Account, error) {
	row := a.store.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM cashflow_accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cashflow.Account{}, cashflow.ErrAccountNotFound
	}
	return account, err
}

// ListByCompany returns the company's accounts ordered by id.
func (a Accounts) ListByCompany(ctx context.Context, companyID int64) ([]cashflow.Account, error) {
	return a.list(ctx, `SELECT `+accountColumns+` FROM cashflow_accounts WHERE company_id = $1 ORDER BY id`, companyID)
}

// ListAll returns every account ordered by id.
func (a Accounts) ListAll(ctx context.Context) ([]cashflow.Account, error) {
	return a.list(ctx, `SELECT `+accountColumns+` FROM cashflow_accounts ORDER BY id`)
}

func (a Accounts) list(ctx context.Context, query string, args ...any) ([]cashflow.Account, error) {
	rows, err := a.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cashflow.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}
