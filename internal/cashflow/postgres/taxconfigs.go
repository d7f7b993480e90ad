package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// TaxConfigs adapts the store to cashflow.TaxConfigStore.
type TaxConfigs struct {
	store *Store
}

// TaxConfigs returns the tax configuration view of the store.
func (s *Store) TaxConfigs() TaxConfigs {
	return TaxConfigs{store: s}
}

// Get returns the configuration with the latest effective date on or before date.
func (t TaxConfigs) Get(ctx context.Context, accountID int64, date time.Time) (cashflow.TaxConfig, bool, error) {
	cfg := cashflow.TaxConfig{AccountID: accountID}
	err := t.store.db.QueryRow(ctx, `
		SELECT effective_from, included_concept_ids, created_at
		FROM cashflow_tax_configs
		WHERE account_id = $1 AND effective_from <= $2
		ORDER BY effective_from DESC
		LIMIT 1`, accountID, cashflow.Day(date)).Scan(&cfg.EffectiveFrom, &cfg.IncludedConceptIDs, &cfg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cashflow.TaxConfig{}, false, nil
	}
	if err != nil {
		return cashflow.TaxConfig{}, false, err
	}
	cfg.EffectiveFrom = cashflow.Day(cfg.EffectiveFrom)
	return cfg, true, nil
}

// Save stores a configuration version. Saving twice for one effective date replaces
// the inclusion set.
func (t TaxConfigs) Save(ctx context.Context, cfg cashflow.TaxConfig) error {
	ids := cfg.IncludedConceptIDs
	if ids == nil {
		ids = []int64{}
	}
	_, err := t.store.db.Exec(ctx, `
		INSERT INTO cashflow_tax_configs (account_id, effective_from, included_concept_ids, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, effective_from)
		DO UPDATE SET included_concept_ids = EXCLUDED.included_concept_ids, created_at = EXCLUDED.created_at`,
		cfg.AccountID, cashflow.Day(cfg.EffectiveFrom), ids, cfg.CreatedAt)
	return err
}
