package http

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
)

type upsertRequest struct {
	Date      string      `json:"date" validate:"required,datetime=2006-01-02"`
	ConceptID int64       `json:"concept_id" validate:"required,gt=0"`
	AccountID int64       `json:"account_id" validate:"required,gt=0"`
	Amount    json.Number `json:"amount" validate:"required"`
	Currency  string      `json:"currency" validate:"omitempty,oneof=COP USD"`
	Area      string      `json:"area" validate:"omitempty,oneof=tesoreria pagaduria ambas"`
}

type deleteRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	ConceptID int64  `json:"concept_id" validate:"required,gt=0"`
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
}

type taxConfigRequest struct {
	AccountID          int64   `json:"account_id" validate:"required,gt=0"`
	IncludedConceptIDs []int64 `json:"included_concept_ids" validate:"dive,gt=0"`
	EffectiveFrom      string  `json:"effective_from" validate:"required,datetime=2006-01-02"`
}

type recalcRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	AccountID int64  `json:"account_id" validate:"omitempty,gt=0"`
	CompanyID int64  `json:"company_id" validate:"omitempty,gt=0"`
}

type transactionResponse struct {
	ID        int64           `json:"id"`
	Date      string          `json:"date"`
	ConceptID int64           `json:"concept_id"`
	AccountID *int64          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Area      cashflow.Area   `json:"area"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newTransactionResponse(tx cashflow.Transaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID,
		Date:      tx.Date.Format(cashflow.DateLayout),
		ConceptID: tx.ConceptID,
		AccountID: tx.AccountID,
		Amount:    tx.Amount,
		Area:      tx.Area,
		UpdatedAt: tx.UpdatedAt,
	}
}

type anomalyResponse struct {
	Kind      sign.AnomalyKind `json:"kind"`
	ConceptID int64            `json:"concept_id"`
	AccountID int64            `json:"account_id"`
}

type mutationResponse struct {
	Transaction *transactionResponse  `json:"transaction,omitempty"`
	Event       *cashflow.RecalcEvent `json:"event,omitempty"`
	Anomalies   []anomalyResponse     `json:"anomalies,omitempty"`
}

func newMutationResponse(out recalc.Outcome, withTx bool) mutationResponse {
	resp := mutationResponse{Event: &out.Event}
	if withTx {
		tx := newTransactionResponse(out.Transaction)
		resp.Transaction = &tx
	}
	for _, a := range out.Anomalies {
		resp.Anomalies = append(resp.Anomalies, anomalyResponse{Kind: a.Kind, ConceptID: a.ConceptID, AccountID: a.AccountID})
	}
	return resp
}

// recalcFailure is returned with 202 when the raw change is durable but its
// recompute failed.
type recalcFailure struct {
	Saved       bool                 `json:"saved"`
	Key         string               `json:"key"`
	RecalcError string               `json:"recalc_error"`
	Retryable   bool                 `json:"retryable"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
}

type taxConfigResponse struct {
	AccountID          int64     `json:"account_id"`
	IncludedConceptIDs []int64   `json:"included_concept_ids"`
	EffectiveFrom      string    `json:"effective_from"`
	CreatedAt          time.Time `json:"created_at"`
}

func newTaxConfigResponse(cfg cashflow.TaxConfig) taxConfigResponse {
	ids := cfg.IncludedConceptIDs
	if ids == nil {
		ids = []int64{}
	}
	return taxConfigResponse{
		AccountID:          cfg.AccountID,
		IncludedConceptIDs: ids,
		EffectiveFrom:      cfg.EffectiveFrom.Format(cashflow.DateLayout),
		CreatedAt:          cfg.CreatedAt,
	}
}

type conceptResponse struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Code        cashflow.SignCode `json:"code"`
	Area        cashflow.Area     `json:"area"`
	Derived     bool              `json:"derived"`
	TaxEligible bool              `json:"tax_eligible"`
}

type rateResponse struct {
	Requested string          `json:"requested"`
	Date      string          `json:"date"`
	Value     decimal.Decimal `json:"value"`
	Fallback  bool            `json:"fallback"`
}

type batchResponse struct {
	Accounts int                    `json:"accounts"`
	Failed   int                    `json:"failed"`
	Events   []cashflow.RecalcEvent `json:"events"`
	Errors   string                 `json:"errors,omitempty"`
}
