// Package http exposes the cash-flow edit surface and statement reads over JSON.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
	"github.com/odyssey-erp/cashflow/internal/cashflow/statement"
	"github.com/odyssey-erp/cashflow/internal/cashflow/tax"
	"github.com/odyssey-erp/cashflow/internal/platform/httpx"
)

// Recalculator is the write side the handler drives.
type Recalculator interface {
	Upsert(ctx context.Context, in recalc.UpsertInput) (recalc.Outcome, error)
	Delete(ctx context.Context, date time.Time, conceptID, accountID int64) (recalc.Outcome, error)
	SaveTaxConfig(ctx context.Context, in tax.SaveInput) (cashflow.TaxConfig, recalc.Outcome, error)
	RecomputeKey(ctx context.Context, key cashflow.Key) (recalc.Outcome, error)
	RecomputeCompany(ctx context.Context, date time.Time, companyID int64) (recalc.BatchSummary, error)
}

// Statements is the read side.
type Statements interface {
	Account(ctx context.Context, date time.Time, accountID int64, area cashflow.Area) (statement.AccountStatement, error)
	Company(ctx context.Context, date time.Time, companyID int64, area cashflow.Area) (statement.CompanyStatement, error)
}

// RateResolver resolves the TRM with earlier-date fallback.
type RateResolver interface {
	ResolveRate(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error)
}

// Subscriber streams recompute events.
type Subscriber interface {
	Subscribe() (<-chan cashflow.RecalcEvent, func())
}

// RetryQueue schedules a background recompute after a failed inline pass.
type RetryQueue interface {
	EnqueueRecalcRetry(ctx context.Context, key cashflow.Key) error
}

// Options configures the handler.
type Options struct {
	// WriteLimit caps mutations per client IP per minute. Zero disables the limit.
	WriteLimit int
	Retry      RetryQueue
	Events     Subscriber
}

// Handler serves the cash-flow API.
type Handler struct {
	logger     *slog.Logger
	catalog    *concepts.Catalog
	recalc     Recalculator
	statements Statements
	taxes      cashflow.TaxConfigStore
	rates      RateResolver
	validate   *validator.Validate
	opts       Options
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, catalog *concepts.Catalog, recalculator Recalculator, statements Statements, taxes cashflow.TaxConfigStore, rates RateResolver, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger.With(slog.String("component", "cashflow.http")),
		catalog:    catalog,
		recalc:     recalculator,
		statements: statements,
		taxes:      taxes,
		rates:      rates,
		validate:   validator.New(),
		opts:       opts,
	}
}

// MountRoutes registers the API under /api/cashflow. bounded wraps every route except
// the event stream, which stays open until the client leaves.
func (h *Handler) MountRoutes(r chi.Router, bounded ...func(http.Handler) http.Handler) {
	r.Route("/api/cashflow", func(r chi.Router) {
		if h.opts.Events != nil {
			r.Get("/events", h.events)
		}

		r.Group(func(r chi.Router) {
			r.Use(bounded...)
			r.Get("/concepts", h.listConcepts)
			r.Get("/statements/accounts/{accountID}", h.accountStatement)
			r.Get("/statements/companies/{companyID}", h.companyStatement)
			r.Get("/rates/{date}", h.rate)
			r.Get("/tax-config/{accountID}", h.getTaxConfig)

			r.Group(func(r chi.Router) {
				if h.opts.WriteLimit > 0 {
					r.Use(httprate.LimitByIP(h.opts.WriteLimit, time.Minute))
				}
				r.Put("/transactions", h.upsertTransaction)
				r.Delete("/transactions", h.deleteTransaction)
				r.Put("/tax-config", h.saveTaxConfig)
				r.Post("/recalc", h.recompute)
			})
		})
	})
}

func (h *Handler) listConcepts(w http.ResponseWriter, r *http.Request) {
	area, err := parseArea(r.URL.Query().Get("area"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list := h.catalog.List(area)
	out := make([]conceptResponse, 0, len(list))
	for _, c := range list {
		out = append(out, conceptResponse{ID: c.ID, Name: c.Name, Code: c.Code, Area: c.Area, Derived: c.IsDerived(), TaxEligible: c.TaxEligible()})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) accountStatement(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, area, err := dateAndArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.statements.Account(r.Context(), date, accountID, area)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) companyStatement(w http.ResponseWriter, r *http.Request) {
	companyID, err := pathID(r, "companyID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, area, err := dateAndArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.statements.Company(r.Context(), date, companyID, area)
	if err != nil {
		if len(st.Accounts) == 0 {
			h.fail(w, r, err)
			return
		}
		h.logger.Warn("partial company statement", slog.Int64("company_id", companyID), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) rate(w http.ResponseWriter, r *http.Request) {
	date, err := cashflow.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	rate, err := h.rates.ResolveRate(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rateResponse{
		Requested: date.Format(cashflow.DateLayout),
		Date:      rate.Date.Format(cashflow.DateLayout),
		Value:     rate.Value,
		Fallback:  !rate.Date.Equal(cashflow.Day(date)),
	})
}

func (h *Handler) getTaxConfig(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date := cashflow.Day(time.Now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		if date, err = cashflow.ParseDay(raw); err != nil {
			h.fail(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return
		}
	}
	cfg, ok, err := h.taxes.Get(r.Context(), accountID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, fmt.Errorf("%w: account %d has no 4x1000 configuration on %s", httpx.ErrNotFound, accountID, date.Format(cashflow.DateLayout)))
		return
	}
	httpx.JSON(w, http.StatusOK, newTaxConfigResponse(cfg))
}

func (h *Handler) upsertTransaction(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := cashflow.ParseAmount(req.Amount.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, _ := cashflow.ParseDay(req.Date)
	out, err := h.recalc.Upsert(r.Context(), recalc.UpsertInput{
		Date:      date,
		ConceptID: req.ConceptID,
		AccountID: req.AccountID,
		Amount:    amount,
		Currency:  cashflow.Currency(req.Currency),
		Area:      cashflow.Area(req.Area),
	})
	if err != nil {
		h.mutationFailed(w, r, err, &out)
		return
	}
	httpx.JSON(w, http.StatusOK, newMutationResponse(out, true))
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, _ := cashflow.ParseDay(req.Date)
	out, err := h.recalc.Delete(r.Context(), date, req.ConceptID, req.AccountID)
	if err != nil {
		h.mutationFailed(w, r, err, nil)
		return
	}
	httpx.JSON(w, http.StatusOK, newMutationResponse(out, false))
}

func (h *Handler) saveTaxConfig(w http.ResponseWriter, r *http.Request) {
	var req taxConfigRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	effective, _ := cashflow.ParseDay(req.EffectiveFrom)
	cfg, out, err := h.recalc.SaveTaxConfig(r.Context(), tax.SaveInput{
		AccountID:          req.AccountID,
		IncludedConceptIDs: req.IncludedConceptIDs,
		EffectiveFrom:      effective,
	})
	if err != nil {
		h.mutationFailed(w, r, err, nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"config": newTaxConfigResponse(cfg),
		"event":  out.Event,
	})
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	var req recalcRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if (req.AccountID == 0) == (req.CompanyID == 0) {
		h.fail(w, r, fmt.Errorf("%w: exactly one of account_id or company_id is required", httpx.ErrValidation))
		return
	}
	date, _ := cashflow.ParseDay(req.Date)
	if req.AccountID != 0 {
		out, err := h.recalc.RecomputeKey(r.Context(), cashflow.NewKey(date, req.AccountID))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, newMutationResponse(out, false))
		return
	}
	summary, err := h.recalc.RecomputeCompany(r.Context(), date, req.CompanyID)
	resp := batchResponse{Accounts: summary.Accounts, Failed: summary.Failed, Events: summary.Events}
	if err != nil {
		if summary.Accounts == 0 {
			h.fail(w, r, err)
			return
		}
		resp.Errors = err.Error()
		httpx.JSON(w, http.StatusMultiStatus, resp)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusNotImplemented, "Streaming Unsupported", "")
		return
	}
	ch, cancel := h.opts.Events.Subscribe()
	defer cancel()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: recalc\ndata: %s\n\n", event.ID, payload)
			flusher.Flush()
		}
	}
}

func (h *Handler) decode(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed body: %v", httpx.ErrValidation, err)
	}
	if err := h.validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

// mutationFailed answers 202 when the raw change is durable and only the recompute
// failed, queuing a background retry when a queue is configured.
func (h *Handler) mutationFailed(w http.ResponseWriter, r *http.Request, err error, out *recalc.Outcome) {
	var re *cashflow.RecalcError
	if !errors.As(err, &re) {
		h.fail(w, r, err)
		return
	}
	if h.opts.Retry != nil {
		if qerr := h.opts.Retry.EnqueueRecalcRetry(r.Context(), re.Key); qerr != nil {
			h.logger.Error("enqueue recalc retry", slog.String("key", re.Key.String()), slog.Any("error", qerr))
		}
	}
	resp := recalcFailure{Saved: true, Key: re.Key.String(), RecalcError: re.Err.Error(), Retryable: true}
	if out != nil && out.Transaction.ID != 0 {
		tx := newTransactionResponse(out.Transaction)
		resp.Transaction = &tx
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := mapError(err)
	if !isClientError(mapped) {
		h.logger.Error("cashflow request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, cashflow.ErrInvalidAmount),
		errors.Is(err, cashflow.ErrUnknownConcept),
		errors.Is(err, cashflow.ErrTaxConfigInvalid),
		errors.Is(err, cashflow.ErrDerivedConcept),
		errors.Is(err, cashflow.ErrComputedLeg),
		errors.Is(err, cashflow.ErrCurrencyMismatch):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, cashflow.ErrAccountNotFound), errors.Is(err, cashflow.ErrNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, cashflow.ErrRateUnavailable):
		return fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err)
	case cashflow.IsRecalcError(err):
		return fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	return err
}

func isClientError(err error) bool {
	status := httpx.StatusOf(err)
	return status >= 400 && status < 500
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name)
	}
	return id, nil
}

func parseArea(raw string) (cashflow.Area, error) {
	if raw == "" {
		return cashflow.AreaTreasury, nil
	}
	area := cashflow.Area(raw)
	if !area.Valid() {
		return "", fmt.Errorf("%w: unknown area %q", httpx.ErrValidation, raw)
	}
	return area, nil
}

func dateAndArea(r *http.Request) (time.Time, cashflow.Area, error) {
	q := r.URL.Query()
	date, err := cashflow.ParseDay(q.Get("date"))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	area, err := parseArea(q.Get("area"))
	return date, area, err
}
