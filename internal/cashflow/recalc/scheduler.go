// Package recalc owns every write of derived concepts. It persists raw changes,
// recomputes the dependent concepts of the touched (date, account) key, cascades
// moved closing balances forward and emits one change event per mutation.
package recalc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/aggregate"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
	"github.com/odyssey-erp/cashflow/internal/cashflow/tax"
)

// DefaultForwardDays bounds the forward cascade.
const DefaultForwardDays = 31

type changeKind int

const (
	changeConcept changeKind = iota
	changeCarry
	changeTaxConfig
	changeFull
)

func (k changeKind) String() string {
	switch k {
	case changeConcept:
		return "concept"
	case changeCarry:
		return "carry"
	case changeTaxConfig:
		return "tax_config"
	default:
		return "full"
	}
}

type change struct {
	kind      changeKind
	conceptID int64
}

type passResult struct {
	conceptIDs     []int64
	closingChanged bool
	anomalies      []sign.Anomaly
}

// Options tunes the scheduler.
type Options struct {
	// ForwardDays caps how many following days a moved closing balance is cascaded to.
	ForwardDays int
	// CoalesceWindow delays trailing passes so bursts on one key share a pass.
	CoalesceWindow time.Duration
	// Locker serializes passes on a key across processes. Nil serializes within this
	// process only.
	Locker         Locker
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Locker grants an exclusive lease on a name shared by every scheduler process.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// LockName is the shared lease name of key.
func LockName(key cashflow.Key) string {
	return fmt.Sprintf("cashflow:recalc:%s:%d:lock", key.Date.Format(cashflow.DateLayout), key.AccountID)
}

// Scheduler serializes recomputation per (date, account) key.
type Scheduler struct {
	repo     cashflow.TransactionRepository
	accounts cashflow.AccountDirectory
	notifier cashflow.ChangeNotifier
	catalog  *concepts.Catalog
	engine   *aggregate.Engine
	tax      *tax.Recalculator
	arena    *arena
	opts     Options
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New wires a scheduler over the ports.
func New(repo cashflow.TransactionRepository, accounts cashflow.AccountDirectory, taxStore cashflow.TaxConfigStore, notifier cashflow.ChangeNotifier, catalog *concepts.Catalog, opts Options) *Scheduler {
	if opts.ForwardDays < 0 {
		opts.ForwardDays = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		repo:     repo,
		accounts: accounts,
		notifier: notifier,
		catalog:  catalog,
		engine:   aggregate.NewEngine(repo, catalog),
		tax:      tax.NewRecalculator(repo, taxStore, catalog),
		opts:     opts,
		log:      logger.With(slog.String("component", "recalc")),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	s.arena = newArena(s.runPass, opts.CoalesceWindow)
	s.arena.onCoalesce = opts.Metrics.addCoalesced
	return s
}

// UpsertInput is one edit of a raw concept.
type UpsertInput struct {
	Date      time.Time
	ConceptID int64
	AccountID int64
	Amount    decimal.Decimal
	// Currency is the leg being edited. Empty means the account's native currency.
	Currency cashflow.Currency
	// Area is only consulted for concepts shared by both desks.
	Area cashflow.Area
}

// Outcome reports a mutation and the recomputation it triggered.
type Outcome struct {
	Transaction cashflow.Transaction
	Event       cashflow.RecalcEvent
	Anomalies   []sign.Anomaly
}

// Upsert validates and persists a raw amount, then recomputes its dependents. A
// *cashflow.RecalcError means the amount was saved but the recompute failed.
func (s *Scheduler) Upsert(ctx context.Context, in UpsertInput) (Outcome, error) {
	if err := cashflow.CheckAmount(in.Amount); err != nil {
		return Outcome{}, err
	}
	concept, err := s.editable(in.ConceptID)
	if err != nil {
		return Outcome{}, err
	}
	account, err := s.accounts.Get(ctx, in.AccountID)
	if err != nil {
		return Outcome{}, err
	}
	if err := checkLeg(account, in.Currency); err != nil {
		return Outcome{}, err
	}
	area := concept.Area
	if area == cashflow.AreaBoth && in.Area.Valid() {
		area = in.Area
	}
	accountID := account.ID
	tx, err := s.repo.Upsert(ctx, cashflow.UpsertParams{
		Date:      cashflow.Day(in.Date),
		ConceptID: concept.ID,
		AccountID: &accountID,
		Amount:    in.Amount,
		Area:      area,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("recalc: save transaction: %w", err)
	}
	out, err := s.mutate(ctx, cashflow.NewKey(in.Date, accountID), change{kind: changeConcept, conceptID: concept.ID})
	out.Transaction = tx
	return out, err
}

// Delete removes a raw amount and recomputes its dependents.
func (s *Scheduler) Delete(ctx context.Context, date time.Time, conceptID, accountID int64) (Outcome, error) {
	concept, err := s.editable(conceptID)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.repo.Delete(ctx, cashflow.Day(date), concept.ID, accountID); err != nil {
		return Outcome{}, err
	}
	return s.mutate(ctx, cashflow.NewKey(date, accountID), change{kind: changeConcept, conceptID: concept.ID})
}

// SaveTaxConfig persists a new 4x1000 configuration and recomputes the tax aggregate
// from its effective date forward, up to ForwardDays, while the new version stays
// effective. Days without entries are skipped.
func (s *Scheduler) SaveTaxConfig(ctx context.Context, in tax.SaveInput) (cashflow.TaxConfig, Outcome, error) {
	if _, err := s.accounts.Get(ctx, in.AccountID); err != nil {
		return cashflow.TaxConfig{}, Outcome{}, err
	}
	cfg, err := s.tax.SaveConfig(ctx, in)
	if err != nil {
		return cashflow.TaxConfig{}, Outcome{}, err
	}
	taxConcept := s.catalog.Derived(concepts.FormulaTaxAggregate)
	key := cashflow.NewKey(cfg.EffectiveFrom, cfg.AccountID)
	c := change{kind: changeTaxConfig, conceptID: taxConcept.ID}

	res, err := s.arena.do(ctx, key, c)
	if err != nil {
		return cfg, Outcome{}, s.failed(key, err)
	}
	out := Outcome{Anomalies: res.anomalies}
	count := len(res.conceptIDs)
	for hop := 0; hop < s.opts.ForwardDays; hop++ {
		key = key.Next()
		active, hasRows, err := s.stillEffective(ctx, key, cfg)
		if err != nil {
			return cfg, out, s.failed(key, err)
		}
		if !active {
			break
		}
		if !hasRows {
			continue
		}
		res, err := s.arena.do(ctx, key, c)
		if err != nil {
			return cfg, out, s.failed(key, err)
		}
		count += len(res.conceptIDs)
		out.Anomalies = append(out.Anomalies, res.anomalies...)
	}
	out.Event = s.publish(ctx, cashflow.NewKey(cfg.EffectiveFrom, cfg.AccountID), taxConcept.ID, []int64{taxConcept.ID}, count)
	return cfg, out, nil
}

// RecomputeKey re-runs every derived concept of one key and cascades forward. It is
// the retry path for a failed recompute.
func (s *Scheduler) RecomputeKey(ctx context.Context, key cashflow.Key) (Outcome, error) {
	return s.mutate(ctx, cashflow.NewKey(key.Date, key.AccountID), change{kind: changeFull})
}

func (s *Scheduler) mutate(ctx context.Context, key cashflow.Key, c change) (Outcome, error) {
	return s.recompute(ctx, key, c, true)
}

func (s *Scheduler) recompute(ctx context.Context, key cashflow.Key, c change, cascade bool) (Outcome, error) {
	res, err := s.arena.do(ctx, key, c)
	if err != nil {
		return Outcome{}, s.failed(key, err)
	}
	out := Outcome{Anomalies: res.anomalies}
	count := len(res.conceptIDs)
	if cascade && res.closingChanged {
		hops, cascaded, anomalies, err := s.cascade(ctx, key)
		s.opts.Metrics.addCascade(hops)
		out.Anomalies = append(out.Anomalies, anomalies...)
		if err != nil {
			return out, err
		}
		count += cascaded
	}
	out.Event = s.publish(ctx, key, c.conceptID, res.conceptIDs, count)
	return out, nil
}

// cascade walks forward one key at a time while the following day already carries an
// opening balance and the previous closing balance moved.
func (s *Scheduler) cascade(ctx context.Context, origin cashflow.Key) (hops, recomputed int, anomalies []sign.Anomaly, err error) {
	opening := s.catalog.Derived(concepts.FormulaCarryForward)
	key := origin
	for hops < s.opts.ForwardDays {
		next := key.Next()
		_, ok, err := s.repo.QueryByConceptAccount(ctx, next.Date, opening.ID, next.AccountID)
		if err != nil {
			return hops, recomputed, anomalies, s.failed(next, err)
		}
		if !ok {
			break
		}
		res, err := s.arena.do(ctx, next, change{kind: changeCarry})
		if err != nil {
			return hops, recomputed, anomalies, s.failed(next, err)
		}
		hops++
		recomputed += len(res.conceptIDs)
		anomalies = append(anomalies, res.anomalies...)
		if !res.closingChanged {
			break
		}
		key = next
	}
	return hops, recomputed, anomalies, nil
}

func (s *Scheduler) runPass(ctx context.Context, key cashflow.Key, changes []change) (result passResult, err error) {
	start := time.Now()
	trigger := changes[0].kind.String()
	defer func() { s.opts.Metrics.observePass(trigger, start, err) }()

	if s.opts.Locker != nil {
		release, err := s.opts.Locker.Acquire(ctx, LockName(key))
		if err != nil {
			return passResult{}, fmt.Errorf("recalc: lock %s: %w", key, err)
		}
		defer release()
	}

	formulas, runTax, err := s.plan(ctx, key, changes)
	if err != nil {
		return passResult{}, err
	}
	if len(formulas) > 0 {
		closing := s.catalog.Derived(concepts.FormulaClosingBalance)
		before, existed, err := s.repo.QueryByConceptAccount(ctx, key.Date, closing.ID, key.AccountID)
		if err != nil {
			return passResult{}, err
		}
		agg, err := s.engine.Recompute(ctx, key)
		if err != nil {
			return passResult{}, err
		}
		result.closingChanged = !existed || !before.Amount.Equal(agg.Values.Closing)
		result.anomalies = append(result.anomalies, agg.Anomalies...)
		for _, f := range concepts.Formulas {
			if formulas[f] {
				result.conceptIDs = append(result.conceptIDs, s.catalog.Derived(f).ID)
			}
		}
	}
	if runTax {
		tr, err := s.tax.Recompute(ctx, key)
		if err != nil {
			return result, err
		}
		if tr.Configured {
			result.conceptIDs = append(result.conceptIDs, s.catalog.Derived(concepts.FormulaTaxAggregate).ID)
		}
		result.anomalies = append(result.anomalies, tr.Anomalies...)
	}
	s.reportAnomalies(key, result.anomalies)
	return result, nil
}

// plan returns the minimal set of derived formulas the changes reach at key.
func (s *Scheduler) plan(ctx context.Context, key cashflow.Key, changes []change) (map[concepts.Formula]bool, bool, error) {
	formulas := make(map[concepts.Formula]bool)
	all := func() {
		for _, f := range concepts.Formulas {
			if f != concepts.FormulaTaxAggregate {
				formulas[f] = true
			}
		}
	}
	runTax := false
	for _, c := range changes {
		switch c.kind {
		case changeConcept:
			concept, ok := s.catalog.Get(c.conceptID)
			if !ok {
				continue
			}
			for _, f := range aggregate.Dependents(concept) {
				formulas[f] = true
			}
			if runTax {
				continue
			}
			hit, err := s.tax.Affects(ctx, key, c.conceptID)
			if err != nil {
				return nil, false, err
			}
			runTax = hit
		case changeCarry:
			all()
		case changeTaxConfig:
			runTax = true
		case changeFull:
			all()
			runTax = true
		}
	}
	return formulas, runTax, nil
}

// stillEffective reports whether saved is still the version in force at key and
// whether the account has any entry that day.
func (s *Scheduler) stillEffective(ctx context.Context, key cashflow.Key, saved cashflow.TaxConfig) (active, hasRows bool, err error) {
	cfg, ok, err := s.tax.Config(ctx, key)
	if err != nil {
		return false, false, err
	}
	if !ok || !cfg.EffectiveFrom.Equal(saved.EffectiveFrom) {
		return false, false, nil
	}
	rows, err := s.repo.QueryAccount(ctx, key.Date, key.AccountID)
	if err != nil {
		return false, false, err
	}
	return true, len(rows) > 0, nil
}

func (s *Scheduler) publish(ctx context.Context, key cashflow.Key, conceptID int64, conceptIDs []int64, count int) cashflow.RecalcEvent {
	event := cashflow.RecalcEvent{
		ID:             s.newID(),
		Date:           key.Date.Format(cashflow.DateLayout),
		AccountID:      key.AccountID,
		ConceptID:      conceptID,
		ConceptIDs:     conceptIDs,
		DependentCount: count,
		At:             s.now().UTC(),
	}
	if s.notifier == nil {
		return event
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn("publish recalc event", slog.String("key", key.String()), slog.Any("error", err))
	}
	return event
}

func (s *Scheduler) reportAnomalies(key cashflow.Key, anomalies []sign.Anomaly) {
	if len(anomalies) == 0 {
		return
	}
	s.opts.Metrics.addAnomalies(anomalies)
	for _, a := range anomalies {
		s.log.Warn("recalc anomaly",
			slog.String("key", key.String()),
			slog.String("kind", string(a.Kind)),
			slog.Int64("concept_id", a.ConceptID),
		)
	}
}

func (s *Scheduler) failed(key cashflow.Key, err error) error {
	s.log.Error("recompute failed", slog.String("key", key.String()), slog.Any("error", err))
	return &cashflow.RecalcError{Key: key, Err: err}
}

func (s *Scheduler) editable(conceptID int64) (concepts.Concept, error) {
	concept, ok := s.catalog.Get(conceptID)
	if !ok {
		return concepts.Concept{}, fmt.Errorf("%w: %d", cashflow.ErrUnknownConcept, conceptID)
	}
	if concept.IsDerived() {
		return concepts.Concept{}, fmt.Errorf("%w: %s", cashflow.ErrDerivedConcept, concept.Name)
	}
	return concept, nil
}

func checkLeg(account cashflow.Account, cur cashflow.Currency) error {
	if cur == "" {
		return nil
	}
	if account.DualCurrency() && cur == cashflow.COP {
		return cashflow.ErrComputedLeg
	}
	if !account.HasCurrency(cur) {
		return fmt.Errorf("%w: %s", cashflow.ErrCurrencyMismatch, cur)
	}
	return nil
}
