package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/meridianlab/gobacktest/internal/analytics"
	"github.com/meridianlab/gobacktest/internal/engine/commission"
	"github.com/meridianlab/gobacktest/internal/engine/slippage"
	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/risk"
	"github.com/meridianlab/gobacktest/internal/strategy"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"go.uber.org/zap"
)

// OnBarCallback reports replay progress after each processed bar.
type OnBarCallback func(current, total int)

// Engine replays one price series through a strategy, the risk manager and
// the execution simulator. A replay is strictly sequential: bar N+1 never
// starts before bar N's portfolio mutation is committed, which is what
// keeps results bit-reproducible across runs.
type Engine struct {
	cfg           Config
	log           *logger.Logger
	resultsFolder string
}

// New builds an engine from a validated configuration.
func New(cfg Config, log *logger.Logger) (*Engine, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Engine{cfg: cfg, log: log}, nil
}

// SetResultsFolder enables result export: after each run the YAML summary
// and the Parquet ledger tables land under this folder.
func (e *Engine) SetResultsFolder(folder string) {
	e.resultsFolder = folder
}

// Run replays the series from the first bar to the last and returns the
// completed result. The context is consulted between bars; cancellation
// aborts the run with the context's error.
func (e *Engine) Run(ctx context.Context, series types.Series, onBar OnBarCallback) (types.BacktestResult, error) {
	if series.Len() == 0 {
		return types.BacktestResult{}, errors.New(errors.ErrCodeEmptySeries, "cannot run on an empty series")
	}

	strat, err := strategy.New(e.cfg.Strategy, series)
	if err != nil {
		return types.BacktestResult{}, err
	}

	riskManager, err := risk.NewManager(e.cfg.Risk, e.log)
	if err != nil {
		return types.BacktestResult{}, err
	}

	schedule, err := commission.NewSchedule(e.cfg.Commission)
	if err != nil {
		return types.BacktestResult{}, err
	}

	slippageModel, err := slippage.NewModel(e.cfg.Slippage)
	if err != nil {
		return types.BacktestResult{}, err
	}

	ledger, err := NewLedger(e.log)
	if err != nil {
		return types.BacktestResult{}, err
	}
	defer ledger.Close()

	run := &runState{
		engine:        e,
		series:        series,
		strategy:      strat,
		riskManager:   riskManager,
		simulator:     NewSimulator(schedule, slippageModel, e.cfg.AllowShort, e.cfg.MaxParticipation, e.log),
		portfolio:     NewPortfolio(e.cfg.InitialCapital),
		ledger:        ledger,
		symbolReturns: indicator.Returns(series.Closes()),
	}

	e.log.Info("starting run",
		zap.String("symbol", series.Symbol),
		zap.String("strategy", strat.Name()),
		zap.Int("bars", series.Len()),
		zap.Int("warm_up", strat.WarmUp()))

	for i := range series.Bars {
		select {
		case <-ctx.Done():
			return types.BacktestResult{}, errors.Wrap(errors.ErrCodeRunFailed, "run cancelled", ctx.Err())
		default:
		}

		if err := run.processBar(i); err != nil {
			return types.BacktestResult{}, err
		}

		if onBar != nil {
			onBar(i+1, series.Len())
		}
	}

	result, err := run.finish()
	if err != nil {
		return types.BacktestResult{}, err
	}

	if e.resultsFolder != "" {
		if err := e.writeResults(result, ledger); err != nil {
			return types.BacktestResult{}, err
		}
	}

	return result, nil
}

// writeResults exports the finished run: a stats.yaml summary plus the
// ledger tables as Parquet.
func (e *Engine) writeResults(result types.BacktestResult, ledger *Ledger) error {
	if err := os.MkdirAll(e.resultsFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeRunFailed, "failed to create results folder", err)
	}

	if err := types.WriteResult(filepath.Join(e.resultsFolder, "stats.yaml"), result); err != nil {
		return errors.Wrap(errors.ErrCodeRunFailed, "failed to write stats", err)
	}

	return ledger.Write(e.resultsFolder)
}

// runState is the mutable state of one replay. It lives on a single
// goroutine for the whole run.
type runState struct {
	engine      *Engine
	series      types.Series
	strategy    *strategy.Strategy
	riskManager *risk.Manager
	simulator   *Simulator
	portfolio   *Portfolio
	ledger      *Ledger

	// symbolReturns are per-bar close-to-close returns of the symbol,
	// feeding volatility-adjusted sizing.
	symbolReturns []float64
	// portfolioReturns are per-bar equity returns, feeding the VaR check.
	portfolioReturns []float64

	// orders holds every submitted order by pointer; the simulator mutates
	// them in place as they fill, so finish sees terminal states.
	orders     []*types.Order
	orderCount int
}

// runKey is a stable identity for the run's inputs; identical configs get
// identical run and order IDs so repeated runs are bit-identical.
func (r *runState) runKey() string {
	return r.series.Symbol + "|" + r.strategy.Name()
}

// nextOrderID issues a deterministic name-based UUID for the next order.
func (r *runState) nextOrderID() string {
	r.orderCount++

	return uuid.NewSHA1(uuid.NameSpaceOID,
		fmt.Appendf(nil, "%s|order|%d", r.runKey(), r.orderCount)).String()
}

// processBar runs one bar: pending orders first, then strategy, risk and
// execution, and finally the mark-to-market that commits the bar.
func (r *runState) processBar(i int) error {
	bar := r.series.Bars[i]

	r.portfolio.SetPrice(r.series.Symbol, bar.Close)

	trades, err := r.simulator.EvaluatePending(r.portfolio, bar)
	if err != nil {
		return err
	}

	if err := r.recordTrades(trades); err != nil {
		return err
	}

	// Bars inside the warm-up window produce implicit HOLDs: no risk or
	// execution call at all.
	if i >= r.strategy.WarmUp() {
		if err := r.processSignal(i, bar); err != nil {
			return err
		}
	}

	point, err := r.portfolio.MarkToMarket(bar.Time, r.series.Symbol, bar.Close)
	if err != nil {
		return err
	}

	if curve := r.portfolio.EquityCurve(); len(curve) >= 2 {
		prev := curve[len(curve)-2].Equity
		if prev != 0 {
			r.portfolioReturns = append(r.portfolioReturns, point.Equity/prev-1)
		}
	}

	return nil
}

func (r *runState) processSignal(i int, bar types.PriceBar) error {
	signal, err := r.strategy.Analyze(r.series, i, r.portfolio.Position(r.series.Symbol))
	if err != nil {
		return err
	}

	if signal.Action == types.SignalActionHold {
		return nil
	}

	snapshot := r.portfolio.Snapshot(r.portfolioReturns, r.volatility(i))

	decision := r.riskManager.Evaluate(signal, snapshot)
	if !decision.Approved {
		return r.rejectSignal(signal, decision.Rejection, bar)
	}

	if decision.Quantity <= 0 {
		return nil
	}

	order := types.Order{
		ID:             r.nextOrderID(),
		Symbol:         signal.Symbol,
		Side:           sideFor(signal.Action),
		Type:           types.OrderTypeMarket,
		Quantity:       decision.Quantity,
		RequestedPrice: bar.Close,
		Status:         types.OrderStatusCreated,
		Reason:         types.Reason{Reason: types.OrderReasonStrategy, Message: signal.Reason},
		StrategyName:   r.strategy.Name(),
		CreatedAt:      bar.Time,
	}

	trades, err := r.simulator.Submit(r.portfolio, &order, bar)
	if err != nil {
		return err
	}

	r.orders = append(r.orders, &order)

	if err := r.ledger.RecordOrder(order); err != nil {
		return err
	}

	if err := r.recordTrades(trades); err != nil {
		return err
	}

	if order.FilledQuantity > 0 && signal.Action == types.SignalActionBuy {
		return r.placeProtectiveOrders(signal, order, bar)
	}

	return nil
}

// rejectSignal books a risk rejection as a short-lived order, CREATED then
// REJECTED on the same bar, so the order ledger shows the signal alongside
// the rejection row. Quantity stays zero: the signal was never sized.
func (r *runState) rejectSignal(signal types.Signal, rejection types.RiskRejection, bar types.PriceBar) error {
	order := types.Order{
		ID:             r.nextOrderID(),
		Symbol:         signal.Symbol,
		Side:           sideFor(signal.Action),
		Type:           types.OrderTypeMarket,
		RequestedPrice: bar.Close,
		Status:         types.OrderStatusCreated,
		Reason:         types.Reason{Reason: types.OrderReasonRisk, Message: rejection.Detail},
		StrategyName:   r.strategy.Name(),
		CreatedAt:      bar.Time,
	}

	if err := order.Transition(types.OrderStatusRejected); err != nil {
		return err
	}

	r.orders = append(r.orders, &order)

	if err := r.ledger.RecordOrder(order); err != nil {
		return err
	}

	return r.ledger.RecordRejection(rejection)
}

// placeProtectiveOrders attaches stop-loss and take-profit exits to a
// filled entry. They join the pending book and trigger on later bars.
func (r *runState) placeProtectiveOrders(signal types.Signal, entry types.Order, bar types.PriceBar) error {
	if signal.StopLoss.IsSome() {
		stop := types.Order{
			ID:             r.nextOrderID(),
			Symbol:         entry.Symbol,
			Side:           types.OrderSideSell,
			Type:           types.OrderTypeStop,
			Quantity:       entry.FilledQuantity,
			RequestedPrice: bar.Close,
			StopPrice:      signal.StopLoss.Unwrap(),
			Status:         types.OrderStatusCreated,
			Reason:         types.Reason{Reason: types.OrderReasonStopLoss, Message: signal.Reason},
			StrategyName:   r.strategy.Name(),
			CreatedAt:      bar.Time,
		}

		if _, err := r.simulator.Submit(r.portfolio, &stop, bar); err != nil {
			return err
		}

		r.orders = append(r.orders, &stop)

		if err := r.ledger.RecordOrder(stop); err != nil {
			return err
		}
	}

	if signal.TakeProfit.IsSome() {
		take := types.Order{
			ID:             r.nextOrderID(),
			Symbol:         entry.Symbol,
			Side:           types.OrderSideSell,
			Type:           types.OrderTypeLimit,
			Quantity:       entry.FilledQuantity,
			RequestedPrice: bar.Close,
			LimitPrice:     signal.TakeProfit.Unwrap(),
			Status:         types.OrderStatusCreated,
			Reason:         types.Reason{Reason: types.OrderReasonTakeProfit, Message: signal.Reason},
			StrategyName:   r.strategy.Name(),
			CreatedAt:      bar.Time,
		}

		if _, err := r.simulator.Submit(r.portfolio, &take, bar); err != nil {
			return err
		}

		r.orders = append(r.orders, &take)

		if err := r.ledger.RecordOrder(take); err != nil {
			return err
		}
	}

	return nil
}

func (r *runState) recordTrades(trades []types.Trade) error {
	for _, trade := range trades {
		if err := r.ledger.RecordTrade(trade); err != nil {
			return err
		}
	}

	return nil
}

// volatility returns the symbol's recent per-bar return volatility at bar
// i, using the risk profile's lookback window.
func (r *runState) volatility(i int) float64 {
	window := r.engine.cfg.Risk.VolatilityWindow
	if window <= 0 {
		return 0
	}

	return indicator.Volatility(r.symbolReturns, window, i)
}

// finish assembles the immutable result: ledger contents, pending orders
// and the equity curve, with every order re-recorded so the export reflects
// terminal states.
func (r *runState) finish() (types.BacktestResult, error) {
	for _, order := range r.orders {
		if err := r.ledger.RecordOrder(*order); err != nil {
			return types.BacktestResult{}, err
		}
	}

	trades, err := r.ledger.Trades()
	if err != nil {
		return types.BacktestResult{}, err
	}

	rejections, err := r.ledger.Rejections()
	if err != nil {
		return types.BacktestResult{}, err
	}

	buyAndHold := 0.0
	if first := r.series.Bars[0].Close; first > 0 {
		last := r.series.Bars[r.series.Len()-1].Close
		buyAndHold = (last/first - 1) * r.portfolio.InitialCash()
	}

	runID := uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s|run", r.runKey())).String()

	result := types.BacktestResult{
		RunID:          runID,
		Symbol:         r.series.Symbol,
		Strategy:       r.strategy.Name(),
		Parameters:     r.engine.cfg.Strategy.Params.Clone(),
		Trades:         trades,
		Rejections:     rejections,
		UnfilledOrders: r.simulator.Pending(),
		EquityCurve:    r.portfolio.EquityCurve(),
		InitialCash:    r.portfolio.InitialCash(),
		FinalCash:      r.portfolio.Cash(),
		FinalEquity:    r.portfolio.Equity(),
		BarsProcessed:  r.series.Len(),
	}

	result.Metrics = analytics.Compute(result.EquityCurve, result.Trades,
		result.InitialCash, buyAndHold, r.engine.cfg.PeriodsPerYear)

	r.engine.log.Info("run finished",
		zap.String("run_id", result.RunID),
		zap.Int("trades", len(result.Trades)),
		zap.Int("rejections", len(result.Rejections)),
		zap.Float64("final_equity", result.FinalEquity))

	return result, nil
}

func sideFor(action types.SignalAction) types.OrderSide {
	if action == types.SignalActionBuy {
		return types.OrderSideBuy
	}

	return types.OrderSideSell
}

