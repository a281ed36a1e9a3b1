package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trader-agent/internal/broker"
	"trader-agent/internal/cache"
	"trader-agent/internal/ledger"
	"trader-agent/internal/llm"
	"trader-agent/internal/logger"
	"trader-agent/internal/notify"
	"trader-agent/internal/semantic"
	"trader-agent/internal/store"
	"trader-agent/internal/trace"
	"trader-agent/internal/types"
)

// State names one stage of a run. Completed and Aborted are terminal.
type State string

const (
	StateRetrieveNews      State = "retrieve-news"
	StateRetrieveChart     State = "retrieve-chart"
	StateRetrievePortfolio State = "retrieve-portfolio"
	StateAnalyze           State = "analyze"
	StateExecute           State = "execute-decision"
	StateCompleted         State = "completed"
	StateAborted           State = "aborted"
)

// RunContext accumulates the state of one run. It is owned exclusively by
// the run that created it and discarded at the terminal state.
type RunContext struct {
	Symbol    string
	State     State
	News      []types.Document
	ChartDocs []types.Document
	Candles   []types.Candle
	Portfolio types.PortfolioSnapshot

	Sentiment  string
	Technicals string
	Decision   types.Decision

	Degraded   []string
	Downgraded bool
	Record     types.DecisionRecord
}

// MarketData is the cached, rate-limited candle/price source.
type MarketData interface {
	Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Params bounds one pipeline's behavior.
type Params struct {
	AnalysisTimeout time.Duration
	NewsCollection  string
	ChartCollection string
	TopK            int
	CandleLimit     int
	DefaultQty      int
	MaxQty          int
	AccountTTL      time.Duration
	PositionsTTL    time.Duration
}

// Pipeline drives the per-run state machine. One Pipeline serves all
// instruments; per-run state lives in the RunContext only.
type Pipeline struct {
	params   Params
	semantic semantic.Store
	market   MarketData
	broker   broker.Broker
	llm      llm.Client
	ledger   *ledger.Ledger
	store    *store.Store
	notifier notify.Notifier
	cache    *cache.Cache
}

func New(params Params, sem semantic.Store, market MarketData, brk broker.Broker,
	engine llm.Client, led *ledger.Ledger, st *store.Store, n notify.Notifier, c *cache.Cache) *Pipeline {
	if params.CandleLimit <= 0 {
		params.CandleLimit = 50
	}
	if params.TopK <= 0 {
		params.TopK = 5
	}
	return &Pipeline{
		params:   params,
		semantic: sem,
		market:   market,
		broker:   brk,
		llm:      engine,
		ledger:   led,
		store:    st,
		notifier: n,
		cache:    c,
	}
}

// Run executes one complete pass for symbol. A non-nil error means the run
// aborted before a decision record was written.
func (p *Pipeline) Run(ctx context.Context, symbol string) (*RunContext, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline-run")
	defer span.End()

	rc := &RunContext{Symbol: symbol}
	start := time.Now()
	logger.Info(ctx, "Pipeline run starting", "symbol", symbol)

	p.retrieveNews(ctx, rc)
	p.retrieveChart(ctx, rc)
	if err := p.retrievePortfolio(ctx, rc); err != nil {
		rc.State = StateAborted
		logger.ErrorWithErr(ctx, "Pipeline run aborted", err, "symbol", symbol, "state", string(StateRetrievePortfolio))
		return rc, err
	}
	p.analyze(ctx, rc)
	if err := p.execute(ctx, rc); err != nil {
		rc.State = StateAborted
		logger.ErrorWithErr(ctx, "Pipeline run aborted", err, "symbol", symbol, "state", string(StateExecute))
		return rc, err
	}

	rc.State = StateCompleted
	logger.Info(ctx, "Pipeline run completed",
		"symbol", symbol,
		"action", string(rc.Record.Action),
		"budget_status", string(rc.Record.BudgetStatus),
		"degraded", rc.Degraded,
		"duration", time.Since(start))
	return rc, nil
}

func (p *Pipeline) retrieveNews(ctx context.Context, rc *RunContext) {
	rc.State = StateRetrieveNews
	ctx, span := trace.StartSpan(ctx, "retrieve-news")
	defer span.End()

	docs, err := p.semantic.Query(ctx, p.params.NewsCollection, rc.Symbol, p.params.TopK)
	if err != nil {
		// Non-fatal: the run continues with an empty document set.
		logger.Warn(ctx, "News retrieval failed, continuing without documents", "symbol", rc.Symbol, "error", err)
		rc.News = nil
		return
	}
	rc.News = docs
}

func (p *Pipeline) retrieveChart(ctx context.Context, rc *RunContext) {
	rc.State = StateRetrieveChart
	ctx, span := trace.StartSpan(ctx, "retrieve-chart")
	defer span.End()

	candles, err := p.market.Candles(ctx, rc.Symbol, p.params.CandleLimit)
	if err != nil {
		logger.Warn(ctx, "Chart retrieval failed, continuing without candles", "symbol", rc.Symbol, "error", err)
		rc.Candles = nil
	} else {
		rc.Candles = candles
	}

	docs, err := p.semantic.Query(ctx, p.params.ChartCollection, rc.Symbol, p.params.TopK)
	if err != nil {
		logger.Warn(ctx, "Chart document retrieval failed, continuing without documents", "symbol", rc.Symbol, "error", err)
		rc.ChartDocs = nil
		return
	}
	rc.ChartDocs = docs
}

func (p *Pipeline) retrievePortfolio(ctx context.Context, rc *RunContext) error {
	rc.State = StateRetrievePortfolio
	ctx, span := trace.StartSpan(ctx, "retrieve-portfolio")
	defer span.End()

	account, err := p.cache.GetOrFetch("account", p.params.AccountTTL, func() (any, error) {
		return p.broker.GetAccount(ctx)
	})
	if err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	positions, err := p.cache.GetOrFetch("positions", p.params.PositionsTTL, func() (any, error) {
		return p.broker.GetPositions(ctx)
	})
	if err != nil {
		return fmt.Errorf("positions snapshot: %w", err)
	}

	price, err := p.market.LatestPrice(ctx, rc.Symbol)
	if err != nil {
		return fmt.Errorf("latest price: %w", err)
	}

	rc.Portfolio = types.PortfolioSnapshot{
		Account:   account.(types.Account),
		Positions: positions.([]types.Position),
		Price:     price,
	}
	return nil
}

// analyze fans out the three analysis tasks with independent deadlines and
// fans back in. A task that errors or times out is replaced by its neutral
// fallback and recorded as a degradation; the stage never blocks past the
// longest single timeout.
func (p *Pipeline) analyze(ctx context.Context, rc *RunContext) {
	rc.State = StateAnalyze
	ctx, span := trace.StartSpan(ctx, "analyze")
	defer span.End()

	type result struct {
		name     string
		out      string
		degraded bool
	}
	results := make(chan result, 3)

	run := func(name, system, user, fallback string) {
		tctx, cancel := context.WithTimeout(ctx, p.params.AnalysisTimeout)
		defer cancel()

		out, err := p.llm.Complete(tctx, system, user)
		if err != nil {
			logger.Warn(ctx, "Analysis task degraded", "symbol", rc.Symbol, "task", name, "error", err)
			results <- result{name: name, out: fallback, degraded: true}
			return
		}
		results <- result{name: name, out: out}
	}

	go run("news_sentiment", sentimentSystemPrompt, p.sentimentPrompt(rc),
		"Sentiment: NEUTRAL. No analysis available.")
	go run("chart_technicals", technicalsSystemPrompt, p.technicalsPrompt(rc),
		"No clear trend. Technical analysis unavailable.")
	go run("trading_decision", decisionSystemPrompt, p.decisionPrompt(rc),
		`{"action":"HOLD","quantity":0,"confidence":0,"reasoning":"analysis unavailable"}`)

	for i := 0; i < 3; i++ {
		r := <-results
		if r.degraded {
			rc.Degraded = append(rc.Degraded, r.name)
		}
		switch r.name {
		case "news_sentiment":
			rc.Sentiment = r.out
		case "chart_technicals":
			rc.Technicals = r.out
		case "trading_decision":
			rc.Decision = llm.ParseDecision(r.out)
		}
	}
}

func (p *Pipeline) execute(ctx context.Context, rc *RunContext) error {
	rc.State = StateExecute
	ctx, span := trace.StartSpan(ctx, "execute-decision")
	defer span.End()

	action := rc.Decision.Action
	qty := rc.Decision.Quantity
	if qty <= 0 {
		qty = p.params.DefaultQty
	}
	if p.params.MaxQty > 0 && qty > p.params.MaxQty {
		qty = p.params.MaxQty
	}

	// A SELL that has no position behind it is coerced before it can burn a
	// budget slot; an oversized SELL is capped at the held quantity.
	if action == types.Sell {
		held := int(rc.Portfolio.Held(rc.Symbol))
		if held <= 0 {
			logger.Warn(ctx, "SELL with no open position coerced to HOLD", "symbol", rc.Symbol)
			action = types.Hold
			qty = 0
		} else if qty > held {
			qty = held
		}
	}

	res, err := p.ledger.CheckAndReserve(ctx, rc.Symbol, action)
	if err != nil {
		// Unpersisted means ungranted; trade nothing.
		logger.ErrorWithErr(ctx, "Budget reservation failed, coercing to HOLD", err, "symbol", rc.Symbol)
		action = types.Hold
		rc.Downgraded = true
		res = ledger.Reservation{Granted: false, Max: p.ledger.Max()}
	}

	status := types.BudgetUnused
	switch {
	case rc.Downgraded:
		status = types.BudgetDowngraded
	case action == types.Hold:
		// UNUSED covers both genuine HOLDs and coerced ones.
	case res.Granted:
		status = types.BudgetGranted
	default:
		logger.Budget(ctx, rc.Symbol, "BUDGET_DOWNGRADE", "requested", string(action), "used", res.Used, "max", res.Max)
		action = types.Hold
		rc.Downgraded = true
		status = types.BudgetDowngraded
	}

	var (
		orderID     string
		orderFailed bool
		orderResult string
	)
	if action == types.Buy || action == types.Sell {
		resp, err := p.broker.PlaceMarketOrder(ctx, types.OrderReq{Symbol: rc.Symbol, Side: action, Qty: qty})
		if err != nil {
			// The reservation stays consumed: a possibly-placed order must
			// never be retried against a freed slot.
			logger.ErrorWithErr(ctx, "Order placement failed, budget slot stays consumed", err,
				"symbol", rc.Symbol, "side", string(action), "qty", qty)
			orderFailed = true
			orderResult = "failed: " + err.Error()
		} else {
			orderID = resp.OrderID
			orderResult = fmt.Sprintf("%s (%s)", resp.OrderID, resp.Status)
			logger.Trade(ctx, rc.Symbol, string(action), qty, rc.Portfolio.Price, resp.OrderID)
		}
	} else {
		qty = 0
	}

	logger.Decision(ctx, rc.Symbol, string(action), rc.Decision.Confidence, rc.Decision.Reasoning,
		"budget_status", string(status))

	rc.Record = types.DecisionRecord{
		Timestamp:    time.Now().UTC(),
		Symbol:       rc.Symbol,
		Action:       action,
		Reasoning:    rc.Decision.Reasoning,
		Price:        rc.Portfolio.Price,
		Quantity:     qty,
		BudgetStatus: status,
		Degraded:     rc.Degraded,
		OrderID:      orderID,
		OrderFailed:  orderFailed,
	}

	if err := p.notifier.Send(ctx, types.NotificationSummary{
		Symbol:       rc.Symbol,
		Action:       action,
		Reasoning:    rc.Decision.Reasoning,
		Price:        rc.Portfolio.Price,
		Quantity:     qty,
		ActionsToday: res.Used,
		MaxActions:   res.Max,
		Downgraded:   rc.Downgraded,
		Degraded:     rc.Degraded,
		OrderResult:  orderResult,
	}); err != nil {
		logger.Warn(ctx, "Notification delivery failed", "symbol", rc.Symbol, "error", err)
	}

	if err := p.store.AppendDecision(ctx, rc.Record); err != nil {
		return fmt.Errorf("persist decision record: %w", err)
	}
	return nil
}

const (
	sentimentSystemPrompt = "You are a financial news analyst. Summarize the overall sentiment " +
		"of the provided headlines for the given ticker as BULLISH, BEARISH or NEUTRAL, " +
		"with one sentence of justification."

	technicalsSystemPrompt = "You are a technical analyst. Given recent OHLCV candles, describe " +
		"the trend, momentum and notable levels in at most three sentences."

	decisionSystemPrompt = "You are a disciplined trading assistant. Based on the provided news, " +
		"candles and portfolio state, respond with ONLY a JSON object: " +
		`{"action":"BUY|SELL|HOLD","quantity":<int>,"confidence":<0..1>,"reasoning":"<short>"}`
)

func (p *Pipeline) sentimentPrompt(rc *RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\n\nHeadlines:\n", rc.Symbol)
	if len(rc.News) == 0 {
		b.WriteString("(none available)\n")
	}
	for _, d := range rc.News {
		fmt.Fprintf(&b, "- %s\n", d.Text)
	}
	return b.String()
}

func (p *Pipeline) technicalsPrompt(rc *RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nCurrent price: %.2f\n\nRecent candles (ts open high low close vol):\n",
		rc.Symbol, rc.Portfolio.Price)
	if len(rc.Candles) == 0 {
		b.WriteString("(none available)\n")
	}
	for _, c := range rc.Candles {
		fmt.Fprintf(&b, "%d %.2f %.2f %.2f %.2f %.0f\n", c.Ts, c.Open, c.High, c.Low, c.Close, c.Vol)
	}
	if len(rc.ChartDocs) > 0 {
		b.WriteString("\nChart notes:\n")
		for _, d := range rc.ChartDocs {
			fmt.Fprintf(&b, "- %s\n", d.Text)
		}
	}
	return b.String()
}

func (p *Pipeline) decisionPrompt(rc *RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nCurrent price: %.2f\nCash: %.2f\nEquity: %.2f\nHeld: %.0f\n\n",
		rc.Symbol, rc.Portfolio.Price, rc.Portfolio.Account.Cash, rc.Portfolio.Account.Equity,
		rc.Portfolio.Held(rc.Symbol))
	b.WriteString("Headlines:\n")
	if len(rc.News) == 0 {
		b.WriteString("(none available)\n")
	}
	for _, d := range rc.News {
		fmt.Fprintf(&b, "- %s\n", d.Text)
	}
	b.WriteString("\nRecent closes:")
	for _, c := range rc.Candles {
		fmt.Fprintf(&b, " %.2f", c.Close)
	}
	if len(rc.Candles) == 0 {
		b.WriteString(" (none available)")
	}
	b.WriteString("\n")
	return b.String()
}
