package types

import "time"

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Document is a retrieved news or chart document from the semantic store.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

type Position struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_entry_price"`
}

// PortfolioSnapshot is the live account/position state for one instrument,
// captured once per pipeline run.
type PortfolioSnapshot struct {
	Account   Account
	Positions []Position
	Price     float64
}

// Held returns the open quantity for symbol, zero if no position exists.
func (p PortfolioSnapshot) Held(symbol string) float64 {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			return pos.Qty
		}
	}
	return 0
}

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

func (a Action) Valid() bool {
	return a == Buy || a == Sell || a == Hold
}

type Decision struct {
	Action     Action  `json:"action"`
	Quantity   int     `json:"quantity"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type BudgetStatus string

const (
	BudgetGranted    BudgetStatus = "GRANTED"
	BudgetDowngraded BudgetStatus = "DOWNGRADED"
	BudgetUnused     BudgetStatus = "UNUSED" // HOLD, no slot consumed
)

// DecisionRecord is one immutable row of decision history, written once at
// the end of every completed run.
type DecisionRecord struct {
	Timestamp    time.Time    `json:"timestamp"`
	Symbol       string       `json:"symbol"`
	Action       Action       `json:"action"`
	Reasoning    string       `json:"reasoning"`
	Price        float64      `json:"price"`
	Quantity     int          `json:"quantity"`
	BudgetStatus BudgetStatus `json:"budget_status"`
	Degraded     []string     `json:"degraded,omitempty"`
	OrderID      string       `json:"order_id,omitempty"`
	OrderFailed  bool         `json:"order_failed,omitempty"`
}

type OrderReq struct {
	Symbol string
	Side   Action
	Qty    int
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// NotificationSummary is what gets posted to the notifier after every
// completed run, whatever the action was.
type NotificationSummary struct {
	Symbol       string
	Action       Action
	Reasoning    string
	Price        float64
	Quantity     int
	ActionsToday int
	MaxActions   int
	Downgraded   bool
	Degraded     []string
	OrderResult  string
}
