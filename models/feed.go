package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedID identifies one of the dashboard's data feeds.
type FeedID string

const (
	FeedStatus    FeedID = "status"
	FeedHoldings  FeedID = "holdings"
	FeedAnalytics FeedID = "analytics"
	FeedHistory   FeedID = "history"
)

// AllFeeds lists every feed the dashboard polls.
var AllFeeds = []FeedID{FeedStatus, FeedHoldings, FeedAnalytics, FeedHistory}

// AccountStatus represents the account status feed payload
type AccountStatus struct {
	AccountID     string          `json:"account_id"`
	Currency      string          `json:"currency"`
	Equity        decimal.Decimal `json:"equity"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	DayPnL        decimal.Decimal `json:"day_pnl"`
	DayPnLPercent decimal.Decimal `json:"day_pnl_percent"`
	OpenPositions int             `json:"open_positions"`
	PendingOrders int             `json:"pending_orders"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Holding represents a single position in the holdings feed
type Holding struct {
	Symbol               string          `json:"symbol"`
	Name                 string          `json:"name"`
	Quantity             int64           `json:"quantity"`
	AvailableQuantity    int64           `json:"available_quantity"`
	AvgPrice             decimal.Decimal `json:"avg_price"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	MarketValue          decimal.Decimal `json:"market_value"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
	Weight               decimal.Decimal `json:"weight"`
}

// PortfolioAnalytics represents the lower-frequency analytics feed payload
type PortfolioAnalytics struct {
	Currency       string                     `json:"currency"`
	TotalReturn    decimal.Decimal            `json:"total_return"`
	TotalReturnPct decimal.Decimal            `json:"total_return_pct"`
	RealizedPnL    decimal.Decimal            `json:"realized_pnl"`
	Sharpe         decimal.Decimal            `json:"sharpe"`
	MaxDrawdownPct decimal.Decimal            `json:"max_drawdown_pct"`
	WinRate        decimal.Decimal            `json:"win_rate"`
	SectorWeights  map[string]decimal.Decimal `json:"sector_weights"`
	EquityCurve    []EquityPoint              `json:"equity_curve"`
	ComputedAt     time.Time                  `json:"computed_at"`
}

// EquityPoint is one point on the analytics equity curve
type EquityPoint struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// TradeRecord represents one row of the trade history feed
type TradeRecord struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"` // BUY, SELL
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	Status     string          `json:"status"` // executed, cancelled, pending
	ExecutedAt *time.Time      `json:"executed_at"`
}
