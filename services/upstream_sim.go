package services

import (
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/shopspring/decimal"

	"portfolio_dashboard/models"
)

// priceDriftInterval is how often the simulator walks its quoted prices.
const priceDriftInterval = 5 * time.Second

// simPosition is one holding in the simulated account.
type simPosition struct {
	symbol    string
	name      string
	sector    string
	quantity  int64
	available int64
	avgPrice  decimal.Decimal
}

// UpstreamSimulator serves the four account feeds with slowly drifting
// prices, for local development without a real brokerage API. Prices move on
// a gocron job; every response is denominated in the requested currency.
type UpstreamSimulator struct {
	secret string
	cron   *gocron.Scheduler

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	positions []simPosition
	cash      decimal.Decimal
	history   []models.TradeRecord
}

// fxRates converts from the simulator's USD book into display currencies.
var fxRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"EUR": decimal.RequireFromString("0.92"),
	"GBP": decimal.RequireFromString("0.79"),
	"VND": decimal.NewFromInt(25400),
}

// NewUpstreamSimulator seeds the simulated account book.
func NewUpstreamSimulator(secret string) *UpstreamSimulator {
	s := &UpstreamSimulator{
		secret: secret,
		cron:   gocron.NewScheduler(time.UTC),
		cash:   decimal.NewFromInt(25000),
		positions: []simPosition{
			{symbol: "AAPL", name: "Apple Inc", sector: "Technology", quantity: 120, available: 120, avgPrice: decimal.RequireFromString("176.40")},
			{symbol: "MSFT", name: "Microsoft Corp", sector: "Technology", quantity: 60, available: 50, avgPrice: decimal.RequireFromString("402.10")},
			{symbol: "JPM", name: "JPMorgan Chase", sector: "Financials", quantity: 80, available: 80, avgPrice: decimal.RequireFromString("198.75")},
			{symbol: "XOM", name: "Exxon Mobil", sector: "Energy", quantity: 150, available: 150, avgPrice: decimal.RequireFromString("112.30")},
		},
		prices: make(map[string]decimal.Decimal),
	}
	for _, p := range s.positions {
		s.prices[p.symbol] = p.avgPrice
	}
	s.seedHistory()
	return s
}

// Start begins the price drift job and serves the API on addr. It blocks.
func (s *UpstreamSimulator) Start(addr string) error {
	s.cron.Every(priceDriftInterval).Do(func() {
		s.driftPrices()
	})
	s.cron.StartAsync()

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1/account", s.authMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/holdings", s.handleHoldings)
		api.GET("/analytics", s.handleAnalytics)
		api.GET("/history", s.handleHistory)
	}

	log.Printf("Upstream simulator listening on %s", addr)
	return router.Run(addr)
}

// Stop halts the price drift job.
func (s *UpstreamSimulator) Stop() {
	s.cron.Stop()
}

// driftPrices applies a small random walk to every quote.
func (s *UpstreamSimulator) driftPrices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, price := range s.prices {
		// +/- 0.5% per step
		step := decimal.NewFromFloat((rand.Float64() - 0.5) / 100)
		s.prices[symbol] = price.Mul(decimal.NewFromInt(1).Add(step)).Round(2)
	}
}

// authMiddleware rejects requests without a valid dashboard session token.
func (s *UpstreamSimulator) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if err := VerifySessionToken(strings.TrimPrefix(auth, "Bearer "), s.secret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// requestRate resolves the display currency of a request.
func requestRate(c *gin.Context) (string, decimal.Decimal) {
	currency := strings.ToUpper(c.DefaultQuery("currency", "USD"))
	rate, ok := fxRates[currency]
	if !ok {
		currency, rate = "USD", fxRates["USD"]
	}
	return currency, rate
}

func (s *UpstreamSimulator) handleStatus(c *gin.Context) {
	currency, rate := requestRate(c)

	s.mu.RLock()
	equity := s.cash
	cost := decimal.Zero
	for _, p := range s.positions {
		qty := decimal.NewFromInt(p.quantity)
		equity = equity.Add(s.prices[p.symbol].Mul(qty))
		cost = cost.Add(p.avgPrice.Mul(qty))
	}
	cash := s.cash
	openPositions := len(s.positions)
	s.mu.RUnlock()

	dayPnL := equity.Sub(cost).Sub(cash)
	dayPnLPercent := decimal.Zero
	if !cost.IsZero() {
		dayPnLPercent = dayPnL.Div(cost).Mul(decimal.NewFromInt(100)).Round(4)
	}

	c.JSON(http.StatusOK, models.AccountStatus{
		AccountID:     "SIM-001",
		Currency:      currency,
		Equity:        equity.Mul(rate).Round(2),
		CashBalance:   cash.Mul(rate).Round(2),
		BuyingPower:   cash.Mul(decimal.NewFromInt(2)).Mul(rate).Round(2),
		MarginUsed:    decimal.Zero,
		DayPnL:        dayPnL.Mul(rate).Round(2),
		DayPnLPercent: dayPnLPercent,
		OpenPositions: openPositions,
		PendingOrders: 0,
		UpdatedAt:     time.Now(),
	})
}

func (s *UpstreamSimulator) handleHoldings(c *gin.Context) {
	_, rate := requestRate(c)

	s.mu.RLock()
	total := decimal.Zero
	for _, p := range s.positions {
		total = total.Add(s.prices[p.symbol].Mul(decimal.NewFromInt(p.quantity)))
	}

	holdings := make([]models.Holding, 0, len(s.positions))
	for _, p := range s.positions {
		qty := decimal.NewFromInt(p.quantity)
		price := s.prices[p.symbol]
		value := price.Mul(qty)
		cost := p.avgPrice.Mul(qty)
		pnl := value.Sub(cost)
		pnlPct := decimal.Zero
		if !cost.IsZero() {
			pnlPct = pnl.Div(cost).Mul(decimal.NewFromInt(100)).Round(4)
		}
		weight := decimal.Zero
		if !total.IsZero() {
			weight = value.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
		}
		holdings = append(holdings, models.Holding{
			Symbol:               p.symbol,
			Name:                 p.name,
			Quantity:             p.quantity,
			AvailableQuantity:    p.available,
			AvgPrice:             p.avgPrice.Mul(rate).Round(2),
			CurrentPrice:         price.Mul(rate).Round(2),
			MarketValue:          value.Mul(rate).Round(2),
			UnrealizedPnL:        pnl.Mul(rate).Round(2),
			UnrealizedPnLPercent: pnlPct,
			Weight:               weight,
		})
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, holdings)
}

func (s *UpstreamSimulator) handleAnalytics(c *gin.Context) {
	currency, rate := requestRate(c)

	s.mu.RLock()
	sectors := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, p := range s.positions {
		value := s.prices[p.symbol].Mul(decimal.NewFromInt(p.quantity))
		sectors[p.sector] = sectors[p.sector].Add(value)
		total = total.Add(value)
	}
	s.mu.RUnlock()

	weights := make(map[string]decimal.Decimal, len(sectors))
	if !total.IsZero() {
		for sector, value := range sectors {
			weights[sector] = value.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
		}
	}

	curve := make([]models.EquityPoint, 0, 30)
	base := total.Mul(rate)
	for i := 29; i >= 0; i-- {
		day := time.Now().AddDate(0, 0, -i)
		wiggle := decimal.NewFromFloat(1 + float64(30-i)*0.002)
		curve = append(curve, models.EquityPoint{Date: day, Value: base.Mul(wiggle).Round(2)})
	}

	c.JSON(http.StatusOK, models.PortfolioAnalytics{
		Currency:       currency,
		TotalReturn:    total.Mul(rate).Mul(decimal.RequireFromString("0.063")).Round(2),
		TotalReturnPct: decimal.RequireFromString("6.3"),
		RealizedPnL:    decimal.RequireFromString("1842.50").Mul(rate).Round(2),
		Sharpe:         decimal.RequireFromString("1.21"),
		MaxDrawdownPct: decimal.RequireFromString("-8.4"),
		WinRate:        decimal.RequireFromString("57.5"),
		SectorWeights:  weights,
		EquityCurve:    curve,
		ComputedAt:     time.Now(),
	})
}

func (s *UpstreamSimulator) handleHistory(c *gin.Context) {
	_, rate := requestRate(c)

	s.mu.RLock()
	out := make([]models.TradeRecord, len(s.history))
	for i, tr := range s.history {
		tr.Price = tr.Price.Mul(rate).Round(2)
		tr.Commission = tr.Commission.Mul(rate).Round(2)
		tr.Tax = tr.Tax.Mul(rate).Round(2)
		tr.Total = tr.Total.Mul(rate).Round(2)
		out[i] = tr
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, out)
}

// seedHistory fills a plausible execution log.
func (s *UpstreamSimulator) seedHistory() {
	mk := func(daysAgo int, symbol, side string, qty int64, price string) models.TradeRecord {
		p := decimal.RequireFromString(price)
		total := p.Mul(decimal.NewFromInt(qty))
		executed := time.Now().AddDate(0, 0, -daysAgo)
		return models.TradeRecord{
			OrderID:    executed.Format("20060102") + "-" + symbol,
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			Price:      p,
			Commission: total.Mul(decimal.RequireFromString("0.001")).Round(2),
			Tax:        total.Mul(decimal.RequireFromString("0.0005")).Round(2),
			Total:      total.Round(2),
			Status:     "executed",
			ExecutedAt: &executed,
		}
	}
	s.history = []models.TradeRecord{
		mk(1, "AAPL", "BUY", 20, "178.12"),
		mk(3, "XOM", "SELL", 50, "114.95"),
		mk(7, "MSFT", "BUY", 10, "399.40"),
		mk(12, "JPM", "BUY", 30, "195.22"),
		mk(20, "AAPL", "BUY", 100, "175.80"),
	}
}
