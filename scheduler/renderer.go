package scheduler

import (
	"portfolio_dashboard/gateway"
	"portfolio_dashboard/models"
)

// Renderer holds one hook per data feed. The scheduler never inspects what a
// hook does with the value; DOM/chart/transport concerns live entirely behind
// it. Any nil hook is simply skipped.
type Renderer struct {
	Status    func(models.AccountStatus)
	Holdings  func([]models.Holding)
	Analytics func(models.PortfolioAnalytics)
	History   func([]models.TradeRecord)

	// Countdown receives job name and whole seconds until its next fire.
	Countdown func(job string, secondsLeft int)

	// FeedError surfaces a non-fatal stale/error indicator. Aborted fetches
	// never reach it.
	FeedError func(feed models.FeedID, failure *gateway.Failure)
}

func (r *Renderer) renderStatus(v models.AccountStatus) {
	if r != nil && r.Status != nil {
		r.Status(v)
	}
}

func (r *Renderer) renderHoldings(v []models.Holding) {
	if r != nil && r.Holdings != nil {
		r.Holdings(v)
	}
}

func (r *Renderer) renderAnalytics(v models.PortfolioAnalytics) {
	if r != nil && r.Analytics != nil {
		r.Analytics(v)
	}
}

func (r *Renderer) renderHistory(v []models.TradeRecord) {
	if r != nil && r.History != nil {
		r.History(v)
	}
}

func (r *Renderer) renderCountdown(job string, secondsLeft int) {
	if r != nil && r.Countdown != nil {
		r.Countdown(job, secondsLeft)
	}
}

func (r *Renderer) renderFeedError(feed models.FeedID, failure *gateway.Failure) {
	if r == nil || r.FeedError == nil || failure == nil {
		return
	}
	// Cancellation is a benign, expected outcome, not an error.
	if failure.Benign() {
		return
	}
	r.FeedError(feed, failure)
}
