package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"net/url"

	"golang.org/x/sync/errgroup"

	"portfolio_dashboard/gateway"
	"portfolio_dashboard/models"
)

const renderHoldingsRoutine = "render:holdings"

// cacheKey tags a feed's cache entry with the context it was fetched under,
// so a currency switch can never serve a cross-context value.
func cacheKey(feed models.FeedID, currency string) string {
	return string(feed) + ":" + currency
}

// runGuarded executes body under the named routine lock. On contention the
// body is deferred once via a timer; if the lock is still held when the
// retry fires, the run is dropped and the next scheduled cycle covers it.
func (s *Scheduler) runGuarded(id uint64, lock string, body func()) bool {
	if s.locks.TryEnter(lock) {
		defer s.locks.Exit(lock)
		body()
		return true
	}

	log.Printf("Routine %s already running, deferring", lock)
	s.clock.AfterFunc(lockRetryDelay, func() {
		s.mu.Lock()
		alive := s.aliveLocked(id)
		s.mu.Unlock()
		if !alive {
			return
		}
		if !s.locks.TryEnter(lock) {
			log.Printf("Routine %s still busy, dropping deferred run", lock)
			return
		}
		defer s.locks.Exit(lock)
		body()
	})
	return false
}

// primaryCycle refreshes the account view proper: status and holdings.
func (s *Scheduler) primaryCycle(id uint64, bypass bool) {
	s.runGuarded(id, LockRefresh, func() {
		ctx, gen := s.cancels.Begin(context.Background())
		defer s.cancels.Finish(gen)
		currency := s.cancels.ContextID()

		var g errgroup.Group
		var statusRes, holdingsRes gateway.FetchResult
		g.Go(func() error {
			statusRes = s.fetcher.Fetch(ctx, models.FeedStatus, gateway.FetchOptions{
				BypassCache: bypass,
				CacheKey:    cacheKey(models.FeedStatus, currency),
				Query:       url.Values{"currency": {currency}},
			})
			return nil
		})
		g.Go(func() error {
			holdingsRes = s.fetcher.Fetch(ctx, models.FeedHoldings, gateway.FetchOptions{
				BypassCache: bypass,
				CacheKey:    cacheKey(models.FeedHoldings, currency),
				Query:       url.Values{"currency": {currency}},
			})
			return nil
		})
		g.Wait()

		s.applyResult(gen, models.FeedStatus, statusRes)
		s.applyResult(gen, models.FeedHoldings, holdingsRes)
	})
}

// secondaryCycle refreshes trade history.
func (s *Scheduler) secondaryCycle(id uint64) {
	s.runGuarded(id, LockRefresh, func() {
		ctx, gen := s.cancels.Begin(context.Background())
		defer s.cancels.Finish(gen)
		currency := s.cancels.ContextID()

		res := s.fetcher.Fetch(ctx, models.FeedHistory, gateway.FetchOptions{
			CacheKey: cacheKey(models.FeedHistory, currency),
			Query:    url.Values{"currency": {currency}},
		})
		s.applyResult(gen, models.FeedHistory, res)
	})
}

// analyticsCycle refreshes the low-frequency analytics feed. It runs only on
// every Nth primary fire and needs no guard of its own.
func (s *Scheduler) analyticsCycle(id uint64) {
	ctx, gen := s.cancels.Begin(context.Background())
	defer s.cancels.Finish(gen)
	currency := s.cancels.ContextID()

	res := s.fetcher.Fetch(ctx, models.FeedAnalytics, gateway.FetchOptions{
		CacheKey: cacheKey(models.FeedAnalytics, currency),
		Query:    url.Values{"currency": {currency}},
	})
	s.applyResult(gen, models.FeedAnalytics, res)
}

// applyResult turns a fetch outcome into renderer calls and snapshot state.
// Results from a superseded generation are dropped without a trace; a failed
// cycle leaves the last good value on display and never reschedules anything.
func (s *Scheduler) applyResult(gen uint64, feed models.FeedID, res gateway.FetchResult) {
	if !s.cancels.Valid(gen) {
		// Superseded by a context switch after the fetch resolved. Stale
		// failures are dropped as silently as stale values.
		return
	}

	if res.Failure != nil {
		if res.Failure.Benign() {
			return
		}
		log.Printf("Error fetching %s: %v", feed, res.Failure)
		s.noteFailure(feed, res.Failure)
		s.renderer.renderFeedError(feed, res.Failure)
		return
	}

	// A cache hit that has already been painted needs no repaint.
	if res.FromCache && s.alreadyRendered(feed) {
		return
	}

	s.noteValue(feed, res.Value)
	if s.dispatchRender(feed, res.Value) {
		s.markRendered(feed)
	}
}

// dispatchRender decodes the payload and pushes it through the feed's hook.
// A body the upstream mislabeled as valid JSON for the wrong shape counts as
// a parse failure. It reports whether the feed was painted synchronously;
// holdings paints are deferred and flag themselves when they run.
func (s *Scheduler) dispatchRender(feed models.FeedID, value json.RawMessage) bool {
	fail := func(err error) bool {
		f := &gateway.Failure{Kind: gateway.FailureParse, Feed: string(feed), Err: err}
		log.Printf("Error decoding %s payload: %v", feed, err)
		s.noteFailure(feed, f)
		s.renderer.renderFeedError(feed, f)
		return false
	}

	switch feed {
	case models.FeedStatus:
		var v models.AccountStatus
		if err := json.Unmarshal(value, &v); err != nil {
			return fail(err)
		}
		s.renderer.renderStatus(v)

	case models.FeedHoldings:
		var v []models.Holding
		if err := json.Unmarshal(value, &v); err != nil {
			return fail(err)
		}
		// The holdings table is the expensive paint: coalesce bursts and
		// keep at most one table write in flight. The feed counts as
		// rendered only once the paint actually runs, so a teardown that
		// cancels a deferred paint does not leave a phantom flag behind.
		s.unmarkRendered(models.FeedHoldings)
		s.debounce.Invoke(renderHoldingsRoutine, s.cfg.DebounceMinInterval, func() {
			s.runGuarded(s.currentRunID(), LockRender, func() {
				s.renderer.renderHoldings(v)
				s.markRendered(models.FeedHoldings)
			})
		})
		return false

	case models.FeedAnalytics:
		var v models.PortfolioAnalytics
		if err := json.Unmarshal(value, &v); err != nil {
			return fail(err)
		}
		s.renderer.renderAnalytics(v)

	case models.FeedHistory:
		var v []models.TradeRecord
		if err := json.Unmarshal(value, &v); err != nil {
			return fail(err)
		}
		s.runGuarded(s.currentRunID(), LockRender, func() {
			s.renderer.renderHistory(v)
		})
	}
	return true
}

func (s *Scheduler) currentRunID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}
