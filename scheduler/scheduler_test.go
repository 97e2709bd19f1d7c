package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"portfolio_dashboard/config"
	"portfolio_dashboard/gateway"
	"portfolio_dashboard/models"
)

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		PrimaryPeriod:        10 * time.Second,
		SecondaryDelay:       5 * time.Second,
		AnalyticsEveryNCycle: 3,
		DebounceMinInterval:  500 * time.Millisecond,
	}
}

type stubCall struct {
	feed   models.FeedID
	key    string
	bypass bool
	at     time.Time
}

// stubFetcher records calls and serves canned payloads. Setting blockStatus
// makes status fetches park until the channel is closed, simulating slow
// network I/O while the refresh lock is held.
type stubFetcher struct {
	clock *fakeClock

	mu            sync.Mutex
	calls         []stubCall
	payloads      map[models.FeedID]json.RawMessage
	failures      map[models.FeedID]*gateway.Failure
	blockStatus   chan struct{}
	entered       chan struct{}
	cached        bool
	invalidations int
}

func newStubFetcher(clock *fakeClock) *stubFetcher {
	return &stubFetcher{
		clock:    clock,
		payloads: make(map[models.FeedID]json.RawMessage),
		failures: make(map[models.FeedID]*gateway.Failure),
	}
}

func defaultPayload(feed models.FeedID) json.RawMessage {
	switch feed {
	case models.FeedStatus:
		return json.RawMessage(`{"account_id":"ACC-1","currency":"USD"}`)
	case models.FeedHoldings:
		return json.RawMessage(`[{"symbol":"VNM","quantity":100}]`)
	case models.FeedAnalytics:
		return json.RawMessage(`{"currency":"USD"}`)
	default:
		return json.RawMessage(`[]`)
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, feed models.FeedID, opts gateway.FetchOptions) gateway.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, stubCall{feed: feed, key: opts.CacheKey, bypass: opts.BypassCache, at: f.clock.Now()})
	block := f.blockStatus
	entered := f.entered
	fail := f.failures[feed]
	payload := f.payloads[feed]
	cached := f.cached
	f.mu.Unlock()

	if feed == models.FeedStatus && block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-block
	}
	if fail != nil {
		return gateway.FetchResult{Failure: fail}
	}
	if payload == nil {
		payload = defaultPayload(feed)
	}
	return gateway.FetchResult{Value: payload, FromCache: cached}
}

func (f *stubFetcher) serveFromCache() {
	f.mu.Lock()
	f.cached = true
	f.mu.Unlock()
}

func (f *stubFetcher) InvalidateAll() {
	f.mu.Lock()
	f.invalidations++
	f.mu.Unlock()
}

func (f *stubFetcher) unblock() {
	f.mu.Lock()
	if f.blockStatus != nil {
		close(f.blockStatus)
		f.blockStatus = nil
	}
	f.mu.Unlock()
}

func (f *stubFetcher) callsFor(feed models.FeedID) []stubCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stubCall
	for _, c := range f.calls {
		if c.feed == feed {
			out = append(out, c)
		}
	}
	return out
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingRenderer captures everything pushed through the hooks.
type recordingRenderer struct {
	mu         sync.Mutex
	statuses   []models.AccountStatus
	holdings   int
	analytics  int
	history    int
	feedErrors []models.FeedID
	countdowns map[string][]int
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{countdowns: make(map[string][]int)}
}

func (r *recordingRenderer) hooks() *Renderer {
	return &Renderer{
		Status: func(v models.AccountStatus) {
			r.mu.Lock()
			r.statuses = append(r.statuses, v)
			r.mu.Unlock()
		},
		Holdings: func([]models.Holding) {
			r.mu.Lock()
			r.holdings++
			r.mu.Unlock()
		},
		Analytics: func(models.PortfolioAnalytics) {
			r.mu.Lock()
			r.analytics++
			r.mu.Unlock()
		},
		History: func([]models.TradeRecord) {
			r.mu.Lock()
			r.history++
			r.mu.Unlock()
		},
		Countdown: func(job string, secs int) {
			r.mu.Lock()
			r.countdowns[job] = append(r.countdowns[job], secs)
			r.mu.Unlock()
		},
		FeedError: func(feed models.FeedID, _ *gateway.Failure) {
			r.mu.Lock()
			r.feedErrors = append(r.feedErrors, feed)
			r.mu.Unlock()
		},
	}
}

func (r *recordingRenderer) holdingsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holdings
}

func (r *recordingRenderer) statusCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

// waitFor polls cond briefly; the condition only waits on goroutine
// scheduling, never on simulated time.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestScheduler(cfg config.SchedulerConfig) (*Scheduler, *stubFetcher, *recordingRenderer, *fakeClock) {
	clock := newFakeClock()
	fetcher := newStubFetcher(clock)
	rr := newRecordingRenderer()
	s := New(cfg, fetcher, rr.hooks(), "USD", clock)
	return s, fetcher, rr, clock
}

func TestStartRunsPrimaryImmediately(t *testing.T) {
	s, fetcher, rr, clock := newTestScheduler(testConfig())
	s.Start()
	defer s.Stop()
	clock.Advance(0)

	if got := len(fetcher.callsFor(models.FeedStatus)); got != 1 {
		t.Fatalf("expected 1 status fetch on start, got %d", got)
	}
	if got := len(fetcher.callsFor(models.FeedHoldings)); got != 1 {
		t.Fatalf("expected 1 holdings fetch on start, got %d", got)
	}
	if rr.statusCount() != 1 {
		t.Errorf("expected status rendered once, got %d", rr.statusCount())
	}
	if rr.holdingsCount() != 1 {
		t.Errorf("expected holdings rendered once, got %d", rr.holdingsCount())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	s.Start()
	s.Start()
	defer s.Stop()
	clock.Advance(0)

	if got := len(fetcher.callsFor(models.FeedStatus)); got != 1 {
		t.Errorf("double Start must not double the primary cycle, got %d status fetches", got)
	}
}

// Primary fires at t=0 and t=10s, secondary at t=5s and t=15s.
func TestCycleTiming(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	start := clock.Now()
	s.Start()
	defer s.Stop()
	clock.Advance(16 * time.Second)

	statusCalls := fetcher.callsFor(models.FeedStatus)
	if len(statusCalls) != 2 {
		t.Fatalf("expected 2 primary cycles in 16s, got %d", len(statusCalls))
	}
	if got := statusCalls[0].at.Sub(start); got != 0 {
		t.Errorf("first primary at +%v, want +0s", got)
	}
	if got := statusCalls[1].at.Sub(start); got != 10*time.Second {
		t.Errorf("second primary at +%v, want +10s", got)
	}

	historyCalls := fetcher.callsFor(models.FeedHistory)
	if len(historyCalls) != 2 {
		t.Fatalf("expected 2 secondary cycles in 16s, got %d", len(historyCalls))
	}
	if got := historyCalls[0].at.Sub(start); got != 5*time.Second {
		t.Errorf("first secondary at +%v, want +5s", got)
	}
	if got := historyCalls[1].at.Sub(start); got != 15*time.Second {
		t.Errorf("second secondary at +%v, want +15s", got)
	}
}

func TestAnalyticsEveryNthCycle(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	start := clock.Now()
	s.Start()
	defer s.Stop()

	// Cycles 1..3 land at t=0, 10s, 20s; analytics rides cycle 3.
	clock.Advance(21 * time.Second)

	analyticsCalls := fetcher.callsFor(models.FeedAnalytics)
	if len(analyticsCalls) != 1 {
		t.Fatalf("expected 1 analytics fetch after 3 primary cycles, got %d", len(analyticsCalls))
	}
	if got := analyticsCalls[0].at.Sub(start); got != 20*time.Second {
		t.Errorf("analytics at +%v, want +20s", got)
	}
}

func TestStopClearsEveryTimer(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	s.Start()
	clock.Advance(0)
	s.Stop()
	s.Stop() // idempotent

	before := fetcher.callCount()
	clock.Advance(5 * time.Minute)
	if fetcher.callCount() != before {
		t.Errorf("timers fired after Stop: %d extra fetches", fetcher.callCount()-before)
	}
	if len(s.CountdownSnapshot()) != 0 {
		t.Errorf("stopped scheduler must report no jobs")
	}
}

func TestStopStartRebuildsSchedule(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	s.Start()
	clock.Advance(2 * time.Second)
	s.Stop()
	clock.Advance(time.Hour)

	s.Start()
	defer s.Stop()
	start := clock.Now()
	clock.Advance(6 * time.Second)

	calls := fetcher.callsFor(models.FeedStatus)
	last := calls[len(calls)-1]
	if got := last.at.Sub(start); got != 0 {
		t.Errorf("restart must run an immediate primary cycle, fired at +%v", got)
	}
	history := fetcher.callsFor(models.FeedHistory)
	lastHistory := history[len(history)-1]
	if got := lastHistory.at.Sub(start); got != 5*time.Second {
		t.Errorf("restart must re-stagger the secondary cycle, fired at +%v", got)
	}
}

func TestFailedCycleDoesNotDisturbSchedule(t *testing.T) {
	s, fetcher, rr, clock := newTestScheduler(testConfig())
	fetcher.failures[models.FeedStatus] = &gateway.Failure{Kind: gateway.FailureHTTP, Feed: "status", Status: 502}
	s.Start()
	defer s.Stop()
	clock.Advance(10 * time.Second)

	if got := len(fetcher.callsFor(models.FeedStatus)); got != 2 {
		t.Errorf("failed cycle must not stop the next tick: got %d status fetches", got)
	}
	rr.mu.Lock()
	errs := len(rr.feedErrors)
	rr.mu.Unlock()
	if errs == 0 {
		t.Errorf("http failure must surface through the feed-error hook")
	}
	if rr.statusCount() != 0 {
		t.Errorf("failed fetches must not render values")
	}
}

func TestAbortNeverReachesErrorHook(t *testing.T) {
	s, fetcher, rr, clock := newTestScheduler(testConfig())
	fetcher.failures[models.FeedStatus] = &gateway.Failure{Kind: gateway.FailureAbort, Feed: "status"}
	s.Start()
	defer s.Stop()
	clock.Advance(0)

	rr.mu.Lock()
	errs := len(rr.feedErrors)
	rr.mu.Unlock()
	if errs != 0 {
		t.Errorf("abort is benign and must be filtered from the error hook, got %d errors", errs)
	}
}

// While the account refresh holds its lock, a second invocation must defer
// rather than interleave, and the holdings table is painted once.
func TestSingleFlightRefresh(t *testing.T) {
	s, fetcher, rr, clock := newTestScheduler(testConfig())
	fetcher.blockStatus = make(chan struct{})
	fetcher.entered = make(chan struct{}, 1)
	s.Start() // timers armed but not fired; no Advance yet
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.RefreshNow()
		close(done)
	}()
	<-fetcher.entered // first run holds the refresh lock, parked in I/O

	// The holdings fetch of the same cycle runs on a sibling goroutine;
	// wait until both calls are on the books before sampling.
	waitFor(t, func() bool { return fetcher.callCount() == 2 })

	inFlight := fetcher.callCount()
	s.RefreshNow() // must observe contention and defer
	if fetcher.callCount() != inFlight {
		t.Fatalf("second invocation ran its body while the lock was held")
	}

	fetcher.unblock()
	<-done
	if rr.holdingsCount() != 1 {
		t.Errorf("expected exactly one holdings render for the cycle, got %d", rr.holdingsCount())
	}

	// The deferred run executes once the lock is free.
	clock.Advance(lockRetryDelay)
	if fetcher.callCount() <= inFlight {
		t.Errorf("deferred invocation never ran")
	}
}

// Switching currency mid-flight cancels the old request; its late result is
// neither rendered nor kept, and fresh data is fetched under the new context.
func TestCurrencySwitchSupersedesInFlightWork(t *testing.T) {
	s, fetcher, rr, clock := newTestScheduler(testConfig())
	fetcher.blockStatus = make(chan struct{})
	fetcher.entered = make(chan struct{}, 1)
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.RefreshNow()
		close(done)
	}()
	<-fetcher.entered

	// The refresh lock is held, so the switch's own cycle defers itself.
	s.SwitchCurrency("EUR")

	fetcher.mu.Lock()
	invalidations := fetcher.invalidations
	fetcher.mu.Unlock()
	if invalidations != 1 {
		t.Errorf("context switch must flush the cache, got %d invalidations", invalidations)
	}

	fetcher.unblock()
	<-done

	// The superseded cycle resolved successfully but under the old context:
	// nothing may have been rendered or snapshotted from it.
	if rr.statusCount() != 0 {
		t.Fatalf("late result of a cancelled context was rendered")
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("late result of a cancelled context was kept in the snapshot")
	}

	clock.Advance(lockRetryDelay)
	if rr.statusCount() != 1 {
		t.Fatalf("expected one render from the post-switch cycle, got %d", rr.statusCount())
	}
	calls := fetcher.callsFor(models.FeedStatus)
	last := calls[len(calls)-1]
	if last.key != "status:EUR" {
		t.Errorf("post-switch fetch used cache key %q, want status:EUR", last.key)
	}
}

func TestSwitchToSameCurrencyIsNoop(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	s.Start()
	defer s.Stop()
	clock.Advance(0)

	before := fetcher.callCount()
	s.SwitchCurrency("USD")
	fetcher.mu.Lock()
	invalidations := fetcher.invalidations
	fetcher.mu.Unlock()
	if invalidations != 0 || fetcher.callCount() != before {
		t.Errorf("switching to the current currency must do nothing")
	}
}

func TestManualRefreshBypassesCache(t *testing.T) {
	s, fetcher, _, clock := newTestScheduler(testConfig())
	s.Start()
	defer s.Stop()
	clock.Advance(0)

	s.RefreshNow()
	calls := fetcher.callsFor(models.FeedStatus)
	last := calls[len(calls)-1]
	if !last.bypass {
		t.Errorf("manual refresh must bypass the cache")
	}
}

// A fetch that fails after its context was switched away is as stale as a
// late value: it must reach neither the error hook nor the snapshot.
func TestLateFailureOfSupersededContextIsDropped(t *testing.T) {
	s, fetcher, rr, _ := newTestScheduler(testConfig())
	fetcher.blockStatus = make(chan struct{})
	fetcher.entered = make(chan struct{}, 1)
	fetcher.failures[models.FeedStatus] = &gateway.Failure{Kind: gateway.FailureTimeout, Feed: "status"}
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.RefreshNow()
		close(done)
	}()
	<-fetcher.entered

	s.SwitchCurrency("EUR")
	fetcher.unblock()
	<-done

	rr.mu.Lock()
	errs := len(rr.feedErrors)
	rr.mu.Unlock()
	if errs != 0 {
		t.Fatalf("stale failure of a cancelled context reached the error hook, got %d errors", errs)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("stale failure of a cancelled context was kept in the snapshot")
	}
}

// Stopping while a holdings paint sits in the debouncer cancels the paint;
// the feed must then still count as unpainted, so the next cycle repaints
// even when it is served from cache.
func TestStopDuringDeferredHoldingsPaintForcesRepaint(t *testing.T) {
	s, fetcher, rr, clock := newTestScheduler(testConfig())
	s.Start()
	clock.Advance(0)
	if rr.holdingsCount() != 1 {
		t.Fatalf("expected the initial holdings paint, got %d", rr.holdingsCount())
	}

	// A second cycle inside the debounce interval defers its paint.
	clock.Advance(100 * time.Millisecond)
	s.RefreshNow()
	if rr.holdingsCount() != 1 {
		t.Fatalf("burst paint must defer, got %d paints", rr.holdingsCount())
	}

	// Teardown cancels the deferred paint before it ever runs.
	s.Stop()

	fetcher.serveFromCache()
	s.Start()
	defer s.Stop()
	clock.Advance(0)

	// The newest holdings value was never painted, so the cache hit must
	// not be skipped.
	clock.Advance(debounceInterval)
	if rr.holdingsCount() != 2 {
		t.Fatalf("cache-hit cycle skipped the repaint of an unpainted value, got %d paints", rr.holdingsCount())
	}
}
