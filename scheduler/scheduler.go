// Package scheduler owns the dashboard refresh loop: it decides when each
// feed is fetched, keeps overlapping runs of the same routine from
// interleaving, cancels work superseded by a context switch, and keeps the
// user-visible countdown consistent with the real schedule.
package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"portfolio_dashboard/config"
	"portfolio_dashboard/gateway"
	"portfolio_dashboard/models"
)

// Job names. The primary cycle covers the account view proper, the secondary
// cycle trails it by a fixed stagger, and the analytics cycle piggybacks on
// every Nth primary fire.
const (
	JobPrimary   = "primary"
	JobSecondary = "secondary"
	JobAnalytics = "analytics"
)

// lockRetryDelay is the single bounded defer applied when a guarded routine
// finds its lock held.
const lockRetryDelay = 200 * time.Millisecond

// Fetcher is the slice of the fetch gateway the scheduler depends on.
type Fetcher interface {
	Fetch(ctx context.Context, feed models.FeedID, opts gateway.FetchOptions) gateway.FetchResult
	InvalidateAll()
}

// RefreshJob tracks one repeating cycle. NextFireAt is written before the
// associated fetch is issued, never after it completes, so the countdown can
// rely on it.
type RefreshJob struct {
	Name       string
	Period     time.Duration
	NextFireAt time.Time
	Active     bool
}

// FeedSnapshot is the last known state of one feed, served to REST clients.
type FeedSnapshot struct {
	Value     json.RawMessage `json:"value,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	LastError string          `json:"last_error,omitempty"`
}

// Scheduler coordinates cached fetches and renderer notifications for every
// feed. It is constructed explicitly and handed to whatever owns the page
// lifecycle; there is no ambient instance.
type Scheduler struct {
	cfg      config.SchedulerConfig
	fetcher  Fetcher
	clock    Clock
	locks    *LockTable
	debounce *Debouncer
	cancels  *CancellationManager
	renderer *Renderer

	mu         sync.Mutex
	running    bool
	runID      uint64
	timers     map[string]Timer
	jobs       map[string]*RefreshJob
	cycleCount int
	rendered   map[models.FeedID]bool
	snapshots  map[models.FeedID]*FeedSnapshot
}

// New creates a stopped scheduler.
func New(cfg config.SchedulerConfig, fetcher Fetcher, renderer *Renderer, currency string, clock Clock) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		fetcher:   fetcher,
		clock:     clock,
		locks:     NewLockTable(),
		debounce:  NewDebouncer(clock),
		renderer:  renderer,
		timers:    make(map[string]Timer),
		jobs:      make(map[string]*RefreshJob),
		rendered:  make(map[models.FeedID]bool),
		snapshots: make(map[models.FeedID]*FeedSnapshot),
	}
	s.cancels = NewCancellationManager(currency, func() {
		fetcher.InvalidateAll()
		s.clearRendered()
	})
	return s
}

// Start arms all refresh jobs and immediately runs a primary cycle so the
// dashboard is never left blank on first load. Calling Start while running
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runID++
	id := s.runID
	s.cycleCount = 0

	now := s.clock.Now()
	analyticsPeriod := time.Duration(s.cfg.AnalyticsEveryNCycle) * s.cfg.PrimaryPeriod
	// The first primary fire is cycle 1, so the Nth cycle lands N-1 periods in.
	analyticsLead := time.Duration(s.cfg.AnalyticsEveryNCycle-1) * s.cfg.PrimaryPeriod

	s.jobs = map[string]*RefreshJob{
		JobPrimary:   {Name: JobPrimary, Period: s.cfg.PrimaryPeriod, NextFireAt: now, Active: true},
		JobSecondary: {Name: JobSecondary, Period: s.cfg.PrimaryPeriod, NextFireAt: now.Add(s.cfg.SecondaryDelay), Active: true},
		JobAnalytics: {Name: JobAnalytics, Period: analyticsPeriod, NextFireAt: now.Add(analyticsLead), Active: true},
	}

	s.armLocked(JobPrimary, 0, func() { s.firePrimary(id) })
	s.armLocked(JobSecondary, s.cfg.SecondaryDelay, func() { s.fireSecondary(id) })
	s.armLocked("countdown", config.CountdownTick, func() { s.fireCountdown(id) })
	s.mu.Unlock()

	log.Println("Refresh scheduler started")
}

// Stop tears down every timer and destroys the job records. Idempotent and
// safe from any state; pausing (page hidden) is exactly Stop followed later
// by a fresh Start, which re-arms every job from scratch.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.runID++
	timers := s.timers
	s.timers = make(map[string]Timer)
	for _, j := range s.jobs {
		j.Active = false
	}
	s.jobs = make(map[string]*RefreshJob)
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	s.debounce.Cancel(renderHoldingsRoutine)
	log.Println("Refresh scheduler stopped")
}

// Running reports the scheduler state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RefreshNow runs a primary cycle out of band, bypassing the cache. The
// regular schedule is not disturbed.
func (s *Scheduler) RefreshNow() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Println("Manual refresh ignored: scheduler stopped")
		return
	}
	id := s.runID
	s.mu.Unlock()
	s.primaryCycle(id, true)
}

// SwitchCurrency changes the display currency: the in-flight request is
// cancelled, caches are flushed and a fresh primary cycle starts under the
// new context.
func (s *Scheduler) SwitchCurrency(currency string) {
	if !s.cancels.Switch(currency) {
		return
	}
	s.mu.Lock()
	for feed := range s.snapshots {
		delete(s.snapshots, feed)
	}
	running := s.running
	id := s.runID
	s.mu.Unlock()
	if running {
		s.primaryCycle(id, false)
	}
}

// Currency returns the current display currency.
func (s *Scheduler) Currency() string {
	return s.cancels.ContextID()
}

// Snapshot returns the last known state per feed.
func (s *Scheduler) Snapshot() map[models.FeedID]FeedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.FeedID]FeedSnapshot, len(s.snapshots))
	for feed, snap := range s.snapshots {
		out[feed] = *snap
	}
	return out
}

// alive reports whether timers armed under the given run may still act.
func (s *Scheduler) aliveLocked(id uint64) bool {
	return s.running && s.runID == id
}

// armLocked replaces the named timer. Caller holds s.mu.
func (s *Scheduler) armLocked(name string, d time.Duration, f func()) {
	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	s.timers[name] = s.clock.AfterFunc(d, f)
}

// firePrimary is the repeating primary tick. The job re-arms itself before
// the cycle body runs so a slow or failed fetch never delays the schedule.
func (s *Scheduler) firePrimary(id uint64) {
	s.mu.Lock()
	if !s.aliveLocked(id) {
		s.mu.Unlock()
		return
	}
	s.cycleCount++
	now := s.clock.Now()
	job := s.jobs[JobPrimary]
	job.NextFireAt = now.Add(job.Period)

	runAnalytics := s.cfg.AnalyticsEveryNCycle > 0 && s.cycleCount%s.cfg.AnalyticsEveryNCycle == 0
	if runAnalytics {
		aj := s.jobs[JobAnalytics]
		aj.NextFireAt = now.Add(aj.Period)
	}
	s.armLocked(JobPrimary, job.Period, func() { s.firePrimary(id) })
	reset := SecondsLeft(job.NextFireAt, now)
	var analyticsReset int
	if runAnalytics {
		analyticsReset = SecondsLeft(s.jobs[JobAnalytics].NextFireAt, now)
	}
	s.mu.Unlock()

	// The countdown touches 0 at the fire tick, then resets to the period
	// the moment NextFireAt is re-armed.
	s.renderer.renderCountdown(JobPrimary, 0)
	s.renderer.renderCountdown(JobPrimary, reset)
	if runAnalytics {
		s.renderer.renderCountdown(JobAnalytics, 0)
		s.renderer.renderCountdown(JobAnalytics, analyticsReset)
	}

	s.primaryCycle(id, false)
	if runAnalytics {
		s.analyticsCycle(id)
	}
}

// fireSecondary is the repeating secondary tick, staggered behind the
// primary so dependent fetches never land in the same instant.
func (s *Scheduler) fireSecondary(id uint64) {
	s.mu.Lock()
	if !s.aliveLocked(id) {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	job := s.jobs[JobSecondary]
	job.NextFireAt = now.Add(job.Period)
	s.armLocked(JobSecondary, job.Period, func() { s.fireSecondary(id) })
	reset := SecondsLeft(job.NextFireAt, now)
	s.mu.Unlock()

	s.renderer.renderCountdown(JobSecondary, 0)
	s.renderer.renderCountdown(JobSecondary, reset)

	s.secondaryCycle(id)
}

// clearRendered forgets which feeds have been painted, forcing the next
// cycle to repaint even from cache. Called on context switches.
func (s *Scheduler) clearRendered() {
	s.mu.Lock()
	for feed := range s.rendered {
		delete(s.rendered, feed)
	}
	s.mu.Unlock()
}

func (s *Scheduler) markRendered(feed models.FeedID) {
	s.mu.Lock()
	s.rendered[feed] = true
	s.mu.Unlock()
}

// unmarkRendered flags a single feed as awaiting a repaint. Used when a
// newer value has been dispatched but its deferred paint has not run yet.
func (s *Scheduler) unmarkRendered(feed models.FeedID) {
	s.mu.Lock()
	delete(s.rendered, feed)
	s.mu.Unlock()
}

func (s *Scheduler) alreadyRendered(feed models.FeedID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered[feed]
}

func (s *Scheduler) noteValue(feed models.FeedID, value json.RawMessage) {
	s.mu.Lock()
	s.snapshots[feed] = &FeedSnapshot{Value: value, UpdatedAt: s.clock.Now()}
	s.mu.Unlock()
}

func (s *Scheduler) noteFailure(feed models.FeedID, failure *gateway.Failure) {
	s.mu.Lock()
	snap, ok := s.snapshots[feed]
	if !ok {
		snap = &FeedSnapshot{}
		s.snapshots[feed] = snap
	}
	// The last good value stays on display; only the error marker changes.
	snap.LastError = failure.Error()
	s.mu.Unlock()
}
