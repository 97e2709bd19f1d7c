package scheduler

import (
	"time"

	"portfolio_dashboard/config"
)

// The countdown presenter is purely derivative: once per second it reads the
// jobs' recorded NextFireAt values and pushes whole seconds remaining to the
// countdown hook. It never triggers a fetch, and a missing hook makes the
// tick a no-op.

// SecondsLeft computes the displayed countdown for a fire time. It never
// goes negative and reaches 0 no later than the tick in which the job fires.
func SecondsLeft(nextFireAt, now time.Time) int {
	d := nextFireAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// fireCountdown is the repeating 1-second tick.
func (s *Scheduler) fireCountdown(id uint64) {
	s.mu.Lock()
	if !s.aliveLocked(id) {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	type tick struct {
		job  string
		secs int
	}
	ticks := make([]tick, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Active {
			ticks = append(ticks, tick{j.Name, SecondsLeft(j.NextFireAt, now)})
		}
	}
	s.armLocked("countdown", config.CountdownTick, func() { s.fireCountdown(id) })
	s.mu.Unlock()

	for _, t := range ticks {
		s.renderer.renderCountdown(t.job, t.secs)
	}
}

// CountdownSnapshot returns seconds remaining per active job, for the REST
// surface. Stopped schedulers report nothing.
func (s *Scheduler) CountdownSnapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.jobs))
	now := s.clock.Now()
	for _, j := range s.jobs {
		if j.Active {
			out[j.Name] = SecondsLeft(j.NextFireAt, now)
		}
	}
	return out
}
