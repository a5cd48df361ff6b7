package briefing

import (
	"context"
	"log"
	"sync"
	"time"
)

// Trigger records what started a briefing run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Starter launches a playback. Start must claim the player synchronously and
// return without waiting for the narration to finish.
type Starter interface {
	Active() bool
	Start(ctx context.Context, cfg Config, trigger Trigger) error
}

// DropRecorder is told about matches that were skipped because a playback
// was already running.
type DropRecorder interface {
	RecordDrop(ctx context.Context, cfg Config, at time.Time)
}

const DefaultTickInterval = time.Minute

type Scheduler struct {
	starter  Starter
	drops    DropRecorder
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	configs   []Config
	lastFired map[string]time.Time

	wake chan struct{}
}

func NewScheduler(starter Starter, drops DropRecorder, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		starter:   starter,
		drops:     drops,
		interval:  interval,
		now:       time.Now,
		lastFired: map[string]time.Time{},
		wake:      make(chan struct{}, 1),
	}
}

// SetConfigs replaces the rule set and asks the running loop for an
// immediate check.
func (s *Scheduler) SetConfigs(configs []Config) {
	s.mu.Lock()
	s.configs = cloneConfigs(configs)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Configs() []Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfigs(s.configs)
}

// Run checks once immediately, then on every tick and configuration change,
// until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		case <-s.wake:
			s.Check(ctx)
		}
	}
}

// Check matches the current minute against the enabled rules and returns
// how many playbacks it started.
func (s *Scheduler) Check(ctx context.Context) int {
	return s.checkAt(ctx, s.now())
}

func (s *Scheduler) checkAt(ctx context.Context, now time.Time) int {
	minute := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	due := s.claimDue(minute)

	fired := 0
	for _, cfg := range due {
		if s.starter.Active() {
			s.drop(ctx, cfg, minute, "playback already active")
			continue
		}
		if err := s.starter.Start(ctx, cfg, TriggerScheduled); err != nil {
			s.drop(ctx, cfg, minute, err.Error())
			continue
		}
		log.Printf("scheduler: started briefing %s (%q) at %s", cfg.ID, cfg.Title, cfg.Time)
		fired++
	}
	return fired
}

// claimDue returns the enabled rules for minute that have not yet been
// handled in that minute, and marks them handled.
func (s *Scheduler) claimDue(minute time.Time) []Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Config
	for _, cfg := range s.configs {
		if !cfg.Enabled {
			continue
		}
		hour, minuteOfHour, err := ParseClock(cfg.Time)
		if err != nil || hour != minute.Hour() || minuteOfHour != minute.Minute() {
			continue
		}
		if last, ok := s.lastFired[cfg.ID]; ok && last.Equal(minute) {
			continue
		}
		s.lastFired[cfg.ID] = minute
		due = append(due, cfg)
	}
	return due
}

func (s *Scheduler) drop(ctx context.Context, cfg Config, minute time.Time, reason string) {
	log.Printf("scheduler: dropped briefing %s at %s: %s", cfg.ID, minute.Format("15:04"), reason)
	if s.drops != nil {
		s.drops.RecordDrop(ctx, cfg, minute)
	}
}

// PlayNow starts cfg immediately, ignoring its schedule and enabled flag.
// It fails while another playback is running.
func (s *Scheduler) PlayNow(ctx context.Context, cfg Config) error {
	return s.starter.Start(ctx, cfg, TriggerManual)
}
