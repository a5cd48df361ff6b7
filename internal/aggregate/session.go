package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"homeboard/internal/backend"
)

// ErrSessionExpired means the backend rejected the stored credential. The
// credential has been cleared by the time a caller sees it.
var ErrSessionExpired = errors.New("session expired")

// RefreshError is a failed refresh of a resource the dashboard cannot show
// without. The previous snapshot stays current and the refresh may be retried.
type RefreshError struct {
	Resource string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s: %v", e.Resource, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Retryable() bool { return true }

// Fetcher is the slice of the backend client the dashboard reads from.
type Fetcher interface {
	Weather(ctx context.Context) (*backend.Weather, error)
	Events(ctx context.Context) (backend.EventList, error)
	Meals(ctx context.Context) (backend.MealPlan, error)
	BudgetStats(ctx context.Context) (*backend.BudgetStats, error)
	ImportantEmails(ctx context.Context) (backend.EmailList, error)
	Settings(ctx context.Context) (*backend.Settings, error)
}

type CredentialClearer interface {
	Clear(ctx context.Context) error
}

// Snapshot is one complete, immutable view of the dashboard data.
type Snapshot struct {
	Weather   *backend.Weather    `json:"weather"`
	Events    backend.EventList   `json:"events"`
	Meals     backend.MealPlan    `json:"meals"`
	Budget    backend.BudgetStats `json:"budget_stats"`
	Emails    backend.EmailList   `json:"emails"`
	Settings  backend.Settings    `json:"settings"`
	Degraded  []string            `json:"degraded,omitempty"`
	FetchedAt time.Time           `json:"fetched_at"`
}

type Hooks struct {
	// OnExpired fires once per refresh that ends in ErrSessionExpired.
	OnExpired func()
	// OnSnapshot fires after a new snapshot has been published.
	OnSnapshot func(*Snapshot)
}

type Session struct {
	fetch Fetcher
	creds CredentialClearer
	hooks Hooks
	now   func() time.Time

	refreshMu sync.Mutex
	snapshot  atomic.Pointer[Snapshot]
	loading   atomic.Bool

	errMu   sync.Mutex
	lastErr error
}

func NewSession(fetch Fetcher, creds CredentialClearer, hooks Hooks) *Session {
	return &Session{fetch: fetch, creds: creds, hooks: hooks, now: time.Now}
}

// Snapshot returns the current snapshot, or nil before the first success.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

func (s *Session) Loading() bool {
	return s.loading.Load()
}

// LastError is the error of the most recent refresh, nil after a success.
func (s *Session) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Refresh fetches every resource concurrently and swaps in a new snapshot.
// Only an initial refresh raises the loading flag.
func (s *Session) Refresh(ctx context.Context, initial bool) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if initial {
		s.loading.Store(true)
		defer s.loading.Store(false)
	}

	next, err := s.collect(ctx)
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.snapshot.Store(next)
	if s.hooks.OnSnapshot != nil {
		s.hooks.OnSnapshot(next)
	}
	return next, nil
}

// RefreshSilently runs a non-initial refresh and only logs failures. It is
// used after side effects such as an uploaded document.
func (s *Session) RefreshSilently(ctx context.Context) {
	if _, err := s.Refresh(ctx, false); err != nil {
		log.Printf("aggregate: silent refresh: %v", err)
	}
}

func (s *Session) collect(ctx context.Context) (*Snapshot, error) {
	var (
		next         = &Snapshot{}
		unauthorized atomic.Bool
		degradedMu   sync.Mutex
	)

	// primary results abort the whole refresh; secondary ones only degrade
	// their own field.
	primary := func(name string, fn func(context.Context) error) func(context.Context) error {
		return func(ctx context.Context) error {
			err := fn(ctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, backend.ErrUnauthorized) {
				unauthorized.Store(true)
				return err
			}
			return &RefreshError{Resource: name, Err: err}
		}
	}
	secondary := func(name string, fn func(context.Context) error, fallback func()) func(context.Context) error {
		return func(ctx context.Context) error {
			err := fn(ctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, backend.ErrUnauthorized) {
				unauthorized.Store(true)
				return err
			}
			log.Printf("aggregate: %s unavailable, using default: %v", name, err)
			fallback()
			degradedMu.Lock()
			next.Degraded = append(next.Degraded, name)
			degradedMu.Unlock()
			return nil
		}
	}

	fetches := []func(context.Context) error{
		primary("weather", func(ctx context.Context) error {
			weather, err := s.fetch.Weather(ctx)
			next.Weather = weather
			return err
		}),
		primary("calendar", func(ctx context.Context) error {
			events, err := s.fetch.Events(ctx)
			next.Events = events
			return err
		}),
		secondary("meals", func(ctx context.Context) error {
			meals, err := s.fetch.Meals(ctx)
			next.Meals = meals
			return err
		}, func() { next.Meals = backend.MealPlan{} }),
		secondary("budget", func(ctx context.Context) error {
			stats, err := s.fetch.BudgetStats(ctx)
			if stats != nil {
				next.Budget = *stats
			}
			return err
		}, func() { next.Budget = backend.BudgetStats{Categories: map[string]float64{}} }),
		secondary("gmail", func(ctx context.Context) error {
			emails, err := s.fetch.ImportantEmails(ctx)
			next.Emails = emails
			return err
		}, func() { next.Emails = backend.EmailList{} }),
		secondary("settings", func(ctx context.Context) error {
			settings, err := s.fetch.Settings(ctx)
			if settings != nil {
				next.Settings = *settings
			}
			return err
		}, func() { next.Settings = backend.DefaultSettings() }),
	}

	// Every fetch settles before classification so a late 401 still expires
	// the session.
	var g errgroup.Group
	for _, fetch := range fetches {
		g.Go(func() error { return fetch(ctx) })
	}
	err := g.Wait()

	if unauthorized.Load() {
		s.expire(ctx)
		return nil, ErrSessionExpired
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if next.Events == nil {
		next.Events = backend.EventList{}
	}
	if next.Meals == nil {
		next.Meals = backend.MealPlan{}
	}
	if next.Emails == nil {
		next.Emails = backend.EmailList{}
	}
	next.FetchedAt = s.now()
	return next, nil
}

func (s *Session) expire(ctx context.Context) {
	log.Printf("aggregate: backend rejected credential, clearing session")
	if s.creds != nil {
		if err := s.creds.Clear(context.WithoutCancel(ctx)); err != nil {
			log.Printf("aggregate: clear credential: %v", err)
		}
	}
	if s.hooks.OnExpired != nil {
		s.hooks.OnExpired()
	}
}
