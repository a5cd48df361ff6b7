package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"homeboard/internal/backend"
	"homeboard/internal/briefing"
	"homeboard/internal/store"
)

var ErrAlreadyPlaying = errors.New("a briefing is already playing")

const (
	DefaultAmbientVolume = 0.3
	DefaultFade          = 3 * time.Second
	DefaultWakeupAction  = "ON"
	fadeSteps            = 15
)

// Ambient is a looping background track.
type Ambient interface {
	// Start begins looping at volume and returns once the track is running.
	Start(ctx context.Context, volume float64) error
	SetVolume(volume float64) error
	Stop() error
}

// Player plays an audio reference and returns when it finishes.
type Player interface {
	Play(ctx context.Context, url string) error
}

// Speaker reads text aloud on the device and returns when done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type NarrationSource interface {
	Briefing(ctx context.Context, briefingID string) (*backend.Narration, error)
	ResolveURL(ref string) string
}

type DeviceCommander interface {
	LinkedTo(briefingID string) []backend.Device
	SendCommand(ctx context.Context, deviceID, action string) (backend.CommandResult, error)
}

type Recorder interface {
	Record(ctx context.Context, run store.BriefingRun) error
}

type Deps struct {
	Narration NarrationSource
	Ambient   Ambient
	Player    Player
	Speaker   Speaker
	Devices   DeviceCommander
	// Recorder may be nil when history is disabled.
	Recorder Recorder
}

type Options struct {
	AmbientVolume float64
	// Fade of zero means DefaultFade; a negative fade stops the ambient
	// track at once.
	Fade time.Duration
	// Notify receives a short user-facing notice when a playback fails.
	Notify func(message string)
}

// Session plays at most one briefing at a time.
type Session struct {
	deps Deps
	opts Options
	now  func() time.Time

	active atomic.Bool
	wg     sync.WaitGroup

	noticeMu sync.Mutex
	notice   string
}

func NewSession(deps Deps, opts Options) *Session {
	if opts.AmbientVolume <= 0 || opts.AmbientVolume > 1 {
		opts.AmbientVolume = DefaultAmbientVolume
	}
	if opts.Fade == 0 {
		opts.Fade = DefaultFade
	}
	return &Session{deps: deps, opts: opts, now: time.Now}
}

func (s *Session) Active() bool {
	return s.active.Load()
}

// LastNotice returns the most recent failure notice, if any.
func (s *Session) LastNotice() string {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	return s.notice
}

// Start claims the player and runs the briefing in the background.
func (s *Session) Start(ctx context.Context, cfg briefing.Config, trigger briefing.Trigger) error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyPlaying
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.run(ctx, cfg, trigger)
	}()
	return nil
}

// Play claims the player and runs the briefing to completion.
func (s *Session) Play(ctx context.Context, cfg briefing.Config, trigger briefing.Trigger) (store.BriefingRun, error) {
	if !s.active.CompareAndSwap(false, true) {
		return store.BriefingRun{}, ErrAlreadyPlaying
	}
	return s.run(ctx, cfg, trigger)
}

// Wait blocks until background playbacks and device commands have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// RecordDrop stores a scheduler match that was skipped.
func (s *Session) RecordDrop(ctx context.Context, cfg briefing.Config, at time.Time) {
	s.record(ctx, store.BriefingRun{
		ID:         uuid.NewString(),
		BriefingID: cfg.ID,
		Trigger:    string(briefing.TriggerScheduled),
		Outcome:    store.OutcomeDropped,
		Detail:     "playback already active",
		StartedAt:  at,
		FinishedAt: at,
	})
}

func (s *Session) run(ctx context.Context, cfg briefing.Config, trigger briefing.Trigger) (store.BriefingRun, error) {
	defer s.active.Store(false)

	run := store.BriefingRun{
		ID:         uuid.NewString(),
		BriefingID: cfg.ID,
		Trigger:    string(trigger),
		StartedAt:  s.now(),
	}
	log.Printf("playback: briefing %s started (%s)", cfg.ID, trigger)

	if err := s.deps.Ambient.Start(ctx, s.opts.AmbientVolume); err != nil {
		log.Printf("playback: ambient track unavailable: %v", err)
	}
	run.DevicesCommanded = s.wakeDevices(ctx, cfg.ID)

	outcome, err := s.narrate(ctx, cfg)
	if err != nil {
		s.stopAmbient()
		run.Outcome = store.OutcomeFailed
		run.Detail = err.Error()
		s.fail(cfg, err)
	} else {
		run.Outcome = outcome
	}
	run.FinishedAt = s.now()
	s.record(context.WithoutCancel(ctx), run)
	log.Printf("playback: briefing %s finished: %s", cfg.ID, run.Outcome)
	return run, err
}

// narrate fetches the rendered briefing and plays it. With an audio file the
// ambient track fades out afterwards; spoken text stops it at once.
func (s *Session) narrate(ctx context.Context, cfg briefing.Config) (store.Outcome, error) {
	narration, err := s.deps.Narration.Briefing(ctx, cfg.ID)
	if err != nil {
		return "", fmt.Errorf("fetch briefing: %w", err)
	}

	if narration.AudioURL != "" {
		if err := s.deps.Player.Play(ctx, s.deps.Narration.ResolveURL(narration.AudioURL)); err != nil {
			return "", fmt.Errorf("play briefing audio: %w", err)
		}
		s.fadeAmbient(ctx)
		return store.OutcomePlayed, nil
	}

	err = s.deps.Speaker.Speak(ctx, narration.Text)
	s.stopAmbient()
	if err != nil {
		return "", fmt.Errorf("speak briefing: %w", err)
	}
	return store.OutcomeSpoken, nil
}

func (s *Session) fadeAmbient(ctx context.Context) {
	defer s.stopAmbient()
	if s.opts.Fade <= 0 {
		return
	}
	step := s.opts.Fade / fadeSteps
	for i := 1; i <= fadeSteps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(step):
		}
		volume := s.opts.AmbientVolume * float64(fadeSteps-i) / fadeSteps
		if err := s.deps.Ambient.SetVolume(volume); err != nil {
			log.Printf("playback: fade ambient: %v", err)
			return
		}
	}
}

func (s *Session) stopAmbient() {
	if err := s.deps.Ambient.Stop(); err != nil {
		log.Printf("playback: stop ambient: %v", err)
	}
}

// wakeDevices sends the wakeup action to every device linked to the briefing
// without waiting for the results.
func (s *Session) wakeDevices(ctx context.Context, briefingID string) int {
	if s.deps.Devices == nil {
		return 0
	}
	linked := s.deps.Devices.LinkedTo(briefingID)
	for _, device := range linked {
		action := device.WakeupAction
		if action == "" {
			action = DefaultWakeupAction
		}
		s.wg.Add(1)
		go func(deviceID, action string) {
			defer s.wg.Done()
			result, err := s.deps.Devices.SendCommand(context.WithoutCancel(ctx), deviceID, action)
			switch {
			case err != nil:
				log.Printf("playback: wake %s: %v", deviceID, err)
			case !result.Success:
				log.Printf("playback: wake %s refused: %s", deviceID, result.Message)
			}
		}(device.ID, action)
	}
	return len(linked)
}

func (s *Session) fail(cfg briefing.Config, err error) {
	message := fmt.Sprintf("Briefing %q could not be played", cfg.Title)
	log.Printf("playback: briefing %s failed: %v", cfg.ID, err)
	s.noticeMu.Lock()
	s.notice = message
	s.noticeMu.Unlock()
	if s.opts.Notify != nil {
		s.opts.Notify(message)
	}
}

func (s *Session) record(ctx context.Context, run store.BriefingRun) {
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.Record(ctx, run); err != nil {
		log.Printf("playback: record run %s: %v", run.ID, err)
	}
}
