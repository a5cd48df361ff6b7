package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"homeboard/internal/accordion"
	"homeboard/internal/aggregate"
	"homeboard/internal/auth"
	"homeboard/internal/backend"
	"homeboard/internal/briefing"
	"homeboard/internal/budget"
	"homeboard/internal/config"
	"homeboard/internal/devices"
	"homeboard/internal/intake"
	"homeboard/internal/layout"
	"homeboard/internal/playback"
	"homeboard/internal/search"
	"homeboard/internal/session"
	"homeboard/internal/store"
)

// Deps are the external pieces the service is assembled from. Archive,
// Index and Runs are optional.
type Deps struct {
	Backend    *backend.Client
	State      *session.RedisStore
	Credential *session.Credential
	Ambient    playback.Ambient
	Player     playback.Player
	Speaker    playback.Speaker
	Archive    intake.Archiver
	Index      search.Index
	Runs       *store.RunStore
}

type Service struct {
	// daemon outlives requests; playbacks started from a request run on it.
	daemon context.Context

	backend    *backend.Client
	state      *session.RedisStore
	credential *session.Credential
	runs       *store.RunStore

	dashboard *aggregate.Session
	layout    *layout.Store
	accordion *accordion.Controller
	scheduler *briefing.Scheduler
	player    *playback.Session
	devices   *devices.LinkageSync
	intake    *intake.Flow
	expenses  *budget.Expenses
	notes     *search.Service
}

// Dashboard is what a client renders: the current data snapshot plus the
// local view state around it.
type Dashboard struct {
	Snapshot      *aggregate.Snapshot `json:"snapshot"`
	Order         []string            `json:"order"`
	Expanded      string              `json:"expanded"`
	Loading       bool                `json:"loading"`
	Authenticated bool                `json:"authenticated"`
	Playing       bool                `json:"playing"`
	Notice        string              `json:"notice,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	PendingEvent  *backend.EventDraft `json:"pending_event,omitempty"`
}

// New assembles the service. ctx is the daemon lifetime: background
// playbacks and the scheduler stop when it is cancelled.
func New(ctx context.Context, cfg config.Config, deps Deps) *Service {
	s := &Service{
		daemon:     ctx,
		backend:    deps.Backend,
		state:      deps.State,
		credential: deps.Credential,
		runs:       deps.Runs,
		layout:     layout.NewStore(deps.State),
		accordion:  &accordion.Controller{},
		devices:    devices.NewLinkageSync(deps.Backend),
		expenses:   budget.NewExpenses(deps.Backend, deps.State, cfg.ExpenseCacheTTL),
		notes:      search.NewService(deps.Backend, deps.Index),
	}

	playbackDeps := playback.Deps{
		Narration: deps.Backend,
		Ambient:   deps.Ambient,
		Player:    deps.Player,
		Speaker:   deps.Speaker,
		Devices:   s.devices,
	}
	if deps.Runs != nil {
		playbackDeps.Recorder = deps.Runs
	}
	s.player = playback.NewSession(playbackDeps, playback.Options{
		AmbientVolume: cfg.AmbientVolume,
		Fade:          cfg.FadeDuration,
		Notify: func(message string) {
			log.Printf("app: playback notice: %s", message)
		},
	})
	s.scheduler = briefing.NewScheduler(s.player, s.player, cfg.TickInterval)

	s.dashboard = aggregate.NewSession(deps.Backend, deps.Credential, aggregate.Hooks{
		OnExpired: s.onExpired,
		OnSnapshot: func(snapshot *aggregate.Snapshot) {
			// defaulted settings carry no briefings; keep the known schedule.
			if !slices.Contains(snapshot.Degraded, "settings") {
				s.scheduler.SetConfigs(snapshot.Settings.Briefings)
			}
		},
	})
	s.intake = intake.NewFlow(deps.Backend, s.dashboard, deps.Archive, s.expenses)
	return s
}

// Bootstrap loads the persisted layout and the first snapshot. Failures are
// returned but leave the service usable.
func (s *Service) Bootstrap(ctx context.Context) error {
	var errs []error
	if _, err := s.layout.Load(ctx); err != nil {
		errs = append(errs, fmt.Errorf("load layout: %w", err))
	}
	if _, err := s.dashboard.Refresh(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("initial refresh: %w", err))
	}
	if s.credential.Authenticated() {
		if err := s.devices.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("load devices: %w", s.guard(ctx, err)))
		}
		s.notes.Reindex(ctx)
	}
	return errors.Join(errs...)
}

// RunScheduler blocks until the daemon context is done.
func (s *Service) RunScheduler() {
	s.scheduler.Run(s.daemon)
}

// Wait blocks until background playbacks and index mirrors finish.
func (s *Service) Wait() {
	s.player.Wait()
	s.notes.Wait()
}

// Ping checks the local state stores.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.state.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.runs != nil {
		if err := s.runs.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func (s *Service) onExpired() {
	log.Printf("app: session expired, sign-in required")
	s.intake.Cancel()
	s.accordion.Collapse()
}

// guard clears the credential when a direct backend call was rejected, the
// same way a refresh does.
func (s *Service) guard(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, backend.ErrUnauthorized) {
		return err
	}
	if clearErr := s.credential.Clear(context.WithoutCancel(ctx)); clearErr != nil {
		log.Printf("app: clear credential: %v", clearErr)
	}
	s.onExpired()
	return aggregate.ErrSessionExpired
}

// Dashboard

func (s *Service) Dashboard() Dashboard {
	view := Dashboard{
		Snapshot:      s.dashboard.Snapshot(),
		Order:         s.layout.Order(),
		Expanded:      s.accordion.Expanded(),
		Loading:       s.dashboard.Loading(),
		Authenticated: s.credential.Authenticated(),
		Playing:       s.player.Active(),
		Notice:        s.player.LastNotice(),
		PendingEvent:  s.intake.Pending(),
	}
	if err := s.dashboard.LastError(); err != nil {
		view.LastError = err.Error()
	}
	return view
}

func (s *Service) Refresh(ctx context.Context) (*aggregate.Snapshot, error) {
	return s.dashboard.Refresh(ctx, false)
}

// Reorder moves a widget. The new order is returned even when it could not
// be persisted; persisted reports whether it was.
func (s *Service) Reorder(ctx context.Context, moved, target string) (order []string, persisted bool) {
	order, err := s.layout.Reorder(ctx, moved, target)
	if err != nil {
		log.Printf("app: persist layout: %v", err)
		return order, false
	}
	return order, true
}

func (s *Service) ToggleSection(id string) (string, error) {
	if id != "" && !layout.Known(id) {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown widget", map[string]any{"id": id})
	}
	return s.accordion.Toggle(id), nil
}

// Briefings

func (s *Service) Briefings() []briefing.Config {
	return s.scheduler.Configs()
}

// PlayBriefing starts a briefing now. An empty id plays the default
// narration.
func (s *Service) PlayBriefing(id string) (briefing.Config, error) {
	cfg := briefing.Config{Title: "Briefing", Enabled: true, Content: briefing.DefaultContent()}
	if id != "" {
		found := false
		for _, candidate := range s.scheduler.Configs() {
			if candidate.ID == id {
				cfg, found = candidate, true
				break
			}
		}
		if !found {
			return briefing.Config{}, briefing.ErrUnknownBriefing
		}
	}
	if err := s.scheduler.PlayNow(s.daemon, cfg); err != nil {
		return briefing.Config{}, err
	}
	return cfg, nil
}

// SaveBriefings replaces the whole collection.
func (s *Service) SaveBriefings(ctx context.Context, configs []briefing.Config) ([]briefing.Config, error) {
	return s.saveDraft(ctx, briefing.NewDraft(configs))
}

// AddBriefing appends a new briefing to the current collection and saves.
func (s *Service) AddBriefing(ctx context.Context, title, clock string) (briefing.Config, error) {
	draft, err := s.storedDraft(ctx)
	if err != nil {
		return briefing.Config{}, err
	}
	added := draft.Add(title, clock)
	if _, err := s.saveDraft(ctx, draft); err != nil {
		return briefing.Config{}, err
	}
	return added, nil
}

func (s *Service) RemoveBriefing(ctx context.Context, id string) error {
	draft, err := s.storedDraft(ctx)
	if err != nil {
		return err
	}
	if err := draft.Remove(id); err != nil {
		return err
	}
	_, err = s.saveDraft(ctx, draft)
	return err
}

// storedDraft starts an edit from the briefings the backend holds.
func (s *Service) storedDraft(ctx context.Context) (*briefing.Draft, error) {
	current, err := s.backend.Settings(ctx)
	if err != nil {
		return nil, s.guard(ctx, fmt.Errorf("load settings: %w", err))
	}
	return briefing.NewDraft(current.Briefings), nil
}

func (s *Service) saveDraft(ctx context.Context, draft *briefing.Draft) ([]briefing.Config, error) {
	saved, err := draft.Save(ctx, settingsSaver{s})
	if err != nil {
		return nil, s.guard(ctx, err)
	}
	s.scheduler.SetConfigs(saved)
	s.dashboard.RefreshSilently(ctx)
	return saved, nil
}

// settingsSaver writes the briefing collection into the backend settings
// document without touching the other fields.
type settingsSaver struct{ s *Service }

func (a settingsSaver) SaveBriefings(ctx context.Context, configs []briefing.Config) error {
	current, err := a.s.backend.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	current.Briefings = configs
	if err := a.s.backend.SaveSettings(ctx, *current); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *Service) BriefingRuns(ctx context.Context, briefingID string, limit int) ([]store.BriefingRun, error) {
	if s.runs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_DISABLED", "briefing history is not configured", nil)
	}
	return s.runs.Recent(ctx, briefingID, limit)
}

func (s *Service) TestTraffic(ctx context.Context) (*backend.TrafficReport, error) {
	report, err := s.backend.TestTraffic(ctx)
	return report, s.guard(ctx, err)
}

// Devices

func (s *Service) Devices() []backend.Device {
	return s.devices.Devices()
}

func (s *Service) RefreshDevices(ctx context.Context) ([]backend.Device, error) {
	if err := s.devices.Refresh(ctx); err != nil {
		return nil, s.guard(ctx, err)
	}
	return s.devices.Devices(), nil
}

// SyncDevices re-imports the roster using the credentials stored on the
// backend.
func (s *Service) SyncDevices(ctx context.Context) ([]backend.Device, error) {
	creds, err := s.backend.DeviceCredentials(ctx)
	if err != nil {
		return nil, s.guard(ctx, fmt.Errorf("load device credentials: %w", err))
	}
	if err := s.devices.Sync(ctx, *creds); err != nil {
		return nil, s.guard(ctx, err)
	}
	return s.devices.Devices(), nil
}

func (s *Service) ToggleLinkage(ctx context.Context, deviceID, briefingID string) (backend.Device, error) {
	if strings.TrimSpace(briefingID) == "" {
		return backend.Device{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "briefing_id is required", nil)
	}
	device, err := s.devices.ToggleLinkage(ctx, deviceID, briefingID)
	return device, s.guard(ctx, err)
}

func (s *Service) ClearLinkage(ctx context.Context, deviceID string) (backend.Device, error) {
	device, err := s.devices.ClearLinkage(ctx, deviceID)
	return device, s.guard(ctx, err)
}

func (s *Service) SendCommand(ctx context.Context, deviceID, action string) (backend.CommandResult, error) {
	if strings.TrimSpace(action) == "" {
		return backend.CommandResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "action is required", nil)
	}
	result, err := s.devices.SendCommand(ctx, deviceID, action)
	return result, s.guard(ctx, err)
}

// Documents

func (s *Service) SubmitDocument(ctx context.Context, filename string, content io.Reader) (*intake.Result, error) {
	result, err := s.intake.Submit(ctx, filename, content)
	return result, s.guard(ctx, err)
}

func (s *Service) ConfirmDocument(ctx context.Context, edits *backend.EventDraft) (backend.EventDraft, error) {
	var edit func(*backend.EventDraft)
	if edits != nil {
		edit = func(draft *backend.EventDraft) { mergeDraft(draft, *edits) }
	}
	created, err := s.intake.Confirm(ctx, edit)
	return created, s.guard(ctx, err)
}

func (s *Service) CancelDocument() {
	s.intake.Cancel()
}

func (s *Service) UploadMenu(ctx context.Context, filename string, content io.Reader) (backend.MealPlan, error) {
	plan, err := s.intake.UploadMenu(ctx, filename, content)
	return plan, s.guard(ctx, err)
}

func (s *Service) UploadReceipt(ctx context.Context, filename string, content io.Reader) (*backend.Expense, error) {
	expense, err := s.intake.UploadReceipt(ctx, filename, content)
	return expense, s.guard(ctx, err)
}

// mergeDraft applies the non-empty fields of edits.
func mergeDraft(draft *backend.EventDraft, edits backend.EventDraft) {
	if edits.Summary != "" {
		draft.Summary = edits.Summary
	}
	if edits.Description != "" {
		draft.Description = edits.Description
	}
	if edits.Start != "" {
		draft.Start = edits.Start
	}
	if edits.End != "" {
		draft.End = edits.End
	}
	if edits.Location != "" {
		draft.Location = edits.Location
	}
	if edits.AllDay {
		draft.AllDay = true
	}
}

// Notes

func (s *Service) Notes(ctx context.Context) (backend.NoteList, error) {
	notes, err := s.notes.List(ctx)
	return notes, s.guard(ctx, err)
}

func (s *Service) CreateNote(ctx context.Context, content, author string) (*backend.Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	note, err := s.notes.Create(ctx, content, author)
	return note, s.guard(ctx, err)
}

func (s *Service) UpdateNote(ctx context.Context, note backend.Note) (*backend.Note, error) {
	updated, err := s.notes.Update(ctx, note)
	return updated, s.guard(ctx, err)
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	return s.guard(ctx, s.notes.Delete(ctx, id))
}

func (s *Service) SearchNotes(ctx context.Context, q search.Query) search.Response {
	return s.notes.Search(ctx, q)
}

// Expenses

func (s *Service) Expenses(ctx context.Context) (backend.ExpenseList, error) {
	expenses, err := s.expenses.List(ctx)
	return expenses, s.guard(ctx, err)
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if err := s.expenses.Delete(ctx, id); err != nil {
		return s.guard(ctx, err)
	}
	s.dashboard.RefreshSilently(ctx)
	return nil
}

// Session

func (s *Service) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "username and password are required", nil)
	}
	token, err := s.backend.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
		}
		return err
	}
	return s.signIn(ctx, token)
}

// AuthCallback completes the OAuth redirect; the backend appends the
// token to the callback URL.
func (s *Service) AuthCallback(ctx context.Context, query url.Values, fragment string) error {
	token, err := auth.TokenFromCallback(query, fragment)
	if err != nil {
		return err
	}
	return s.signIn(ctx, token)
}

func (s *Service) signIn(ctx context.Context, token string) error {
	if err := s.credential.Authenticate(ctx, token); err != nil {
		return err
	}
	s.dashboard.RefreshSilently(ctx)
	if err := s.devices.Refresh(ctx); err != nil {
		log.Printf("app: load devices after sign-in: %v", err)
	}
	return nil
}

func (s *Service) AuthStatus(ctx context.Context) (*backend.AuthStatus, error) {
	if !s.credential.Authenticated() {
		return &backend.AuthStatus{}, nil
	}
	status, err := s.backend.AuthStatus(ctx)
	return status, s.guard(ctx, err)
}

func (s *Service) Logout(ctx context.Context) error {
	s.intake.Cancel()
	s.accordion.Collapse()
	return s.credential.Clear(ctx)
}
