package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"homeboard/internal/aggregate"
	"homeboard/internal/auth"
	"homeboard/internal/backend"
	"homeboard/internal/briefing"
	"homeboard/internal/config"
	"homeboard/internal/layout"
	"homeboard/internal/playback"
	"homeboard/internal/search"
	"homeboard/internal/session"
)

// fakeBackend is an in-memory stand-in for the family backend.
type fakeBackend struct {
	mu            sync.Mutex
	token         string
	rejectAll     bool
	weatherStatus int
	settings      backend.Settings
	settingsSaves int
	notes         backend.NoteList
	expenses      backend.ExpenseList
	expenseReads  int
	devices       backend.DeviceList
	events        []backend.EventDraft
	commands      []string
	narrations    int
	upload        backend.DocumentUpload
	uploadedNames []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		token: "tok",
		settings: backend.Settings{
			BriefingTime: "07:00",
			Briefings:    []briefing.Config{{ID: "b1", Title: "Morning", Time: "07:00", Enabled: true}},
		},
		expenses: backend.ExpenseList{{ID: "e1", Amount: 12}, {ID: "e2", Amount: 30}},
		devices:  backend.DeviceList{{ID: "D1", Name: "Lamp", Version: 1, BriefingIDs: []string{}}},
		notes: backend.NoteList{
			{ID: "n1", Content: "Acheter du pain", Author: "Famille", Date: "2026-10-01"},
			{ID: "n2", Content: "Vaccin du chat", Author: "Léa", Date: "2026-10-02"},
		},
	}
}

func (f *fakeBackend) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.rejectAll && auth.ParseBearer(r.Header.Get("Authorization")) == f.token
}

func (f *fakeBackend) routes() http.Handler {
	mux := http.NewServeMux()
	send := func(w http.ResponseWriter, payload any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
	private := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !f.authorized(r) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"Not authenticated"}`)
				return
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			h(w, r)
		}
	}

	mux.HandleFunc("GET /api/weather/current", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.weatherStatus
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		send(w, map[string]any{"current": map[string]any{"temperature_2m": 14.5, "weather_code": 3}})
	})
	mux.HandleFunc("GET /api/calendar/events", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, []map[string]any{{"title": "École", "start": "2026-10-15T08:30:00"}})
	}))
	mux.HandleFunc("POST /api/calendar/events", private(func(w http.ResponseWriter, r *http.Request) {
		var draft backend.EventDraft
		_ = json.NewDecoder(r.Body).Decode(&draft)
		f.events = append(f.events, draft)
		send(w, map[string]any{"status": "created"})
	}))
	mux.HandleFunc("GET /api/meals/{$}", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, map[string]any{"2026-10-15": map[string]string{"lunch": "soupe"}})
	}))
	mux.HandleFunc("GET /api/budget/stats", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, map[string]any{"total": 42, "categories": map[string]float64{"food": 42}})
	}))
	mux.HandleFunc("GET /api/budget/{$}", private(func(w http.ResponseWriter, r *http.Request) {
		f.expenseReads++
		send(w, f.expenses)
	}))
	mux.HandleFunc("DELETE /api/budget/expenses/{id}", private(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.expenses = slices.DeleteFunc(f.expenses, func(e backend.Expense) bool { return e.ID == id })
		send(w, map[string]any{"ok": true})
	}))
	mux.HandleFunc("GET /api/gmail/important", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, []any{})
	}))
	mux.HandleFunc("GET /api/settings/{$}", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, f.settings)
	}))
	mux.HandleFunc("POST /api/settings/{$}", private(func(w http.ResponseWriter, r *http.Request) {
		var next backend.Settings
		_ = json.NewDecoder(r.Body).Decode(&next)
		f.settings = next
		f.settingsSaves++
		send(w, next)
	}))
	mux.HandleFunc("POST /api/settings/test-traffic", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, backend.TrafficReport{DurationMinutes: 22, Summary: "Fluide"})
	}))
	mux.HandleFunc("GET /api/tuya/devices", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, f.devices)
	}))
	mux.HandleFunc("GET /api/tuya/credentials", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, backend.Credentials{APIKey: "key", APISecret: "secret", Region: "eu"})
	}))
	mux.HandleFunc("POST /api/tuya/sync", private(func(w http.ResponseWriter, r *http.Request) {
		f.devices = append(f.devices, backend.Device{ID: "D2", Name: "Radio", Version: 1})
		send(w, f.devices)
	}))
	mux.HandleFunc("POST /api/tuya/device/{id}/settings", private(func(w http.ResponseWriter, r *http.Request) {
		var update backend.LinkageUpdate
		_ = json.NewDecoder(r.Body).Decode(&update)
		for i := range f.devices {
			if f.devices[i].ID != r.PathValue("id") {
				continue
			}
			if f.devices[i].Version != update.ExpectedVersion {
				w.WriteHeader(http.StatusConflict)
				_, _ = io.WriteString(w, `{"detail":"stale version"}`)
				return
			}
			f.devices[i].BriefingIDs = update.BriefingIDs
			f.devices[i].Version++
			send(w, f.devices[i])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	mux.HandleFunc("POST /api/tuya/device/{id}/command", private(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Action string `json:"action"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.commands = append(f.commands, r.PathValue("id")+":"+body.Action)
		send(w, backend.CommandResult{Success: true})
	}))
	mux.HandleFunc("POST /api/documents/upload", private(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.uploadedNames = append(f.uploadedNames, header.Filename)
		send(w, f.upload)
	}))
	mux.HandleFunc("GET /api/notes/{$}", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, f.notes)
	}))
	mux.HandleFunc("POST /api/notes/{$}", private(func(w http.ResponseWriter, r *http.Request) {
		var note backend.Note
		_ = json.NewDecoder(r.Body).Decode(&note)
		note.ID = "n" + strconv.Itoa(len(f.notes)+1)
		note.Date = "2026-10-15"
		f.notes = append(f.notes, note)
		send(w, note)
	}))
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "maman" || r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Incorrect username or password"}`)
			return
		}
		send(w, backend.LoginToken{AccessToken: "tok", TokenType: "bearer"})
	})
	mux.HandleFunc("GET /api/auth/status", private(func(w http.ResponseWriter, r *http.Request) {
		send(w, backend.AuthStatus{Authenticated: true, GoogleLinked: true})
	}))
	mux.HandleFunc("GET /api/briefing", private(func(w http.ResponseWriter, r *http.Request) {
		f.narrations++
		send(w, backend.Narration{Text: "Bonjour", AudioURL: "/uploads/briefing.mp3"})
	}))
	return mux
}

type quietAmbient struct{}

func (quietAmbient) Start(context.Context, float64) error { return nil }
func (quietAmbient) SetVolume(float64) error              { return nil }
func (quietAmbient) Stop() error                          { return nil }

// gatePlayer blocks each playback until released.
type gatePlayer struct {
	entered chan string
	release chan struct{}
}

func newGatePlayer() *gatePlayer {
	return &gatePlayer{entered: make(chan string, 4), release: make(chan struct{})}
}

func (g *gatePlayer) Play(ctx context.Context, url string) error {
	g.entered <- url
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type testHarness struct {
	fake    *fakeBackend
	service *Service
	state   *session.RedisStore
	redis   *miniredis.Miniredis
	player  *gatePlayer
}

func newTestHarness(t *testing.T, fake *fakeBackend, signedIn bool) *testHarness {
	t.Helper()
	api := httptest.NewServer(fake.routes())
	t.Cleanup(api.Close)

	mr := miniredis.RunT(t)
	state, err := session.NewRedisStore("redis://"+mr.Addr(), "kitchen")
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	ctx := context.Background()
	if signedIn {
		if err := state.SaveToken(ctx, "tok"); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
	}
	credential, err := session.OpenCredential(ctx, state)
	if err != nil {
		t.Fatalf("OpenCredential() error = %v", err)
	}

	client := backend.New(api.URL+"/api", 5*time.Second, credential).WithRetry(backend.NeverRetry)
	player := newGatePlayer()
	daemon, cancel := context.WithCancel(context.Background())
	svc := New(daemon, config.Config{
		ExpenseCacheTTL: time.Minute,
		FadeDuration:    -1,
		TickInterval:    time.Hour,
	}, Deps{
		Backend:    client,
		State:      state,
		Credential: credential,
		Ambient:    quietAmbient{},
		Player:     player,
	})
	t.Cleanup(func() {
		cancel()
		svc.Wait()
		state.Close()
	})
	return &testHarness{fake: fake, service: svc, state: state, redis: mr, player: player}
}

func TestBootstrapLoadsSnapshotScheduleAndLayout(t *testing.T) {
	h := newTestHarness(t, newFakeBackend(), true)
	ctx := context.Background()

	if err := h.service.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	view := h.service.Dashboard()
	if view.Snapshot == nil || view.Snapshot.Weather == nil || len(view.Snapshot.Events) != 1 {
		t.Fatalf("snapshot = %+v", view.Snapshot)
	}
	if !view.Authenticated || view.Loading {
		t.Fatalf("dashboard = %+v", view)
	}
	if configs := h.service.Briefings(); len(configs) != 1 || configs[0].ID != "b1" {
		t.Fatalf("Briefings() = %+v", configs)
	}
	if !slices.Equal(view.Order, layout.DefaultOrder()) {
		t.Fatalf("order = %v", view.Order)
	}
	stored, ok, err := h.state.LoadOrder(ctx)
	if err != nil || !ok || !slices.Equal(stored, layout.DefaultOrder()) {
		t.Fatalf("LoadOrder() = %v, %v, %v", stored, ok, err)
	}
	if devices := h.service.Devices(); len(devices) != 1 {
		t.Fatalf("Devices() = %+v", devices)
	}
}

func TestRejectedCredentialIsCleared(t *testing.T) {
	fake := newFakeBackend()
	fake.rejectAll = true
	h := newTestHarness(t, fake, true)
	ctx := context.Background()

	if _, err := h.service.Refresh(ctx); !errors.Is(err, aggregate.ErrSessionExpired) {
		t.Fatalf("Refresh() error = %v, want ErrSessionExpired", err)
	}
	if h.service.Dashboard().Authenticated {
		t.Fatal("still authenticated after 401")
	}
	token, err := h.state.LoadToken(ctx)
	if err != nil || token != "" {
		t.Fatalf("stored token = %q, %v", token, err)
	}
}

func TestDirectCallRejectionClearsCredential(t *testing.T) {
	fake := newFakeBackend()
	h := newTestHarness(t, fake, true)
	fake.mu.Lock()
	fake.rejectAll = true
	fake.mu.Unlock()

	if _, err := h.service.Expenses(context.Background()); !errors.Is(err, aggregate.ErrSessionExpired) {
		t.Fatalf("Expenses() error = %v, want ErrSessionExpired", err)
	}
	if h.service.Dashboard().Authenticated {
		t.Fatal("still authenticated after 401")
	}
}

func TestSaveBriefingsValidatesBeforeRequest(t *testing.T) {
	fake := newFakeBackend()
	h := newTestHarness(t, fake, true)
	ctx := context.Background()

	_, err := h.service.SaveBriefings(ctx, []briefing.Config{{ID: "b1", Title: "", Time: "07:00"}})
	var validation *briefing.ValidationError
	if !errors.As(err, &validation) || validation.Field != "title" {
		t.Fatalf("SaveBriefings() error = %v, want title ValidationError", err)
	}
	fake.mu.Lock()
	saves := fake.settingsSaves
	fake.mu.Unlock()
	if saves != 0 {
		t.Fatalf("settings saves = %d, want 0", saves)
	}

	added, err := h.service.AddBriefing(ctx, "Evening", "19:30")
	if err != nil {
		t.Fatalf("AddBriefing() error = %v", err)
	}
	fake.mu.Lock()
	saved := fake.settings
	fake.mu.Unlock()
	if len(saved.Briefings) != 2 || saved.Briefings[1].ID != added.ID || saved.BriefingTime != "07:00" {
		t.Fatalf("saved settings = %+v", saved)
	}
	if configs := h.service.Briefings(); len(configs) != 2 {
		t.Fatalf("scheduler configs = %+v", configs)
	}

	if err := h.service.RemoveBriefing(ctx, "missing"); !errors.Is(err, briefing.ErrUnknownBriefing) {
		t.Fatalf("RemoveBriefing() error = %v, want ErrUnknownBriefing", err)
	}
}

func TestAddBriefingKeepsStoredBriefingsAfterFailedBootstrap(t *testing.T) {
	fake := newFakeBackend()
	fake.weatherStatus = http.StatusBadGateway
	h := newTestHarness(t, fake, true)
	ctx := context.Background()

	if err := h.service.Bootstrap(ctx); err == nil {
		t.Fatal("Bootstrap() error = nil, want refresh failure")
	}
	fake.mu.Lock()
	fake.weatherStatus = 0
	fake.mu.Unlock()

	added, err := h.service.AddBriefing(ctx, "Evening", "19:00")
	if err != nil {
		t.Fatalf("AddBriefing() error = %v", err)
	}
	fake.mu.Lock()
	stored := slices.Clone(fake.settings.Briefings)
	fake.mu.Unlock()
	ids := make([]string, 0, len(stored))
	for _, c := range stored {
		ids = append(ids, c.ID)
	}
	if len(ids) != 2 || !slices.Contains(ids, "b1") || !slices.Contains(ids, added.ID) {
		t.Fatalf("stored briefings = %v, want b1 and %s", ids, added.ID)
	}

	if err := h.service.RemoveBriefing(ctx, "b1"); err != nil {
		t.Fatalf("RemoveBriefing() error = %v", err)
	}
	fake.mu.Lock()
	stored = slices.Clone(fake.settings.Briefings)
	fake.mu.Unlock()
	if len(stored) != 1 || stored[0].ID != added.ID {
		t.Fatalf("stored briefings after remove = %+v", stored)
	}
}

func TestPlayBriefingRefusesOverlap(t *testing.T) {
	fake := newFakeBackend()
	h := newTestHarness(t, fake, true)
	if err := h.service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	if _, err := h.service.PlayBriefing("nope"); !errors.Is(err, briefing.ErrUnknownBriefing) {
		t.Fatalf("PlayBriefing() error = %v, want ErrUnknownBriefing", err)
	}
	cfg, err := h.service.PlayBriefing("b1")
	if err != nil || cfg.ID != "b1" {
		t.Fatalf("PlayBriefing() = %+v, %v", cfg, err)
	}
	played := <-h.player.entered
	if !strings.HasSuffix(played, "/uploads/briefing.mp3") {
		t.Fatalf("played %q", played)
	}
	if !h.service.Dashboard().Playing {
		t.Fatal("dashboard not playing")
	}
	if _, err := h.service.PlayBriefing(""); !errors.Is(err, playback.ErrAlreadyPlaying) {
		t.Fatalf("PlayBriefing() error = %v, want ErrAlreadyPlaying", err)
	}
	close(h.player.release)
	h.service.Wait()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.narrations != 1 {
		t.Fatalf("narrations = %d, want 1", fake.narrations)
	}
}

func TestDocumentProposalConfirm(t *testing.T) {
	fake := newFakeBackend()
	fake.upload = backend.DocumentUpload{ID: "doc1", Analysis: backend.Analysis{
		Classification: "Event",
		Title:          "Kermesse",
		ProposedEvent:  &backend.EventDraft{Summary: "Kermesse", Start: "2026-11-07T10:00:00"},
	}}
	h := newTestHarness(t, fake, true)
	ctx := context.Background()

	result, err := h.service.SubmitDocument(ctx, "flyer.jpg", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("SubmitDocument() error = %v", err)
	}
	if result.Pending == nil || h.service.Dashboard().PendingEvent == nil {
		t.Fatalf("result = %+v", result)
	}
	created, err := h.service.ConfirmDocument(ctx, &backend.EventDraft{Location: "École"})
	if err != nil {
		t.Fatalf("ConfirmDocument() error = %v", err)
	}
	if created.Summary != "Kermesse" || created.Location != "École" {
		t.Fatalf("created = %+v", created)
	}
	fake.mu.Lock()
	events := slices.Clone(fake.events)
	fake.mu.Unlock()
	if len(events) != 1 || events[0].Location != "École" {
		t.Fatalf("backend events = %+v", events)
	}
}

func TestDeleteExpenseInvalidatesCache(t *testing.T) {
	fake := newFakeBackend()
	h := newTestHarness(t, fake, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.service.Expenses(ctx); err != nil {
			t.Fatalf("Expenses() error = %v", err)
		}
	}
	if err := h.service.DeleteExpense(ctx, "e1"); err != nil {
		t.Fatalf("DeleteExpense() error = %v", err)
	}
	list, err := h.service.Expenses(ctx)
	if err != nil {
		t.Fatalf("Expenses() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "e2" {
		t.Fatalf("Expenses() = %+v", list)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.expenseReads != 2 {
		t.Fatalf("expense reads = %d, want 2", fake.expenseReads)
	}
}

func TestLoginAndCallback(t *testing.T) {
	h := newTestHarness(t, newFakeBackend(), false)
	ctx := context.Background()

	err := h.service.Login(ctx, "maman", "wrong")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("Login() error = %v, want INVALID_CREDENTIALS", err)
	}
	if err := h.service.Login(ctx, "maman", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token, _ := h.state.LoadToken(ctx); token != "tok" {
		t.Fatalf("stored token = %q", token)
	}
	if h.service.Dashboard().Snapshot == nil {
		t.Fatal("no snapshot after sign-in")
	}

	if err := h.service.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := h.service.AuthCallback(ctx, url.Values{}, ""); !errors.Is(err, auth.ErrMissingToken) {
		t.Fatalf("AuthCallback() error = %v, want ErrMissingToken", err)
	}
	if err := h.service.AuthCallback(ctx, url.Values{"token": {"tok"}}, ""); err != nil {
		t.Fatalf("AuthCallback() error = %v", err)
	}
	if !h.service.Dashboard().Authenticated {
		t.Fatal("not authenticated after callback")
	}
}

func TestDeviceLinkageAndSync(t *testing.T) {
	fake := newFakeBackend()
	h := newTestHarness(t, fake, true)
	ctx := context.Background()
	if _, err := h.service.RefreshDevices(ctx); err != nil {
		t.Fatalf("RefreshDevices() error = %v", err)
	}

	device, err := h.service.ToggleLinkage(ctx, "D1", "b1")
	if err != nil {
		t.Fatalf("ToggleLinkage() error = %v", err)
	}
	if !slices.Equal(device.BriefingIDs, []string{"b1"}) || device.Version != 2 {
		t.Fatalf("device = %+v", device)
	}
	if _, err := h.service.ToggleLinkage(ctx, "D1", ""); err == nil {
		t.Fatal("ToggleLinkage() expected error for empty briefing id")
	}

	list, err := h.service.SyncDevices(ctx)
	if err != nil {
		t.Fatalf("SyncDevices() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("SyncDevices() = %+v", list)
	}

	result, err := h.service.SendCommand(ctx, "D2", "ON")
	if err != nil || !result.Success {
		t.Fatalf("SendCommand() = %+v, %v", result, err)
	}
}

func TestNotesMutationsAndSearch(t *testing.T) {
	h := newTestHarness(t, newFakeBackend(), true)
	ctx := context.Background()

	note, err := h.service.CreateNote(ctx, "Rappeler le plombier", "")
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if note.Author != backend.DefaultAuthor {
		t.Fatalf("author = %q, want %q", note.Author, backend.DefaultAuthor)
	}
	resp := h.service.SearchNotes(ctx, search.Query{Text: "PLOMBIER"})
	if resp.Source != "scan" || resp.Total != 1 || resp.Results[0].ID != note.ID {
		t.Fatalf("SearchNotes() = %+v", resp)
	}
}
