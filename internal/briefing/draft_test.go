package briefing

import (
	"context"
	"errors"
	"testing"
)

type saverFunc func(ctx context.Context, configs []Config) error

func (f saverFunc) SaveBriefings(ctx context.Context, configs []Config) error {
	return f(ctx, configs)
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in     string
		hour   int
		minute int
		ok     bool
	}{
		{"07:00", 7, 0, true},
		{"23:59", 23, 59, true},
		{"00:00", 0, 0, true},
		{"7:00", 0, 0, false},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"noon", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		hour, minute, err := ParseClock(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseClock(%q) error = %v, want ok=%v", tc.in, err, tc.ok)
		}
		if tc.ok && (hour != tc.hour || minute != tc.minute) {
			t.Fatalf("ParseClock(%q) = %d:%d", tc.in, hour, minute)
		}
	}
}

func TestContentSectionsOrder(t *testing.T) {
	got := Content{Notes: true, Weather: true, Traffic: true}.Sections()
	want := []Section{SectionWeather, SectionTraffic, SectionNotes}
	if len(got) != len(want) {
		t.Fatalf("Sections() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sections() = %v, want %v", got, want)
		}
	}
}

func TestDraftAddAssignsFreshIDs(t *testing.T) {
	draft := NewDraft(nil)
	a := draft.Add("Morning", "07:00")
	b := draft.Add("Evening", "19:30")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q %q", a.ID, b.ID)
	}
	if !a.Enabled || !a.Content.Weather {
		t.Fatalf("new briefing = %+v", a)
	}
}

func TestDraftIsACopy(t *testing.T) {
	original := []Config{{ID: "b1", Title: "Morning", Time: "07:00"}}
	draft := NewDraft(original)
	if err := draft.Update("b1", func(cfg *Config) { cfg.Title = "Changed" }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if original[0].Title != "Morning" {
		t.Fatalf("original mutated: %+v", original[0])
	}
}

func TestDraftUpdateKeepsID(t *testing.T) {
	draft := NewDraft([]Config{{ID: "b1", Title: "Morning", Time: "07:00"}})
	if err := draft.Update("b1", func(cfg *Config) { cfg.ID = "other" }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := draft.Configs()[0].ID; got != "b1" {
		t.Fatalf("id = %q, want b1", got)
	}
	if err := draft.SetEnabled("missing", true); !errors.Is(err, ErrUnknownBriefing) {
		t.Fatalf("SetEnabled() error = %v, want ErrUnknownBriefing", err)
	}
}

func TestDraftRemoveAndContent(t *testing.T) {
	draft := NewDraft([]Config{
		{ID: "b1", Title: "Morning", Time: "07:00"},
		{ID: "b2", Title: "Evening", Time: "19:00"},
	})
	if err := draft.SetContent("b2", Content{Budget: true}); err != nil {
		t.Fatalf("SetContent() error = %v", err)
	}
	if err := draft.Remove("b1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	configs := draft.Configs()
	if len(configs) != 1 || configs[0].ID != "b2" || !configs[0].Content.Budget {
		t.Fatalf("configs = %+v", configs)
	}
	if err := draft.Remove("b1"); !errors.Is(err, ErrUnknownBriefing) {
		t.Fatalf("Remove() error = %v, want ErrUnknownBriefing", err)
	}
}

func TestDraftSaveValidatesBeforeRequest(t *testing.T) {
	calls := 0
	saver := saverFunc(func(context.Context, []Config) error {
		calls++
		return nil
	})

	draft := NewDraft(nil)
	draft.Add("  ", "07:00")
	_, err := draft.Save(context.Background(), saver)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "title" {
		t.Fatalf("Save() error = %v, want title ValidationError", err)
	}

	draft = NewDraft(nil)
	draft.Add("Morning", "7h")
	if _, err := draft.Save(context.Background(), saver); !errors.As(err, &verr) || verr.Field != "time" {
		t.Fatalf("Save() error = %v, want time ValidationError", err)
	}
	if calls != 0 {
		t.Fatalf("saver called %d times, want 0", calls)
	}
}

func TestDraftSavePassesCollection(t *testing.T) {
	var saved []Config
	saver := saverFunc(func(_ context.Context, configs []Config) error {
		saved = configs
		return nil
	})

	draft := NewDraft(nil)
	cfg := draft.Add("Morning", "07:00")
	configs, err := draft.Save(context.Background(), saver)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(saved) != 1 || saved[0].ID != cfg.ID || len(configs) != 1 {
		t.Fatalf("saved = %+v", saved)
	}
}

func TestDraftSaveWrapsSaverError(t *testing.T) {
	boom := errors.New("backend down")
	draft := NewDraft([]Config{{ID: "b1", Title: "Morning", Time: "07:00"}})
	_, err := draft.Save(context.Background(), saverFunc(func(context.Context, []Config) error { return boom }))
	if !errors.Is(err, boom) {
		t.Fatalf("Save() error = %v, want wrapped backend error", err)
	}
}
