package briefing

import (
	"fmt"
	"strconv"
	"strings"
)

// Section is one selectable part of a narrated briefing.
type Section string

const (
	SectionWeather  Section = "weather"
	SectionCalendar Section = "calendar"
	SectionMeals    Section = "meals"
	SectionEmails   Section = "emails"
	SectionBudget   Section = "budget"
	SectionTraffic  Section = "traffic"
	SectionNotes    Section = "notes"
)

// Content is the set of sections a briefing narrates.
type Content struct {
	Weather  bool `json:"weather"`
	Calendar bool `json:"calendar"`
	Meals    bool `json:"meals"`
	Emails   bool `json:"emails"`
	Budget   bool `json:"budget"`
	Traffic  bool `json:"traffic"`
	Notes    bool `json:"notes"`
}

// DefaultContent enables the sections a new briefing starts with.
func DefaultContent() Content {
	return Content{Weather: true, Calendar: true, Meals: true}
}

// Sections lists the enabled sections in a stable order.
func (c Content) Sections() []Section {
	var out []Section
	flags := []struct {
		on      bool
		section Section
	}{
		{c.Weather, SectionWeather},
		{c.Calendar, SectionCalendar},
		{c.Meals, SectionMeals},
		{c.Emails, SectionEmails},
		{c.Budget, SectionBudget},
		{c.Traffic, SectionTraffic},
		{c.Notes, SectionNotes},
	}
	for _, flag := range flags {
		if flag.on {
			out = append(out, flag.section)
		}
	}
	return out
}

// Config is one time-triggered briefing rule.
type Config struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Time    string  `json:"time"`
	Enabled bool    `json:"enabled"`
	Content Content `json:"content"`
}

// ValidationError reports a config that must not be persisted.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("briefing %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("briefing %s: %s %s", e.ID, e.Field, e.Reason)
}

// Validate checks the fields required before a save request is issued.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return &ValidationError{ID: c.ID, Field: "title", Reason: "is required"}
	}
	if _, _, err := ParseClock(c.Time); err != nil {
		return &ValidationError{ID: c.ID, Field: "time", Reason: err.Error()}
	}
	return nil
}

// ParseClock parses a local HH:MM time of day.
func ParseClock(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("must be HH:MM, got %q", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}
