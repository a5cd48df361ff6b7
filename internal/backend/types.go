package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"homeboard/internal/briefing"
)

// validator is implemented by every payload decoded at the fetch boundary.
type validator interface {
	Validate() error
}

var (
	// ErrShape marks a payload that decoded but does not match its contract.
	ErrShape = errors.New("unexpected payload shape")
	// ErrInvalidEvent marks an event draft rejected before it is sent.
	ErrInvalidEvent = errors.New("invalid event")
)

func shapeError(resource, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrShape, resource, fmt.Sprintf(format, args...))
}

type CurrentWeather struct {
	Temperature float64 `json:"temperature_2m"`
	WeatherCode int     `json:"weather_code"`
	WindSpeed   float64 `json:"wind_speed_10m"`
}

type DailyForecast struct {
	Time                     []string  `json:"time"`
	WeatherCode              []int     `json:"weather_code"`
	TemperatureMax           []float64 `json:"temperature_2m_max"`
	TemperatureMin           []float64 `json:"temperature_2m_min"`
	PrecipitationProbability []float64 `json:"precipitation_probability_max"`
}

// Recommendation is the clothing advice the backend derives from the weather.
type Recommendation struct {
	Summary string   `json:"summary"`
	Items   []string `json:"items"`
	Icon    string   `json:"icon"`
}

type Weather struct {
	Current        *CurrentWeather `json:"current"`
	Daily          *DailyForecast  `json:"daily,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

func (w *Weather) Validate() error {
	if w.Current == nil {
		return shapeError("weather", "missing current conditions")
	}
	if d := w.Daily; d != nil {
		n := len(d.Time)
		if len(d.WeatherCode) != n || len(d.TemperatureMax) != n || len(d.TemperatureMin) != n {
			return shapeError("weather", "daily series lengths differ")
		}
	}
	return nil
}

type CalendarEvent struct {
	Title         string   `json:"title"`
	Start         string   `json:"start"`
	End           *string  `json:"end"`
	AllDay        bool     `json:"all_day"`
	Location      string   `json:"location"`
	Tags          []string `json:"tags"`
	RequiredItems []string `json:"required_items"`
}

type EventList []CalendarEvent

func (l *EventList) Validate() error {
	for i, event := range *l {
		if strings.TrimSpace(event.Start) == "" {
			return shapeError("calendar", "event %d has no start", i)
		}
	}
	return nil
}

// EventDraft is the body of POST calendar/events.
type EventDraft struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
	Location    string `json:"location,omitempty"`
}

func (d EventDraft) Validate() error {
	if strings.TrimSpace(d.Summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(d.Start) == "" {
		return fmt.Errorf("%w: start is required", ErrInvalidEvent)
	}
	return nil
}

type Meal struct {
	Lunch  string `json:"lunch"`
	Dinner string `json:"dinner"`
}

// MealPlan maps an ISO date (YYYY-MM-DD) to that day's meals.
type MealPlan map[string]Meal

func (p *MealPlan) Validate() error {
	for date := range *p {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return shapeError("meals", "invalid date key %q", date)
		}
	}
	return nil
}

type BudgetStats struct {
	MonthlyTotal float64            `json:"monthly_total"`
	Categories   map[string]float64 `json:"categories"`
	MonthLabel   string             `json:"month_label"`
}

func (s *BudgetStats) Validate() error {
	if s.Categories == nil {
		s.Categories = map[string]float64{}
	}
	return nil
}

type Expense struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
	Merchant string  `json:"merchant"`
	Category string  `json:"category"`
}

type ExpenseList []Expense

func (l *ExpenseList) Validate() error {
	for i, expense := range *l {
		if expense.ID == "" {
			return shapeError("budget", "expense %d has no id", i)
		}
	}
	return nil
}

type Email struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
	IsRead  bool   `json:"is_read"`
}

type EmailList []Email

func (l *EmailList) Validate() error {
	for i, email := range *l {
		if email.ID == "" {
			return shapeError("gmail", "email %d has no id", i)
		}
	}
	return nil
}

type Settings struct {
	Nickname         string            `json:"nickname"`
	BriefingTime     string            `json:"briefing_time"`
	Briefings        []briefing.Config `json:"briefings,omitempty"`
	BudgetLimit      float64           `json:"budget_limit"`
	AutoPlayBriefing bool              `json:"auto_play_briefing"`
	HomeAddress      string            `json:"home_address,omitempty"`
	WorkAddress      string            `json:"work_address,omitempty"`
	WorkArrivalTime  string            `json:"work_arrival_time,omitempty"`
}

// DefaultSettings is what the dashboard shows when settings cannot be read.
func DefaultSettings() Settings {
	return Settings{BriefingTime: "07:00"}
}

func (s *Settings) Validate() error {
	for i, cfg := range s.Briefings {
		if cfg.ID == "" {
			return shapeError("settings", "briefing %d has no id", i)
		}
	}
	return nil
}

type TrafficReport struct {
	DurationMinutes float64 `json:"duration_minutes"`
	Summary         string  `json:"summary"`
}

type Device struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	ProductName  string   `json:"product_name"`
	Online       bool     `json:"online"`
	BriefingIDs  []string `json:"briefing_ids"`
	WakeupAction string   `json:"wakeup_action"`
	Version      int64    `json:"version"`
}

func (d *Device) Validate() error {
	if d.ID == "" {
		return shapeError("tuya", "device has no id")
	}
	return nil
}

type DeviceList []Device

func (l *DeviceList) Validate() error {
	for i, device := range *l {
		if device.ID == "" {
			return shapeError("tuya", "device %d has no id", i)
		}
	}
	return nil
}

type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Region    string `json:"region"`
}

// LinkageUpdate carries the full target set plus the version the client
// last saw, so the backend can reject stale writes.
type LinkageUpdate struct {
	BriefingIDs     []string `json:"briefing_ids"`
	ExpectedVersion int64    `json:"expected_version"`
}

type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type Note struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  string `json:"author"`
	Date    string `json:"date,omitempty"`
}

// DefaultAuthor is used when a note is created without one.
const DefaultAuthor = "Famille"

type NoteList []Note

func (l *NoteList) Validate() error {
	for i, note := range *l {
		if note.ID == "" {
			return shapeError("notes", "note %d has no id", i)
		}
	}
	return nil
}

// Narration is the rendered briefing: text plus an optional audio file.
type Narration struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url,omitempty"`
}

func (n *Narration) Validate() error {
	if strings.TrimSpace(n.Text) == "" && n.AudioURL == "" {
		return shapeError("briefing", "neither text nor audio")
	}
	return nil
}

type LoginToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (t *LoginToken) Validate() error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return shapeError("auth", "login returned no token")
	}
	return nil
}

type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	GoogleLinked  bool   `json:"google_linked"`
}

// EffectKind names a side effect the backend already applied for an upload.
type EffectKind string

const (
	EffectMealPlan EffectKind = "meal_plan"
	EffectExpense  EffectKind = "expense"
	EffectNote     EffectKind = "note"
)

type AppliedEffect struct {
	Kind     EffectKind `json:"kind"`
	MealPlan MealPlan   `json:"meal_plan,omitempty"`
	Expense  *Expense   `json:"expense,omitempty"`
	Note     *Note      `json:"note,omitempty"`
}

// Analysis is the classification returned for an uploaded document.
type Analysis struct {
	Classification string         `json:"type"`
	RoutingAction  string         `json:"routing_action"`
	Title          string         `json:"title"`
	Date           string         `json:"date"`
	Summary        string         `json:"summary"`
	ActionItems    []string       `json:"action_items"`
	ProposedEvent  *EventDraft    `json:"proposed_event,omitempty"`
	Applied        *AppliedEffect `json:"applied,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type DocumentUpload struct {
	ID               string   `json:"id"`
	Filename         string   `json:"filename"`
	OriginalFilename string   `json:"original_filename"`
	Analysis         Analysis `json:"analysis"`
}

func (u *DocumentUpload) Validate() error {
	a := u.Analysis
	if a.Error != "" {
		return fmt.Errorf("document analysis failed: %s", a.Error)
	}
	if a.ProposedEvent != nil && a.Applied != nil {
		return shapeError("documents", "both a proposed event and an applied effect")
	}
	if a.Applied != nil {
		switch a.Applied.Kind {
		case EffectMealPlan, EffectExpense, EffectNote:
		default:
			return shapeError("documents", "unknown effect %q", a.Applied.Kind)
		}
	}
	return nil
}

type menuUpload struct {
	FullPlanning MealPlan `json:"full_planning"`
}

func (m *menuUpload) Validate() error {
	if m.FullPlanning == nil {
		return shapeError("meals", "upload returned no planning")
	}
	return m.FullPlanning.Validate()
}

type receiptUpload struct {
	Status  string   `json:"status"`
	Expense *Expense `json:"expense"`
}

func (r *receiptUpload) Validate() error {
	if r.Expense == nil || r.Expense.ID == "" {
		return shapeError("budget", "upload returned no expense")
	}
	return nil
}
