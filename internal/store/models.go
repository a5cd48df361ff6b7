package store

import "time"

type Outcome string

const (
	OutcomePlayed  Outcome = "played"
	OutcomeSpoken  Outcome = "spoken"
	OutcomeFailed  Outcome = "failed"
	OutcomeDropped Outcome = "dropped"
)

// BriefingRun is one attempt to play a briefing, including scheduler
// matches that were dropped because something else was playing.
type BriefingRun struct {
	ID               string    `json:"id"`
	BriefingID       string    `json:"briefing_id"`
	Trigger          string    `json:"trigger"`
	Outcome          Outcome   `json:"outcome"`
	Detail           string    `json:"detail,omitempty"`
	DevicesCommanded int       `json:"devices_commanded"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
